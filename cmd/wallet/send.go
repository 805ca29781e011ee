package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
)

var sendCmd = &cobra.Command{
	Use:   "send [account-id]",
	Short: "Open a send form in the terminal",
	Long: `Open a send form for the account and drive it from the terminal.
Prints the transaction request as JSON once it is sent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := newRuntime(settings)
		exitOnError("Error starting send flow", err)
		defer rt.close()

		rt.host.SetUpdateHook(func(id, screen string, data json.RawMessage) {
			printScreen(screen, data)
		})

		req, err := runTerminalFlow(cmd.Context(), rt, args[0], bufio.NewReader(os.Stdin))
		if errors.Is(err, sendflow.ErrUserCancelled) {
			fmt.Println("Send cancelled.")
			return
		}
		exitOnError("Send flow failed", err)

		json.NewEncoder(os.Stdout).Encode(req)
	},
}

type flowResult struct {
	req *sendflow.TransactionRequest
	err error
}

func runTerminalFlow(ctx context.Context, rt *runtime, accountID string, reader *bufio.Reader) (*sendflow.TransactionRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := rt.engine.Start(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := make(chan flowResult, 1)
	go func() {
		req, err := rt.engine.Wait(ctx, id)
		result <- flowResult{req: req, err: err}
	}()

	lines := make(chan string)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	printHelp()
	for {
		select {
		case res := <-result:
			return res.req, res.err
		case line, ok := <-lines:
			if !ok {
				lines = nil
				if err := abandonFlow(ctx, rt, id); err != nil {
					return nil, err
				}
				continue
			}
			if err := handleCommand(ctx, rt, id, line); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

// abandonFlow cancels the flow when input ends. An interface that is
// already resolved is left alone so its result is still reported.
func abandonFlow(ctx context.Context, rt *runtime, id string) error {
	screen, _, err := rt.host.GetInterface(ctx, id)
	if errors.Is(err, sendflow.ErrInterfaceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if screen == sendflow.ScreenReview {
		if err := rt.engine.Dispatch(ctx, id, string(sendflow.ReviewHeaderBack)); err != nil {
			return err
		}
	}
	err = rt.engine.Dispatch(ctx, id, string(sendflow.FormCancel))
	if errors.Is(err, sendflow.ErrInterfaceNotFound) {
		return nil
	}
	return err
}

func handleCommand(ctx context.Context, rt *runtime, id, line string) error {
	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "to":
		if err := rt.host.SetInputState(ctx, id, sendflow.InputRecipient, arg); err != nil {
			return err
		}
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormRecipient))
	case "amount":
		if err := rt.host.SetInputState(ctx, id, sendflow.InputAmount, arg); err != nil {
			return err
		}
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormAmount))
	case "max":
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormSetMax))
	case "clear":
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormClearRecipient))
	case "refresh":
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormRefreshRates))
	case "confirm":
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormConfirm))
	case "cancel":
		return rt.engine.Dispatch(ctx, id, string(sendflow.FormCancel))
	case "back":
		return rt.engine.Dispatch(ctx, id, string(sendflow.ReviewHeaderBack))
	case "send":
		return rt.engine.Dispatch(ctx, id, string(sendflow.ReviewSend))
	case "help", "":
		printHelp()
		return nil
	}
	return fmt.Errorf("unknown command %q", command)
}

func printHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  to <address>     set the recipient")
	fmt.Println("  amount <btc>     set the amount")
	fmt.Println("  max              send the whole balance")
	fmt.Println("  clear            clear the recipient")
	fmt.Println("  refresh          refresh fee and exchange rates")
	fmt.Println("  confirm          review the transaction")
	fmt.Println("  back             return to the form from the review")
	fmt.Println("  send             send the reviewed transaction")
	fmt.Println("  cancel           abandon the send")
}

func printScreen(screen string, data json.RawMessage) {
	switch screen {
	case sendflow.ScreenForm:
		var form sendflow.FormContext
		if err := json.Unmarshal(data, &form); err != nil {
			fmt.Printf("Error decoding form: %v\n", err)
			return
		}
		printForm(form)
	case sendflow.ScreenReview:
		var review sendflow.ReviewContext
		if err := json.Unmarshal(data, &review); err != nil {
			fmt.Printf("Error decoding review: %v\n", err)
			return
		}
		printReview(review)
	}
}

func printForm(form sendflow.FormContext) {
	fmt.Println("\n--- Send ---")
	fmt.Printf("From:      %s (%s)\n", form.Account.Address, form.Network)
	fmt.Printf("Balance:   %s %s\n", sendflow.FormatCoins(form.Balance), form.Currency)
	fmt.Printf("Fee rate:  %.2f sat/vB\n", form.FeeRate)
	if form.Recipient != "" {
		fmt.Printf("To:        %s\n", form.Recipient)
	}
	if form.Amount != nil {
		line := fmt.Sprintf("Amount:    %s %s", sendflow.FormatCoins(*form.Amount), form.Currency)
		if fiat, ok := sendflow.FiatValue(*form.Amount, form.ExchangeRate); ok {
			line += " (" + fiat + ")"
		}
		if form.Drain {
			line += " [max]"
		}
		fmt.Println(line)
	}
	if form.Fee != nil {
		fmt.Printf("Fee:       %s %s\n", sendflow.FormatCoins(*form.Fee), form.Currency)
	}
	for _, msg := range []string{form.Errors.Recipient, form.Errors.Amount, form.Errors.Tx} {
		if msg != "" {
			fmt.Printf("! %s\n", msg)
		}
	}
}

func printReview(review sendflow.ReviewContext) {
	fmt.Println("\n--- Review ---")
	fmt.Printf("From:      %s (%s)\n", review.From, review.Network)
	fmt.Printf("To:        %s\n", review.Recipient)
	fmt.Printf("Amount:    %s %s\n", sendflow.FormatCoins(review.Amount), review.Currency)
	fmt.Printf("Fee:       %s %s (%.2f sat/vB)\n", sendflow.FormatCoins(review.Fee), review.Currency, review.FeeRate)
	if total, ok := sendflow.FiatValue(review.Amount+review.Fee, review.ExchangeRate); ok {
		fmt.Printf("Total:     %s\n", total)
	}
}
