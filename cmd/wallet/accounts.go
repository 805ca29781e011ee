package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts of the sqlite wallet backend",
}

var utxoCmd = &cobra.Command{
	Use:   "utxo",
	Short: "Manage unspent outputs of the sqlite wallet backend",
}

func init() {
	accountCmd.AddCommand(addAccountCmd)
	addAccountCmd.Flags().String("change", "", "Change address (defaults to the receive address)")

	utxoCmd.AddCommand(addUTXOCmd)
	utxoCmd.AddCommand(freezeUTXOCmd)
	utxoCmd.AddCommand(unfreezeUTXOCmd)
}

func openStore() *walletstatedb.Store {
	db, err := walletstatedb.InitSQLiteDB(settings.WalletDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func exitOnError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

var addAccountCmd = &cobra.Command{
	Use:   "add [account-id] [network] [address]",
	Short: "Add or update an account",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		params, err := wallet.NetworkParams(args[1])
		exitOnError("Invalid network", err)
		_, err = transaction.DecodeAddressForNet(args[2], params)
		exitOnError("Invalid address", err)

		change, _ := cmd.Flags().GetString("change")
		if change != "" {
			_, err = transaction.DecodeAddressForNet(change, params)
			exitOnError("Invalid change address", err)
		}

		db := openStore()
		defer db.Close()

		err = db.SaveAccount(walletstatedb.Account{
			ID:            args[0],
			Network:       params.Name,
			Address:       args[2],
			ChangeAddress: change,
		})
		exitOnError("Error saving account", err)

		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"account": args[0],
			"network": params.Name,
			"address": args[2],
		})
	},
}

var addUTXOCmd = &cobra.Command{
	Use:   "add [account-id] [txid:vout] [sats] [pkscript-hex]",
	Short: "Record an unspent output",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		op, err := transaction.ParseOutPoint(args[1])
		exitOnError("Invalid outpoint", err)
		value, err := strconv.ParseInt(args[2], 10, 64)
		if err == nil && value <= 0 {
			err = fmt.Errorf("value must be positive")
		}
		exitOnError("Invalid value", err)
		pkScript, err := hex.DecodeString(args[3])
		exitOnError("Invalid pkscript", err)

		db := openStore()
		defer db.Close()

		err = db.SaveUTXO(args[0], walletstatedb.UTXO{
			TxID:     op.Hash.String(),
			Vout:     op.Index,
			Value:    value,
			PkScript: pkScript,
		})
		exitOnError("Error saving output", err)
		fmt.Printf("Recorded %s for %s\n", op, args[0])
	},
}

var freezeUTXOCmd = &cobra.Command{
	Use:   "freeze [account-id] [txid:vout] [reason]",
	Short: "Exclude an output from coin selection",
	Args:  cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		op, err := transaction.ParseOutPoint(args[1])
		exitOnError("Invalid outpoint", err)
		reason := ""
		if len(args) > 2 {
			reason = args[2]
		}

		db := openStore()
		defer db.Close()

		err = db.FreezeOutpoint(args[0], walletstatedb.FrozenOutpoint{TxID: op.Hash.String(), Vout: op.Index, Reason: reason})
		exitOnError("Error freezing output", err)
		fmt.Printf("Froze %s\n", op)
	},
}

var unfreezeUTXOCmd = &cobra.Command{
	Use:   "unfreeze [account-id] [txid:vout]",
	Short: "Make a frozen output spendable again",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		op, err := transaction.ParseOutPoint(args[1])
		exitOnError("Invalid outpoint", err)

		db := openStore()
		defer db.Close()

		exitOnError("Error unfreezing output", db.UnfreezeOutpoint(args[0], op.Hash.String(), op.Index))
		fmt.Printf("Unfroze %s\n", op)
	},
}
