package sendflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/Maphikza/btc-wallet-sendflow/internal/logger"
	"github.com/Maphikza/btc-wallet-sendflow/internal/metrics"
	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
	"github.com/Maphikza/btc-wallet-sendflow/lib/rates"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

// Wallet resolves accounts and builds drafts for them.
type Wallet interface {
	Account(ctx context.Context, accountID string) (wallet.Account, error)
	BuildTransaction(ctx context.Context, accountID string) (transaction.Builder, error)
	FrozenOutpoints(ctx context.Context, accountID string) ([]wire.OutPoint, error)
}

// FeeEstimator returns fee rates in sat/vB keyed by confirmation target.
type FeeEstimator interface {
	FeeEstimates(ctx context.Context, params *chaincfg.Params) (transaction.FeeEstimates, error)
}

type RateProvider interface {
	ExchangeRates(ctx context.Context) (rates.Quotes, error)
}

// Host owns interface lifecycle, input state and background events.
// GetInterface must return an error wrapping ErrInterfaceNotFound once an
// interface is resolved or unknown. A nil or JSON null resolution means the
// user cancelled.
type Host interface {
	CreateInterface(ctx context.Context, screen string, data json.RawMessage) (string, error)
	UpdateInterface(ctx context.Context, id, screen string, data json.RawMessage) error
	GetInterface(ctx context.Context, id string) (string, json.RawMessage, error)
	GetInterfaceState(ctx context.Context, id string) (map[string]string, error)
	ResolveInterface(ctx context.Context, id string, result json.RawMessage) error
	WaitForResolution(ctx context.Context, id string) (json.RawMessage, error)
	ScheduleBackgroundEvent(ctx context.Context, delay time.Duration, interfaceID string) (string, error)
	CancelBackgroundEvent(ctx context.Context, eventID string) error
	Preferences(ctx context.Context) (Preferences, error)
}

type Config struct {
	FallbackFeeRate float64
	FeeTargetBlocks int
	RefreshInterval time.Duration
	// FiatCurrency is used when the host has no currency preference.
	FiatCurrency string
}

func (c Config) withDefaults() Config {
	if c.FallbackFeeRate <= 0 {
		c.FallbackFeeRate = 4
	}
	if c.FeeTargetBlocks <= 0 {
		c.FeeTargetBlocks = transaction.TargetHalfHour
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.FiatCurrency == "" {
		c.FiatCurrency = "usd"
	}
	return c
}

// Engine drives the send form and review screens of every open interface.
type Engine struct {
	wallet  Wallet
	fees    FeeEstimator
	rates   RateProvider
	host    Host
	cfg     Config
	metrics *metrics.SendFlowMetrics

	locks sync.Map // interface id -> *sync.Mutex

	// spawn runs detached refreshes.
	spawn func(func())
	now   func() time.Time
}

func NewEngine(w Wallet, fees FeeEstimator, rateProvider RateProvider, host Host, cfg Config) *Engine {
	return &Engine{
		wallet:  w,
		fees:    fees,
		rates:   rateProvider,
		host:    host,
		cfg:     cfg.withDefaults(),
		metrics: metrics.NewSendFlowMetrics(),
		spawn:   func(fn func()) { go fn() },
		now:     time.Now,
	}
}

// Display opens a send form for accountID and blocks until the interface is
// resolved.
func (e *Engine) Display(ctx context.Context, accountID string) (*TransactionRequest, error) {
	id, err := e.Start(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, id)
}

// Start creates the send form and launches its first rate refresh without
// waiting for it.
func (e *Engine) Start(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", ErrAccountNotFound
	}
	account, err := e.wallet.Account(ctx, accountID)
	if err != nil {
		return "", err
	}

	prefs, err := e.host.Preferences(ctx)
	if err != nil {
		logger.Error("Failed to read preferences:", err)
	}

	form := FormContext{
		Account:  AccountRef{ID: account.ID, Address: account.Address},
		Network:  account.Network.Name,
		Currency: CurrencyFor(account.Network),
		Balance:  Sats(account.Balance),
		FeeRate:  e.cfg.FallbackFeeRate,
		Locale:   prefs.Locale,
	}
	data, err := json.Marshal(form)
	if err != nil {
		return "", err
	}

	id, err := e.host.CreateInterface(ctx, ScreenForm, data)
	if err != nil {
		return "", fmt.Errorf("failed to create send form: %w", err)
	}
	log.Printf("Send form %s opened for account %s on %s", id, account.ID, form.Network)

	e.startRefresh(ctx, id)
	return id, nil
}

// Wait blocks until the interface resolves.
func (e *Engine) Wait(ctx context.Context, interfaceID string) (*TransactionRequest, error) {
	result, err := e.host.WaitForResolution(ctx, interfaceID)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, ErrUserCancelled
	}

	var req TransactionRequest
	if err := json.Unmarshal(result, &req); err != nil {
		return nil, fmt.Errorf("failed to decode transaction request: %w", err)
	}
	return &req, nil
}

// OnFormInput applies a form event to the interface.
func (e *Engine) OnFormInput(ctx context.Context, interfaceID string, event FormEvent) error {
	switch event {
	case FormCancel:
		return e.cancel(ctx, interfaceID)
	case FormClearRecipient:
		return e.mutateForm(ctx, interfaceID, func(form FormContext, _ map[string]string) FormContext {
			return applyClearRecipient(form)
		})
	case FormSetMax:
		return e.mutateForm(ctx, interfaceID, func(form FormContext, _ map[string]string) FormContext {
			return e.computeFee(ctx, applySetMax(form))
		})
	case FormRecipient:
		return e.mutateForm(ctx, interfaceID, func(form FormContext, state map[string]string) FormContext {
			form = applyRecipient(form, state[InputRecipient])
			if form.Errors.Recipient != "" {
				return form
			}
			return e.computeFee(ctx, form)
		})
	case FormAmount:
		return e.mutateForm(ctx, interfaceID, func(form FormContext, state map[string]string) FormContext {
			form = applyAmount(form, state[InputAmount])
			if form.Errors.Amount != "" {
				return form
			}
			return e.computeFee(ctx, form)
		})
	case FormConfirm:
		return e.confirm(ctx, interfaceID)
	case FormRefreshRates:
		e.refresh(ctx, interfaceID, "")
		return nil
	default:
		return fmt.Errorf("%w: form event %q", ErrUnrecognizedEvent, event)
	}
}

// OnReviewInput applies a review event. review is the current review context.
func (e *Engine) OnReviewInput(ctx context.Context, interfaceID string, event ReviewEvent, review ReviewContext) error {
	switch event {
	case ReviewHeaderBack:
		if review.SendForm == nil {
			log.Printf("Review %s has no form to return to, closing", interfaceID)
			return e.resolve(ctx, interfaceID, nil)
		}

		unlock := e.lock(interfaceID)
		form := *review.SendForm
		form.BackgroundEventID = ""
		err := e.saveForm(ctx, interfaceID, form)
		unlock()
		if err != nil {
			return err
		}
		log.Printf("Interface %s returned to the send form", interfaceID)

		e.startRefresh(ctx, interfaceID)
		return nil
	case ReviewSend:
		req := &TransactionRequest{
			Recipient: review.Recipient,
			Amount:    review.Amount,
			FeeRate:   review.FeeRate,
		}
		log.Printf("Interface %s resolved with %s sats to %s", interfaceID, req.Amount, req.Recipient)
		return e.resolve(ctx, interfaceID, req)
	default:
		return fmt.Errorf("%w: review event %q", ErrUnrecognizedEvent, event)
	}
}

// Dispatch routes a named event to the handler of the interface's current
// screen.
func (e *Engine) Dispatch(ctx context.Context, interfaceID, name string) error {
	screen, data, err := e.host.GetInterface(ctx, interfaceID)
	if err != nil {
		return err
	}

	switch screen {
	case ScreenForm:
		event, err := ParseFormEvent(name)
		if err != nil {
			return err
		}
		return e.OnFormInput(ctx, interfaceID, event)
	case ScreenReview:
		event, err := ParseReviewEvent(name)
		if err != nil {
			return err
		}
		var review ReviewContext
		if err := json.Unmarshal(data, &review); err != nil {
			return fmt.Errorf("failed to decode review context: %w", err)
		}
		return e.OnReviewInput(ctx, interfaceID, event, review)
	default:
		return fmt.Errorf("%w: unknown screen %q", ErrInconsistentState, screen)
	}
}

// Form returns the persisted form of an interface showing the send form.
func (e *Engine) Form(ctx context.Context, interfaceID string) (FormContext, error) {
	screen, data, err := e.host.GetInterface(ctx, interfaceID)
	if err != nil {
		return FormContext{}, err
	}
	if screen != ScreenForm {
		return FormContext{}, fmt.Errorf("%w: interface %s shows %s", ErrInconsistentState, interfaceID, screen)
	}

	var form FormContext
	if err := json.Unmarshal(data, &form); err != nil {
		return FormContext{}, fmt.Errorf("failed to decode form context: %w", err)
	}
	return form, nil
}

// Review returns the persisted review of an interface showing the review
// screen.
func (e *Engine) Review(ctx context.Context, interfaceID string) (ReviewContext, error) {
	screen, data, err := e.host.GetInterface(ctx, interfaceID)
	if err != nil {
		return ReviewContext{}, err
	}
	if screen != ScreenReview {
		return ReviewContext{}, fmt.Errorf("%w: interface %s shows %s", ErrInconsistentState, interfaceID, screen)
	}

	var review ReviewContext
	if err := json.Unmarshal(data, &review); err != nil {
		return ReviewContext{}, fmt.Errorf("failed to decode review context: %w", err)
	}
	return review, nil
}

func (e *Engine) mutateForm(ctx context.Context, interfaceID string, apply func(FormContext, map[string]string) FormContext) error {
	unlock := e.lock(interfaceID)
	defer unlock()

	form, err := e.Form(ctx, interfaceID)
	if err != nil {
		return err
	}
	state, err := e.host.GetInterfaceState(ctx, interfaceID)
	if err != nil {
		return fmt.Errorf("failed to read interface state: %w", err)
	}

	return e.saveForm(ctx, interfaceID, apply(form, state))
}

func (e *Engine) confirm(ctx context.Context, interfaceID string) error {
	unlock := e.lock(interfaceID)
	defer unlock()

	form, err := e.Form(ctx, interfaceID)
	if err != nil {
		return err
	}
	if form.Amount == nil || form.Recipient == "" || form.Fee == nil {
		return fmt.Errorf("%w: confirm requires amount, recipient and fee", ErrInconsistentState)
	}

	e.cancelBackgroundEvent(ctx, form.BackgroundEventID)
	form.BackgroundEventID = ""

	snapshot := form
	review := ReviewContext{
		From:         form.Account.Address,
		Network:      form.Network,
		Currency:     form.Currency,
		ExchangeRate: form.ExchangeRate,
		Recipient:    form.Recipient,
		Amount:       *form.Amount,
		FeeRate:      form.FeeRate,
		Fee:          *form.Fee,
		Locale:       form.Locale,
		SendForm:     &snapshot,
	}
	data, err := json.Marshal(review)
	if err != nil {
		return err
	}
	if err := e.host.UpdateInterface(ctx, interfaceID, ScreenReview, data); err != nil {
		return fmt.Errorf("failed to show review: %w", err)
	}
	log.Printf("Interface %s moved to review", interfaceID)
	return nil
}

// cancel holds the interface lock until the interface is resolved, so a
// refresh waiting on the lock finds it gone.
func (e *Engine) cancel(ctx context.Context, interfaceID string) error {
	unlock := e.lock(interfaceID)
	defer unlock()

	form, err := e.Form(ctx, interfaceID)
	if err == nil {
		e.cancelBackgroundEvent(ctx, form.BackgroundEventID)
	}
	if err != nil && !errors.Is(err, ErrInconsistentState) {
		return err
	}

	log.Printf("Interface %s cancelled", interfaceID)
	return e.resolveLocked(ctx, interfaceID, nil)
}

func (e *Engine) resolve(ctx context.Context, interfaceID string, req *TransactionRequest) error {
	unlock := e.lock(interfaceID)
	defer unlock()
	return e.resolveLocked(ctx, interfaceID, req)
}

// resolveLocked resolves the interface and records the outcome once. The
// caller holds the interface lock.
func (e *Engine) resolveLocked(ctx context.Context, interfaceID string, req *TransactionRequest) error {
	result := json.RawMessage("null")
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		result = data
	}

	if err := e.host.ResolveInterface(ctx, interfaceID, result); err != nil {
		return fmt.Errorf("failed to resolve interface: %w", err)
	}
	e.metrics.RecordFlow(req != nil)
	e.locks.Delete(interfaceID)
	return nil
}

func (e *Engine) saveForm(ctx context.Context, interfaceID string, form FormContext) error {
	data, err := json.Marshal(form)
	if err != nil {
		return err
	}
	if err := e.host.UpdateInterface(ctx, interfaceID, ScreenForm, data); err != nil {
		return fmt.Errorf("failed to update send form: %w", err)
	}
	return nil
}

func (e *Engine) cancelBackgroundEvent(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := e.host.CancelBackgroundEvent(ctx, eventID); err != nil {
		logger.Error("Failed to cancel background event", eventID, ":", err)
	}
}

// lock serializes read-modify-write cycles on one interface.
func (e *Engine) lock(interfaceID string) func() {
	mu, _ := e.locks.LoadOrStore(interfaceID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func applyClearRecipient(form FormContext) FormContext {
	form.Recipient = ""
	form.Fee = nil
	form.Errors.Recipient = ""
	form.Errors.Tx = ""
	return form
}

func applySetMax(form FormContext) FormContext {
	form.Drain = true
	form.Amount = sats(form.Balance)
	form.Fee = nil
	form.Errors.Amount = ""
	form.Errors.Tx = ""
	return form
}

// applyRecipient validates raw. An invalid address leaves the form without
// a recipient, and so without a fee.
func applyRecipient(form FormContext, raw string) FormContext {
	recipient, err := validateRecipient(raw, form.Network)
	if err != nil {
		form.Recipient = ""
		form.Fee = nil
		form.Errors.Recipient = err.Error()
		return form
	}

	form.Recipient = recipient
	form.Errors.Recipient = ""
	form.Errors.Tx = ""
	return form
}

// applyAmount parses raw. An invalid amount only records the error; the
// previous amount, drain flag and fee stay as they were.
func applyAmount(form FormContext, raw string) FormContext {
	amount, err := parseAmount(raw, form.Balance)
	if err != nil {
		form.Errors.Amount = err.Error()
		return form
	}

	form.Amount = sats(amount)
	form.Drain = false
	form.Fee = nil
	form.Errors.Amount = ""
	form.Errors.Tx = ""
	return form
}
