package sendflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

// ComputeFee recomputes the fee of form with a fresh builder. In drain mode
// the amount becomes the balance minus the fee. Builder failures are
// reported in Errors.Tx with the fee cleared. Forms without an amount or a
// recipient are returned unchanged.
func ComputeFee(builder transaction.Builder, form FormContext, frozen []wire.OutPoint) FormContext {
	if form.Amount == nil || form.Recipient == "" {
		return form
	}

	builder = builder.FeeRate(form.FeeRate).ExcludeOutpoints(frozen)
	if form.Drain {
		builder = builder.DrainWallet().DrainTo(form.Recipient)
	} else {
		builder = builder.AddRecipient(form.Amount.Amount(), form.Recipient)
	}

	draft, err := builder.Finish()
	if err != nil {
		return withTxError(form, err)
	}

	fee := Sats(draft.Fee())
	if fee < 0 {
		return withTxError(form, fmt.Errorf("draft reported a negative fee: %d", fee))
	}
	if form.Drain {
		net := form.Balance - fee
		if net <= 0 {
			return withTxError(form, fmt.Errorf("%w: balance %s cannot cover fee %s", transaction.ErrInsufficientFunds, form.Balance, fee))
		}
		form.Amount = sats(net)
	}

	form.Fee = sats(fee)
	form.Errors.Tx = ""
	return form
}

func withTxError(form FormContext, err error) FormContext {
	form.Fee = nil
	form.Errors.Tx = err.Error()
	return form
}

// computeFee runs ComputeFee against the account's current wallet state.
func (e *Engine) computeFee(ctx context.Context, form FormContext) FormContext {
	if form.Amount == nil || form.Recipient == "" {
		return form
	}

	builder, err := e.wallet.BuildTransaction(ctx, form.Account.ID)
	if err != nil {
		e.metrics.RecordFeeComputation(form.Drain, err)
		return withTxError(form, err)
	}
	frozen, err := e.wallet.FrozenOutpoints(ctx, form.Account.ID)
	if err != nil {
		e.metrics.RecordFeeComputation(form.Drain, err)
		return withTxError(form, err)
	}

	form = ComputeFee(builder, form, frozen)
	if form.Fee == nil {
		e.metrics.RecordFeeComputation(form.Drain, errors.New(form.Errors.Tx))
	} else {
		e.metrics.RecordFeeComputation(form.Drain, nil)
	}
	return form
}
