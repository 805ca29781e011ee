package sendflow

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Maphikza/btc-wallet-sendflow/internal/logger"
	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
)

// RefreshRates refreshes fee and exchange rates of an open send form and
// schedules the next refresh. It never fails: fetch errors keep the previous
// values, and a resolved interface or one showing another screen ends the
// loop.
func (e *Engine) RefreshRates(ctx context.Context, interfaceID string) {
	e.refresh(ctx, interfaceID, "")
}

// HandleBackgroundEvent runs the refresh eventID was scheduled for. Events
// that are no longer the form's current handle are ignored.
func (e *Engine) HandleBackgroundEvent(ctx context.Context, interfaceID, eventID string) {
	e.refresh(ctx, interfaceID, eventID)
}

// startRefresh runs a refresh detached from the caller. Its result is only
// observable through the persisted form.
func (e *Engine) startRefresh(ctx context.Context, interfaceID string) {
	detached := context.WithoutCancel(ctx)
	e.spawn(func() {
		e.refresh(detached, interfaceID, "")
	})
}

func (e *Engine) refresh(ctx context.Context, interfaceID, eventID string) {
	form, ok := e.currentForm(ctx, interfaceID, eventID)
	if !ok {
		e.metrics.RecordRefresh(false)
		return
	}
	params, err := wallet.NetworkParams(form.Network)
	if err != nil {
		logger.Error("Refresh stopped for interface", interfaceID, ":", err)
		e.metrics.RecordRefresh(false)
		return
	}

	// Network calls happen outside the interface lock.
	start := e.now()
	feeRate, feeOK := e.fetchFeeRate(ctx, params)
	quote := e.fetchExchangeRate(ctx, params)
	e.metrics.RecordFetchDuration(e.now().Sub(start))

	unlock := e.lock(interfaceID)
	defer unlock()

	form, ok = e.currentForm(ctx, interfaceID, eventID)
	if !ok {
		e.metrics.RecordRefresh(false)
		return
	}

	if feeOK {
		form.FeeRate = feeRate
	}
	if quote != nil {
		form.ExchangeRate = quote
	}
	form = e.computeFee(ctx, form)

	if form.BackgroundEventID != eventID {
		e.cancelBackgroundEvent(ctx, form.BackgroundEventID)
	}
	form.BackgroundEventID = ""

	next, err := e.host.ScheduleBackgroundEvent(ctx, e.cfg.RefreshInterval, interfaceID)
	if err != nil {
		logger.Error("Failed to schedule refresh for interface", interfaceID, ":", err)
	} else {
		form.BackgroundEventID = next
	}

	if err := e.saveForm(ctx, interfaceID, form); err != nil {
		logger.Error("Failed to save refreshed form", interfaceID, ":", err)
		e.cancelBackgroundEvent(ctx, next)
		e.metrics.RecordRefresh(false)
		return
	}
	e.metrics.RecordRefresh(true)
}

// currentForm loads the form a refresh applies to. It reports false when the
// interface is gone, shows another screen, or eventID is stale.
func (e *Engine) currentForm(ctx context.Context, interfaceID, eventID string) (FormContext, bool) {
	form, err := e.Form(ctx, interfaceID)
	switch {
	case errors.Is(err, ErrInterfaceNotFound), errors.Is(err, ErrInconsistentState):
		return FormContext{}, false
	case err != nil:
		logger.Error("Failed to load form for refresh", interfaceID, ":", err)
		return FormContext{}, false
	}

	if eventID != "" && form.BackgroundEventID != eventID {
		log.Printf("Ignoring stale refresh event %s for interface %s", eventID, interfaceID)
		return FormContext{}, false
	}
	return form, true
}

// fetchFeeRate returns the estimate for the configured target, or the
// fallback rate when the source has none. It reports false when the fetch
// failed.
func (e *Engine) fetchFeeRate(ctx context.Context, params *chaincfg.Params) (float64, bool) {
	estimates, err := e.fees.FeeEstimates(ctx, params)
	if err != nil {
		logger.Error("Failed to fetch fee estimates:", err)
		e.metrics.RecordFetchError("fees")
		return 0, false
	}
	if rate, ok := estimates[e.cfg.FeeTargetBlocks]; ok && rate > 0 {
		return rate, true
	}
	return e.cfg.FallbackFeeRate, true
}

// fetchExchangeRate returns the quote for the preferred fiat currency.
// Quotes are only fetched on mainnet.
func (e *Engine) fetchExchangeRate(ctx context.Context, params *chaincfg.Params) *ExchangeRate {
	if e.rates == nil || params.Net != chaincfg.MainNetParams.Net {
		return nil
	}

	currency := e.cfg.FiatCurrency
	if prefs, err := e.host.Preferences(ctx); err == nil && prefs.Currency != "" {
		currency = prefs.Currency
	}

	quotes, err := e.rates.ExchangeRates(ctx)
	if err != nil {
		logger.Error("Failed to fetch exchange rates:", err)
		e.metrics.RecordFetchError("rates")
		return nil
	}
	rate, ok := quotes.Rate(currency)
	if !ok {
		return nil
	}

	date := quotes.Time
	if date.IsZero() {
		date = e.now().UTC()
	}
	return &ExchangeRate{
		Currency:       strings.ToLower(currency),
		ConversionRate: rate,
		ConversionDate: date,
	}
}
