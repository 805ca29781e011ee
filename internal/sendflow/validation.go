package sendflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

const satsDecimals = 8

var (
	errInvalidAmount     = errors.New("invalid amount")
	errAmountNotPositive = errors.New("amount must be greater than zero")
	errAmountPrecision   = errors.New("amount has more than 8 decimal places")
	errAmountOverBalance = errors.New("amount exceeds available balance")
)

// CurrencyFor returns the display unit for a network.
func CurrencyFor(params *chaincfg.Params) string {
	if params.Net == chaincfg.MainNetParams.Net {
		return "BTC"
	}
	return "tBTC"
}

// validateRecipient returns the canonical encoding of address on network.
func validateRecipient(address, network string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("recipient address is required")
	}
	params, err := wallet.NetworkParams(network)
	if err != nil {
		return "", err
	}
	addr, err := transaction.DecodeAddressForNet(address, params)
	if err != nil {
		return "", fmt.Errorf("invalid %s address: %v", params.Name, err)
	}
	return addr.EncodeAddress(), nil
}

// parseAmount converts a whole-coin amount string to satoshis.
func parseAmount(raw string, balance Sats) (Sats, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, errInvalidAmount
	}
	if !d.IsPositive() {
		return 0, errAmountNotPositive
	}

	shifted := d.Shift(satsDecimals)
	if !shifted.IsInteger() {
		return 0, errAmountPrecision
	}
	if shifted.GreaterThan(decimal.NewFromInt(int64(btcutil.MaxSatoshi))) {
		return 0, errInvalidAmount
	}

	amount := Sats(shifted.IntPart())
	if amount > balance {
		return 0, errAmountOverBalance
	}
	return amount, nil
}

// FormatCoins renders sats in whole-coin units.
func FormatCoins(s Sats) string {
	return decimal.New(int64(s), -satsDecimals).String()
}

// FiatValue renders the fiat value of s using rate. Display only.
func FiatValue(s Sats, rate *ExchangeRate) (string, bool) {
	if rate == nil || rate.ConversionRate <= 0 {
		return "", false
	}
	value := decimal.New(int64(s), -satsDecimals).Mul(decimal.NewFromFloat(rate.ConversionRate))
	return value.StringFixed(2) + " " + strings.ToUpper(rate.Currency), true
}
