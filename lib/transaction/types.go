package transaction

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

type FeeRecommendation struct {
	FastestFee  int `json:"fastestFee"`
	HalfHourFee int `json:"halfHourFee"`
	HourFee     int `json:"hourFee"`
	EconomyFee  int `json:"economyFee"`
	MinimumFee  int `json:"minimumFee"`
}

// FeeEstimates maps a confirmation target in blocks to a fee rate in sat/vB.
type FeeEstimates map[int]float64

// Config holds the configuration for the Electrum fee source
type ElectrumConfig struct {
	ServerAddr string
	UseSSL     bool
}

// UTXO is a spendable output known to the wallet.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}

// Builder assembles a draft transaction. Methods chain; errors surface from
// Finish.
type Builder interface {
	AddRecipient(amount btcutil.Amount, address string) Builder
	FeeRate(satPerVByte float64) Builder
	DrainWallet() Builder
	DrainTo(address string) Builder
	ExcludeOutpoints(outpoints []wire.OutPoint) Builder
	Finish() (Draft, error)
}

// Draft is an unsigned, fee-computed transaction.
type Draft interface {
	Fee() btcutil.Amount
}
