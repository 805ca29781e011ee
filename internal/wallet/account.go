package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is the wallet's view of a spendable account.
type Account struct {
	ID      string
	Address string
	Network *chaincfg.Params
	// Balance excludes frozen outputs.
	Balance btcutil.Amount
}

// Source is implemented by every wallet backend the send flow can spend from.
type Source interface {
	Account(ctx context.Context, accountID string) (Account, error)
	BuildTransaction(ctx context.Context, accountID string) (transaction.Builder, error)
	FrozenOutpoints(ctx context.Context, accountID string) ([]wire.OutPoint, error)
}

// NetworkParams maps a network name to its chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case chaincfg.MainNetParams.Name, "bitcoin":
		return &chaincfg.MainNetParams, nil
	case chaincfg.TestNet3Params.Name, "testnet":
		return &chaincfg.TestNet3Params, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	case chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %s", name)
	}
}

func spendableBalance(utxos []transaction.UTXO, frozen []wire.OutPoint) btcutil.Amount {
	skip := make(map[wire.OutPoint]struct{}, len(frozen))
	for _, op := range frozen {
		skip[op] = struct{}{}
	}

	var total btcutil.Amount
	for _, u := range utxos {
		if _, ok := skip[u.OutPoint]; ok {
			continue
		}
		total += u.Value
	}
	return total
}
