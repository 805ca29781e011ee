package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

// StoreWallet serves accounts kept in the SQLite wallet state database.
type StoreWallet struct {
	store *walletstatedb.Store
}

var _ Source = (*StoreWallet)(nil)

func NewStoreWallet(store *walletstatedb.Store) *StoreWallet {
	return &StoreWallet{store: store}
}

func (w *StoreWallet) Account(ctx context.Context, accountID string) (Account, error) {
	account, utxos, err := w.load(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	frozen, err := w.FrozenOutpoints(ctx, accountID)
	if err != nil {
		return Account{}, err
	}

	params, err := NetworkParams(account.Network)
	if err != nil {
		return Account{}, err
	}
	return Account{
		ID:      account.ID,
		Address: account.Address,
		Network: params,
		Balance: spendableBalance(utxos, frozen),
	}, nil
}

// BuildTransaction returns a fresh draft builder over the account's outputs.
// Change goes to the change address, or the receive address when none is set.
func (w *StoreWallet) BuildTransaction(ctx context.Context, accountID string) (transaction.Builder, error) {
	account, utxos, err := w.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	params, err := NetworkParams(account.Network)
	if err != nil {
		return nil, err
	}

	changeAddress := account.ChangeAddress
	if changeAddress == "" {
		changeAddress = account.Address
	}
	changeScript, err := transaction.ScriptForAddress(changeAddress, params)
	if err != nil {
		return nil, fmt.Errorf("invalid change address for account %s: %w", accountID, err)
	}

	return transaction.NewDraftBuilder(params, utxos, changeScript), nil
}

func (w *StoreWallet) FrozenOutpoints(ctx context.Context, accountID string) ([]wire.OutPoint, error) {
	rows, err := w.store.GetFrozenOutpoints(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load frozen outpoints: %w", err)
	}

	outpoints := make([]wire.OutPoint, 0, len(rows))
	for _, row := range rows {
		hash, err := chainhash.NewHashFromStr(row.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid frozen outpoint %s:%d: %w", row.TxID, row.Vout, err)
		}
		outpoints = append(outpoints, *wire.NewOutPoint(hash, row.Vout))
	}
	return outpoints, nil
}

func (w *StoreWallet) load(ctx context.Context, accountID string) (*walletstatedb.Account, []transaction.UTXO, error) {
	if accountID == "" {
		return nil, nil, ErrAccountNotFound
	}
	account, err := w.store.GetAccount(ctx, accountID)
	if errors.Is(err, walletstatedb.ErrNotFound) {
		return nil, nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load account: %w", err)
	}

	rows, err := w.store.GetUTXOs(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load utxos: %w", err)
	}

	utxos := make([]transaction.UTXO, 0, len(rows))
	for _, row := range rows {
		hash, err := chainhash.NewHashFromStr(row.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid utxo %s:%d: %w", row.TxID, row.Vout, err)
		}
		utxos = append(utxos, transaction.UTXO{
			OutPoint: *wire.NewOutPoint(hash, row.Vout),
			Value:    btcutil.Amount(row.Value),
			PkScript: row.PkScript,
		})
	}
	return account, utxos, nil
}
