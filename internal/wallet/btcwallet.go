package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

const (
	dbTimeout      = time.Second * 120
	recoveryWindow = uint32(250)
	minConf        = 1
	maxConf        = 9999999
)

var waddrmgrNamespace = []byte("waddrmgr")

// BtcWallet exposes an existing btcwallet database. Account ids are
// btcwallet account names under the BIP84 key scope; locked outpoints are
// treated as frozen.
type BtcWallet struct {
	w      *wallet.Wallet
	loader *wallet.Loader
}

var _ Source = (*BtcWallet)(nil)

// OpenBtcWallet opens the wallet stored in walletDir with the public passphrase.
func OpenBtcWallet(params *chaincfg.Params, walletDir string, pubPass []byte) (*BtcWallet, error) {
	loader := wallet.NewLoader(params, walletDir, false, dbTimeout, recoveryWindow)
	log.Printf("Wallet loader initialized with timeout: %v", dbTimeout)

	exists, err := loader.WalletExists()
	if err != nil {
		return nil, fmt.Errorf("error checking wallet existence: %v", err)
	}
	if !exists {
		return nil, fmt.Errorf("no wallet found in %s", walletDir)
	}

	openStart := time.Now()
	w, err := loader.OpenExistingWallet(pubPass, false)
	if err != nil {
		return nil, fmt.Errorf("error opening wallet: %v", err)
	}
	log.Printf("Existing wallet opened successfully after %v", time.Since(openStart))

	return &BtcWallet{w: w, loader: loader}, nil
}

// NewBtcWallet wraps an already opened wallet.
func NewBtcWallet(w *wallet.Wallet) *BtcWallet {
	return &BtcWallet{w: w}
}

func (b *BtcWallet) Close() error {
	if b.loader == nil {
		return nil
	}
	return b.loader.UnloadWallet()
}

func (b *BtcWallet) Account(ctx context.Context, accountID string) (Account, error) {
	number, err := b.accountNumber(accountID)
	if err != nil {
		return Account{}, err
	}

	addr, err := b.receiveAddress(number)
	if err != nil {
		return Account{}, fmt.Errorf("failed to get receive address: %v", err)
	}
	utxos, err := b.unspent(accountID)
	if err != nil {
		return Account{}, err
	}
	frozen, err := b.FrozenOutpoints(ctx, accountID)
	if err != nil {
		return Account{}, err
	}

	return Account{
		ID:      accountID,
		Address: addr.EncodeAddress(),
		Network: b.w.ChainParams(),
		Balance: spendableBalance(utxos, frozen),
	}, nil
}

// BuildTransaction returns a draft builder whose change pays to the
// account's current receive address.
func (b *BtcWallet) BuildTransaction(ctx context.Context, accountID string) (transaction.Builder, error) {
	number, err := b.accountNumber(accountID)
	if err != nil {
		return nil, err
	}
	utxos, err := b.unspent(accountID)
	if err != nil {
		return nil, err
	}

	changeAddr, err := b.receiveAddress(number)
	if err != nil {
		return nil, fmt.Errorf("failed to get change address: %v", err)
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create change script: %v", err)
	}

	return transaction.NewDraftBuilder(b.w.ChainParams(), utxos, changeScript), nil
}

func (b *BtcWallet) FrozenOutpoints(ctx context.Context, accountID string) ([]wire.OutPoint, error) {
	if _, err := b.accountNumber(accountID); err != nil {
		return nil, err
	}

	locked := b.w.LockedOutpoints()
	outpoints := make([]wire.OutPoint, 0, len(locked))
	for _, in := range locked {
		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse locked outpoint: %v", err)
		}
		outpoints = append(outpoints, *wire.NewOutPoint(hash, in.Vout))
	}
	return outpoints, nil
}

// receiveAddress returns the last unused external address of account,
// deriving the next one when it has been used. It reads the address manager
// directly and so works without a chain backend.
func (b *BtcWallet) receiveAddress(account uint32) (btcutil.Address, error) {
	manager, err := b.w.Manager.FetchScopedKeyManager(waddrmgr.KeyScopeBIP0084)
	if err != nil {
		return nil, err
	}

	var addr btcutil.Address
	err = walletdb.Update(b.w.Database(), func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(waddrmgrNamespace)
		last, err := manager.LastExternalAddress(ns, account)
		if err == nil && !last.Used(ns) {
			addr = last.Address()
			return nil
		}
		if err != nil && !waddrmgr.IsError(err, waddrmgr.ErrAddressNotFound) {
			return err
		}

		next, err := manager.NextExternalAddresses(ns, account, 1)
		if err != nil {
			return err
		}
		addr = next[0].Address()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

func (b *BtcWallet) accountNumber(accountID string) (uint32, error) {
	if accountID == "" {
		return 0, ErrAccountNotFound
	}
	number, err := b.w.AccountNumber(waddrmgr.KeyScopeBIP0084, accountID)
	if err != nil {
		if waddrmgr.IsError(err, waddrmgr.ErrAccountNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to look up account: %v", err)
	}
	return number, nil
}

func (b *BtcWallet) unspent(accountID string) ([]transaction.UTXO, error) {
	results, err := b.w.ListUnspent(minConf, maxConf, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent outputs: %v", err)
	}

	utxos := make([]transaction.UTXO, 0, len(results))
	for _, r := range results {
		hash, err := chainhash.NewHashFromStr(r.TxID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse txid: %v", err)
		}
		value, err := btcutil.NewAmount(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo amount: %v", err)
		}
		pkScript, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode script: %v", err)
		}
		utxos = append(utxos, transaction.UTXO{
			OutPoint: *wire.NewOutPoint(hash, r.Vout),
			Value:    value,
			PkScript: pkScript,
		})
	}
	return utxos, nil
}
