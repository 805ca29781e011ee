package main

import (
	"fmt"

	"github.com/Maphikza/btc-wallet-sendflow/internal/config"
	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
	"github.com/Maphikza/btc-wallet-sendflow/internal/host"
	"github.com/Maphikza/btc-wallet-sendflow/internal/logger"
	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
	"github.com/Maphikza/btc-wallet-sendflow/lib/rates"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

// runtime bundles everything a send flow needs. close releases the
// database, the wallet and the fee source.
type runtime struct {
	db     *walletstatedb.Store
	host   *host.Host
	engine *sendflow.Engine
	close  func()
}

func newFeeSource(cfg config.Settings) (sendflow.FeeEstimator, func(), error) {
	switch cfg.FeeSource {
	case "", "mempool":
		return transaction.NewMempoolFeeClient(cfg.MempoolAPIURL), func() {}, nil
	case "electrum":
		client, err := transaction.NewElectrumFeeClient(transaction.ElectrumConfig{
			ServerAddr: cfg.ElectrumServer,
			UseSSL:     cfg.ElectrumUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown fee source %q", cfg.FeeSource)
}

func newWallet(cfg config.Settings, db *walletstatedb.Store) (sendflow.Wallet, func(), error) {
	switch cfg.WalletBackend {
	case "", "sqlite":
		return wallet.NewStoreWallet(db), func() {}, nil
	case "btcwallet":
		params, err := wallet.NetworkParams(cfg.Network)
		if err != nil {
			return nil, nil, err
		}
		w, err := wallet.OpenBtcWallet(params, cfg.WalletDir, []byte(cfg.WalletPubPass))
		if err != nil {
			return nil, nil, err
		}
		return w, func() {
			if err := w.Close(); err != nil {
				logger.Error("Failed to close wallet:", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown wallet backend %q", cfg.WalletBackend)
}

func newRuntime(cfg config.Settings) (*runtime, error) {
	db, err := walletstatedb.InitSQLiteDB(cfg.WalletDBPath)
	if err != nil {
		return nil, err
	}

	fees, closeFees, err := newFeeSource(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	w, closeWallet, err := newWallet(cfg, db)
	if err != nil {
		closeFees()
		db.Close()
		return nil, err
	}

	h := host.New(host.NewSQLiteStore(db), sendflow.Preferences{
		Locale:   cfg.Locale,
		Currency: cfg.FiatCurrency,
	})
	engine := sendflow.NewEngine(w, fees, rates.NewClient(cfg.MempoolAPIURL), h, sendflow.Config{
		FallbackFeeRate: cfg.FallbackFeeRate,
		FeeTargetBlocks: cfg.FeeTargetBlocks,
		RefreshInterval: cfg.RefreshInterval,
		FiatCurrency:    cfg.FiatCurrency,
	})
	h.SetBackgroundHandler(engine.HandleBackgroundEvent)

	return &runtime{
		db:     db,
		host:   h,
		engine: engine,
		close: func() {
			closeWallet()
			closeFees()
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database:", err)
			}
		},
	}, nil
}
