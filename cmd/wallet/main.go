package main

import (
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Maphikza/btc-wallet-sendflow/internal/config"
	"github.com/Maphikza/btc-wallet-sendflow/internal/logger"
	"github.com/Maphikza/btc-wallet-sendflow/internal/metrics"
)

var settings config.Settings

var rootCmd = &cobra.Command{
	Use:   "sendflow",
	Short: "Bitcoin send flow",
	Long:  `Opens send forms for wallet accounts, keeps fee rates fresh and returns the reviewed transaction request.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(utxoCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	var err error
	settings, err = config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	err = logger.Init(logger.Options{
		Path:       settings.LogFile,
		MaxSizeMB:  settings.LogMaxSizeMB,
		MaxBackups: settings.LogMaxBackups,
	})
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.RegisterHTTP(prometheus.DefaultRegisterer)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
