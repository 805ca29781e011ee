package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the typed view of the loaded configuration.
type Settings struct {
	Env     string
	Network string

	WalletBackend string
	WalletDBPath  string
	WalletDir     string
	WalletName    string
	WalletPubPass string

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	FallbackFeeRate float64
	FeeTargetBlocks int
	RefreshInterval time.Duration

	FeeSource      string
	MempoolAPIURL  string
	ElectrumServer string
	ElectrumUseSSL bool

	Locale       string
	FiatCurrency string

	APIPort       int
	AllowedOrigin string
	JWTSecret     string
	UserPubKey    string
}

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	// A missing .env is normal; values may come from the real environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".") // Path to look for the config file in
	viper.SetEnvPrefix("SENDFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create a default one
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	// Ensure we have sensible defaults in case they are not in the config file
	setDefaults()

	return nil
}

// Load reads the configuration and returns it as Settings.
func Load() (Settings, error) {
	if err := LoadConfig(); err != nil {
		return Settings{}, err
	}
	return Current(), nil
}

// Current returns the settings from the already loaded viper state.
func Current() Settings {
	return Settings{
		Env:     viper.GetString("ENV"),
		Network: viper.GetString("network"),

		WalletBackend: viper.GetString("wallet_backend"),
		WalletDBPath:  viper.GetString("wallet_db_path"),
		WalletDir:     viper.GetString("wallet_dir"),
		WalletName:    viper.GetString("wallet_name"),
		WalletPubPass: viper.GetString("wallet_pub_pass"),

		LogFile:       viper.GetString("log_file"),
		LogMaxSizeMB:  viper.GetInt("log_max_size_mb"),
		LogMaxBackups: viper.GetInt("log_max_backups"),

		FallbackFeeRate: viper.GetFloat64("fallback_fee_rate"),
		FeeTargetBlocks: viper.GetInt("fee_target_blocks"),
		RefreshInterval: viper.GetDuration("refresh_interval"),

		FeeSource:      viper.GetString("fee_source"),
		MempoolAPIURL:  viper.GetString("mempool_api_url"),
		ElectrumServer: viper.GetString("electrum_server"),
		ElectrumUseSSL: viper.GetBool("electrum_use_ssl"),

		Locale:       viper.GetString("locale"),
		FiatCurrency: viper.GetString("fiat_currency"),

		APIPort:       viper.GetInt("api_port"),
		AllowedOrigin: viper.GetString("allowed_origin"),
		JWTSecret:     viper.GetString("jwt_secret"),
		UserPubKey:    viper.GetString("user_pubkey"),
	}
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	// Check the current environment (default is development)
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	// Set defaults for development and production environments
	if env == "development" {
		viper.SetDefault("network", "testnet3")
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("wallet_db_path", "./dev_sendflow.db")
		viper.SetDefault("log_file", "./sendflow.log")
	} else if env == "production" {
		viper.SetDefault("network", "mainnet")
		viper.SetDefault("allowed_origin", "https://my-production-site.com")
		viper.SetDefault("wallet_db_path", "/var/lib/bitcoin-wallet/sendflow.db")
		viper.SetDefault("log_file", "/var/log/bitcoin-wallet/sendflow.log")
	}

	// Common defaults for both environments
	viper.SetDefault("wallet_backend", "sqlite") // or "btcwallet"
	viper.SetDefault("wallet_dir", "./wallets")
	viper.SetDefault("wallet_name", "")
	viper.SetDefault("wallet_pub_pass", "public")
	viper.SetDefault("log_max_size_mb", 10)
	viper.SetDefault("log_max_backups", 3)
	viper.SetDefault("fallback_fee_rate", 4.0) // sat/vB
	viper.SetDefault("fee_target_blocks", 3)
	viper.SetDefault("refresh_interval", "30s")
	viper.SetDefault("fee_source", "mempool") // or "electrum"
	viper.SetDefault("mempool_api_url", "https://mempool.space")
	viper.SetDefault("electrum_server", "electrum.blockstream.info:50002")
	viper.SetDefault("electrum_use_ssl", true)
	viper.SetDefault("locale", "en")
	viper.SetDefault("fiat_currency", "usd")
	viper.SetDefault("api_port", 9003)
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("user_pubkey", "") // hex nostr key allowed to log in
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	// Write the default configuration to a file
	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			// If the config already exists, attempt to overwrite it
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}
