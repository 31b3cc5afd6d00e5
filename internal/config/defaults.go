package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBLZ             = "12030000"
	DefaultServer          = "https://fints.dkb.de/fints"
	DefaultProductID       = "6151256F3D4F9975B877BD4A2"
	DefaultBackend         = "sim"
	DefaultKeychainService = "fints-agent-pin"

	DefaultPollInterval    = 2 * time.Second
	DefaultPollTimeout     = 300 * time.Second
	DefaultMinPollInterval = 1 * time.Second

	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Bank: BankConfig{
			BLZ:     DefaultBLZ,
			Server:  DefaultServer,
			Backend: DefaultBackend,
			Options: map[string]string{},
		},
		Provider: ProviderConfig{
			ID:   "dkb",
			Name: "DKB",
		},
		Keychain: KeychainConfig{
			Service: DefaultKeychainService,
		},
		Transfer: TransferConfig{
			PollInterval:    DefaultPollInterval,
			PollTimeout:     DefaultPollTimeout,
			MinPollInterval: DefaultMinPollInterval,
			VoPAutoAccept:   []string{"match"},
		},
		Store: StoreConfig{
			Driver: StoreDriverFile,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// setDefaults registers every key with viper so that env overrides apply on Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("bank.blz", cfg.Bank.BLZ)
	v.SetDefault("bank.server", cfg.Bank.Server)
	v.SetDefault("bank.user_id", cfg.Bank.UserID)
	v.SetDefault("bank.customer_id", cfg.Bank.CustomerID)
	v.SetDefault("bank.product_id", cfg.Bank.ProductID)
	v.SetDefault("bank.backend", cfg.Bank.Backend)
	v.SetDefault("provider.id", cfg.Provider.ID)
	v.SetDefault("provider.name", cfg.Provider.Name)
	v.SetDefault("keychain.service", cfg.Keychain.Service)
	v.SetDefault("keychain.account", cfg.Keychain.Account)
	v.SetDefault("transfer.poll_interval", cfg.Transfer.PollInterval)
	v.SetDefault("transfer.poll_timeout", cfg.Transfer.PollTimeout)
	v.SetDefault("transfer.min_poll_interval", cfg.Transfer.MinPollInterval)
	v.SetDefault("transfer.vop_auto_accept", cfg.Transfer.VoPAutoAccept)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.dir", cfg.Store.Dir)
	v.SetDefault("store.dsn", cfg.Store.DSN)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
}
