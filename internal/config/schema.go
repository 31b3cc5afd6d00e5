package config

import "time"

// Config represents the full fints-agent configuration
type Config struct {
	Bank     BankConfig     `yaml:"bank" mapstructure:"bank"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Keychain KeychainConfig `yaml:"keychain" mapstructure:"keychain"`
	Transfer TransferConfig `yaml:"transfer" mapstructure:"transfer"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`

	// Path is the file the config was loaded from and is saved to.
	Path string `yaml:"-" mapstructure:"-"`
}

// BankConfig identifies the bank endpoint and the online banking login
type BankConfig struct {
	BLZ        string `yaml:"blz" mapstructure:"blz"`
	Server     string `yaml:"server" mapstructure:"server"`
	UserID     string `yaml:"user_id" mapstructure:"user_id"`
	CustomerID string `yaml:"customer_id,omitempty" mapstructure:"customer_id"`
	ProductID  string `yaml:"product_id,omitempty" mapstructure:"product_id"`

	// Backend names the registered bank.Dialer implementation.
	Backend string            `yaml:"backend" mapstructure:"backend"`
	Options map[string]string `yaml:"options,omitempty" mapstructure:"options"`
}

// ProviderConfig records which catalog entry the bank settings came from
type ProviderConfig struct {
	ID   string `yaml:"id,omitempty" mapstructure:"id"`
	Name string `yaml:"name,omitempty" mapstructure:"name"`
}

// KeychainConfig locates the PIN in the OS secret store
type KeychainConfig struct {
	Service string `yaml:"service" mapstructure:"service"`
	Account string `yaml:"account,omitempty" mapstructure:"account"`
}

// TransferConfig tunes the decoupled approval polling
type TransferConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PollTimeout     time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout"`
	MinPollInterval time.Duration `yaml:"min_poll_interval" mapstructure:"min_poll_interval"`
	// VoPAutoAccept lists the payee verification results that --yes may accept without asking.
	VoPAutoAccept []string `yaml:"vop_auto_accept" mapstructure:"vop_auto_accept"`
}

// StoreConfig selects the pending transfer store
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Dir    string `yaml:"dir,omitempty" mapstructure:"dir"`
	DSN    string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}
