package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "fints-agent/internal/errors"
)

const (
	EnvPrefix    = "FINTS_AGENT"
	EnvProductID = "FINTS_AGENT_PRODUCT_ID"
)

// Load reads the config file at path (the default location when empty) and applies
// FINTS_AGENT_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := loadFile(v, path); err != nil && !os.IsNotExist(err) {
		return nil, apperrors.Wrap(apperrors.ConfigError, fmt.Sprintf("failed to read config %s", path), err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ConfigError, "failed to decode config", err)
	}
	if cfg.Bank.Options == nil {
		cfg.Bank.Options = map[string]string{}
	}

	cfg.Path = path
	return cfg, nil
}

func loadFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return err
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	return v.ReadInConfig()
}

// Save writes the config back to cfg.Path with owner-only permissions.
func Save(cfg *Config) error {
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, cfg.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Chmod(cfg.Path, 0o600)
}

// EffectiveProductID returns the registered FinTS product id, falling back to
// FINTS_AGENT_PRODUCT_ID and then to the built-in default.
func (c *Config) EffectiveProductID() string {
	if id := strings.TrimSpace(c.Bank.ProductID); id != "" {
		return id
	}
	if id := strings.TrimSpace(os.Getenv(EnvProductID)); id != "" {
		return id
	}
	return DefaultProductID
}

// KeychainAccount is the secret store account for the PIN, the user id unless overridden.
func (c *Config) KeychainAccount() string {
	if c.Keychain.Account != "" {
		return c.Keychain.Account
	}
	return c.Bank.UserID
}

// RequireBank checks that enough is configured to open a bank dialog.
func (c *Config) RequireBank() error {
	if strings.TrimSpace(c.Bank.UserID) == "" {
		return apperrors.NewAppError(apperrors.ConfigError, "no user id configured").
			WithDetails("run 'fints-agent onboard' first")
	}
	if c.Bank.Backend != DefaultBackend && (c.Bank.BLZ == "" || c.Bank.Server == "") {
		return apperrors.NewAppError(apperrors.ConfigError, "bank code and server URL are required")
	}
	return nil
}

// StateDir is where local state such as pending transfers lives.
func (c *Config) StateDir() string {
	if c.Store.Dir != "" {
		return expandHome(c.Store.Dir)
	}
	if c.Path != "" {
		return filepath.Dir(c.Path)
	}
	return AppDir()
}

// PendingDir holds one file per pending transfer.
func (c *Config) PendingDir() string {
	return filepath.Join(c.StateDir(), "pending")
}

// ProvidersPath is the user override file for the provider catalog.
func (c *Config) ProvidersPath() string {
	return filepath.Join(c.StateDir(), "providers.json")
}

// AppDir returns ~/.config/fints-agent
func AppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fints-agent")
	}
	return filepath.Join(home, ".config", "fints-agent")
}

// DefaultPath returns the path to the config file
func DefaultPath() string {
	return filepath.Join(AppDir(), "config.yaml")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
