package cli

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fints-agent/internal/config"
	"fints-agent/internal/errors"
	"fints-agent/internal/providers"
)

func (a *App) printConfig(cfg *config.Config) error {
	fmt.Fprintf(a.Out, "Config saved at: %s\n", cfg.Path)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to encode config", err)
	}
	_, err = a.Out.Write(data)
	return err
}

func saveConfig(cfg *config.Config) error {
	if err := config.Save(cfg); err != nil {
		return errors.Wrap(errors.ConfigError, "failed to save config", err)
	}
	return nil
}

func (a *App) initCommand() *cobra.Command {
	var (
		provider        string
		blz             string
		server          string
		userID          string
		customerID      string
		backend         string
		keychainService string
		keychainAccount string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config without any prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig()
			if err != nil {
				return err
			}

			if provider != "" {
				registry, err := providers.Load(cfg.ProvidersPath())
				if err != nil {
					return err
				}
				p, err := registry.Resolve(provider)
				if err != nil {
					return err
				}
				if err := p.ApplyTo(cfg); err != nil {
					return err
				}
			}

			set := func(dst *string, v string) {
				if v != "" {
					*dst = strings.TrimSpace(v)
				}
			}
			set(&cfg.Bank.BLZ, blz)
			set(&cfg.Bank.Server, server)
			set(&cfg.Bank.UserID, userID)
			set(&cfg.Bank.CustomerID, customerID)
			set(&cfg.Bank.Backend, backend)
			set(&cfg.Keychain.Service, keychainService)
			set(&cfg.Keychain.Account, keychainAccount)

			if err := saveConfig(cfg); err != nil {
				return err
			}
			return a.printConfig(cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&provider, "provider", "", "bank from the catalog (id, bank code or name)")
	flags.StringVar(&blz, "blz", "", "bank code")
	flags.StringVar(&server, "server", "", "FinTS server URL")
	flags.StringVar(&userID, "user-id", "", "online banking login")
	flags.StringVar(&customerID, "customer-id", "", "customer id if it differs from the login")
	flags.StringVar(&backend, "backend", "", "bank backend")
	flags.StringVar(&keychainService, "keychain-service", "", "keychain service name for the PIN")
	flags.StringVar(&keychainAccount, "keychain-account", "", "keychain account for the PIN (default: user id)")
	return cmd
}

func (a *App) onboardCommand() *cobra.Command {
	var (
		provider string
		userID   string
	)
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Set up bank, login and PIN interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.loadConfig()
			if err != nil {
				return err
			}
			registry, err := providers.Load(cfg.ProvidersPath())
			if err != nil {
				return err
			}

			p, err := a.chooseProvider(registry, provider)
			if err != nil {
				return err
			}
			if err := p.ApplyTo(cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Bank: %s (%s)\n", p.Name, p.BLZ)

			if userID == "" {
				if userID, err = a.ask("Online banking login: "); err != nil {
					return err
				}
			}
			if strings.TrimSpace(userID) == "" {
				return errors.NewAppError(errors.InvalidInput, "login must not be empty")
			}
			cfg.Bank.UserID = strings.TrimSpace(userID)

			if !a.noKeychain {
				pin, err := a.SecretPrompt("Bank PIN (stored in the OS keychain): ")
				if err != nil {
					return errors.Wrap(errors.Aborted, "failed to read PIN", err)
				}
				if err := a.pinProvider(cfg, log).SetPIN(cfg.KeychainAccount(), pin); err != nil {
					return err
				}
				fmt.Fprintf(a.Out, "PIN stored in keychain (service %s, account %s)\n", cfg.Keychain.Service, cfg.KeychainAccount())
			}

			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Config saved at: %s\n", cfg.Path)
			fmt.Fprintf(a.Out, "Next: %s accounts\n", binaryName)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "bank from the catalog (id, bank code or name)")
	cmd.Flags().StringVar(&userID, "user-id", "", "online banking login")
	return cmd
}

// chooseProvider resolves ref, asking again on the terminal while the answer
// is ambiguous or unknown.
func (a *App) chooseProvider(registry *providers.Registry, ref string) (providers.Provider, error) {
	for {
		if ref == "" {
			answer, err := a.ask("Bank (name, id or bank code): ")
			if err != nil {
				return providers.Provider{}, err
			}
			ref = answer
		}
		p, err := registry.Resolve(ref)
		if err == nil {
			return p, nil
		}
		appErr, ok := errors.As(err)
		if !ok || (appErr.Code != errors.InvalidInput && appErr.Code != errors.ProviderNotFound) {
			return providers.Provider{}, err
		}
		fmt.Fprintf(a.Err, "%s\n", appErr.Message)
		if appErr.Details != "" {
			fmt.Fprintf(a.Err, "  %s\n", appErr.Details)
		}
		ref = ""
	}
}

func (a *App) keychainSetupCommand() *cobra.Command {
	var (
		userID  string
		service string
		account string
	)
	cmd := &cobra.Command{
		Use:   "keychain-setup",
		Short: "Store the bank PIN in the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.noKeychain {
				return errors.NewAppError(errors.InvalidInput, "keychain-setup cannot run with --no-keychain")
			}
			cfg, log, err := a.loadConfig()
			if err != nil {
				return err
			}
			if userID != "" {
				cfg.Bank.UserID = strings.TrimSpace(userID)
			}
			if service != "" {
				cfg.Keychain.Service = service
			}
			if account != "" {
				cfg.Keychain.Account = account
			}
			if cfg.KeychainAccount() == "" {
				return errors.NewAppError(errors.ConfigError, "no user id configured").
					WithDetails("pass --user-id or run 'fints-agent onboard'")
			}

			pin, err := a.SecretPrompt("Bank PIN: ")
			if err != nil {
				return errors.Wrap(errors.Aborted, "failed to read PIN", err)
			}
			if err := a.pinProvider(cfg, log).SetPIN(cfg.KeychainAccount(), pin); err != nil {
				return err
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Keychain setup OK. Service=%s, Account=%s\n", cfg.Keychain.Service, cfg.KeychainAccount())
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "online banking login")
	cmd.Flags().StringVar(&service, "keychain-service", "", "keychain service name")
	cmd.Flags().StringVar(&account, "keychain-account", "", "keychain account (default: user id)")
	return cmd
}

func (a *App) resetLocalCommand() *cobra.Command {
	var (
		yes       bool
		forgetPIN bool
	)
	cmd := &cobra.Command{
		Use:   "reset-local",
		Short: "Delete the local config and pending transfer records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.loadConfig()
			if err != nil {
				return err
			}

			var targets []string
			for _, path := range []string{cfg.Path, cfg.PendingDir(), cfg.ProvidersPath()} {
				if _, err := os.Stat(path); err == nil {
					targets = append(targets, path)
				}
			}
			if len(targets) == 0 && !forgetPIN {
				fmt.Fprintln(a.Out, "Nothing to remove.")
				return nil
			}

			fmt.Fprintln(a.Out, "This removes:")
			for _, path := range targets {
				fmt.Fprintf(a.Out, "  %s\n", path)
			}
			if forgetPIN {
				fmt.Fprintf(a.Out, "  keychain entry %s/%s\n", cfg.Keychain.Service, cfg.KeychainAccount())
			}
			if cfg.Store.Driver == config.StoreDriverPostgres {
				fmt.Fprintln(a.Out, "Pending transfers in PostgreSQL are kept.")
			}

			if !yes {
				ok, err := a.askYesNo(cmd.Context(), "Continue?")
				if err != nil {
					return err
				}
				if !ok {
					return errors.NewAppError(errors.Aborted, "nothing removed")
				}
			}

			if forgetPIN {
				if err := a.pinProvider(cfg, log).DeletePIN(cfg.KeychainAccount()); err != nil {
					return err
				}
			}
			for _, path := range targets {
				if err := os.RemoveAll(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
					return errors.Wrap(errors.InternalError, "failed to remove "+path, err)
				}
				fmt.Fprintf(a.Out, "Removed %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&forgetPIN, "forget-pin", false, "also delete the PIN from the keychain")
	return cmd
}
