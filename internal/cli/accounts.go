package cli

import (
	"github.com/spf13/cobra"

	"fints-agent/internal/domain"
)

// openBank is open plus the check that a login is configured.
func (a *App) openBank(cmd *cobra.Command) (*runtime, error) {
	rt, err := a.open(cmd.Context())
	if err != nil {
		return nil, err
	}
	if err := rt.cfg.RequireBank(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (a *App) accountsCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			rt, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			overviews, err := rt.accounts.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			return printAccounts(a.Out, overviews, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatPretty, "output format: pretty, tsv or json")
	return cmd
}

func (a *App) transactionsCommand() *cobra.Command {
	var (
		iban       string
		days       int
		format     string
		maxPurpose int
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Show booked transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			rt, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			txs, err := rt.accounts.Transactions(cmd.Context(), iban, days)
			if err != nil {
				return err
			}
			return printTransactions(a.Out, txs, format, maxPurpose)
		},
	}
	cmd.Flags().StringVar(&iban, "iban", "", "account IBAN (default: the only account)")
	cmd.Flags().IntVar(&days, "days", 90, "how many days back")
	cmd.Flags().StringVar(&format, "format", formatPretty, "output format: pretty, tsv or json")
	cmd.Flags().IntVar(&maxPurpose, "max-purpose", 110, "truncate purpose text to this many characters (0 keeps all)")
	return cmd
}

type capabilityReport struct {
	Provider     string                    `json:"provider"`
	ProviderName string                    `json:"provider_name,omitempty"`
	Backend      string                    `json:"backend"`
	Capabilities domain.CapabilitySnapshot `json:"capabilities"`
}

func (a *App) capabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Show what the bank supports for this login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			caps, err := rt.accounts.Capabilities(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(a.Out, capabilityReport{
				Provider:     rt.cfg.Provider.ID,
				ProviderName: rt.cfg.Provider.Name,
				Backend:      rt.cfg.Bank.Backend,
				Capabilities: caps,
			})
		},
	}
}
