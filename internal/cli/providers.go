package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fints-agent/internal/errors"
	"fints-agent/internal/providers"
)

func (a *App) loadProviders() (*providers.Registry, error) {
	cfg, _, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return providers.Load(cfg.ProvidersPath())
}

func (a *App) providersListCommand() *cobra.Command {
	var q providers.Query
	cmd := &cobra.Command{
		Use:   "providers-list",
		Short: "List known banks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.loadProviders()
			if err != nil {
				return err
			}
			list := registry.List(q)
			for _, p := range list {
				fmt.Fprintf(a.Out, "%s\t%s\t%s\t%s\n", p.ID, p.BLZ, p.Name, p.FinTSURL)
			}
			fmt.Fprintf(a.Out, "\nMatches: %d\n", len(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Search, "search", "", "filter by id, name or bank code")
	cmd.Flags().StringVar(&q.Country, "country", "", "filter by country code")
	cmd.Flags().IntVar(&q.Limit, "limit", 80, "maximum number of entries")
	return cmd
}

func (a *App) providersShowCommand() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "providers-show",
		Short: "Show one bank from the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ref == "" {
				return errors.NewAppError(errors.InvalidInput, "--provider is required")
			}
			registry, err := a.loadProviders()
			if err != nil {
				return err
			}
			p, err := registry.Resolve(ref)
			if err != nil {
				return err
			}
			return printJSON(a.Out, p)
		},
	}
	cmd.Flags().StringVar(&ref, "provider", "", "provider id, bank code or name")
	return cmd
}
