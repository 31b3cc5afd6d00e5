package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fints-agent/internal/credentials"
	"fints-agent/internal/logger"
	"fints-agent/internal/server"
)

func (a *App) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve transfers and pending approvals over a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, consoleLog, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireBank(); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}

			// Requests cannot prompt, so the PIN is resolved once up front.
			resolver := credentials.NewResolver(bankCredentials(cfg), cfg.KeychainAccount(), a.pinProvider(cfg, consoleLog))
			creds, err := resolver.Resolve(ctx)
			if err != nil {
				return err
			}

			level := cfg.Log.Level
			if a.debug {
				level = "debug"
			}
			log := logger.NewJSON(a.Err, level).With().Str("service", binaryName).Logger()

			rt, err := a.build(ctx, cfg, log, credentials.Static(creds))
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := server.NewServer(server.Services{
				Transfers:   rt.transfers,
				Accounts:    rt.accounts,
				PollTimeout: cfg.Transfer.PollTimeout,
				Backend:     cfg.Bank.Backend,
			}, log)

			bound, err := srv.Start(addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			fmt.Fprintf(a.Out, "Serving on http://%s\n", bound)

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
