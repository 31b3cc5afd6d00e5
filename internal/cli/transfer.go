package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
	"fints-agent/internal/service"
)

type transferFlags struct {
	fromIBAN   string
	toIBAN     string
	toBIC      string
	toName     string
	amount     string
	reason     string
	senderName string
	endToEndID string
	instant    bool

	yes     bool
	auto    bool
	autoVoP bool

	pollInterval time.Duration
	pollTimeout  time.Duration
}

func (f *transferFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.fromIBAN, "from-iban", "", "sender IBAN (default: the only account)")
	flags.StringVar(&f.toIBAN, "to-iban", "", "recipient IBAN")
	flags.StringVar(&f.toBIC, "to-bic", "", "recipient BIC")
	flags.StringVar(&f.toName, "to-name", "", "recipient name")
	flags.StringVar(&f.amount, "amount", "", "amount in EUR, e.g. 12.34")
	flags.StringVar(&f.reason, "reason", "", "purpose line")
	flags.StringVar(&f.senderName, "sender-name", "", "account holder name sent to the bank")
	flags.StringVar(&f.endToEndID, "end-to-end-id", "", "SEPA end-to-end reference")
	flags.BoolVar(&f.instant, "instant", false, "send as SEPA instant credit transfer")

	flags.BoolVarP(&f.yes, "yes", "y", false, "do not ask before sending")
	flags.BoolVar(&f.autoVoP, "auto-vop", false, "accept configured payee verification results without asking (implies --yes)")
	flags.BoolVar(&f.auto, "auto", false, "same as --yes --auto-vop")
}

func (f *transferFlags) registerPolling(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 0, "interval between approval checks (default from config)")
	cmd.Flags().DurationVar(&f.pollTimeout, "poll-timeout", 0, "how long to wait for app approval (default from config)")
}

func (f *transferFlags) request() (domain.TransferRequest, error) {
	if f.amount == "" {
		return domain.TransferRequest{}, errors.NewAppError(errors.ValidationError, "--amount is required")
	}
	amount, err := domain.ParseAmount(f.amount)
	if err != nil {
		return domain.TransferRequest{}, err
	}
	req := domain.NewTransferRequest(f.fromIBAN, f.toIBAN, f.toBIC, f.toName, amount, f.reason)
	req.SenderName = f.senderName
	req.EndToEndID = f.endToEndID
	req.Instant = f.instant
	return req, nil
}

func (f *transferFlags) options(a *App, pollTimeout time.Duration) service.ExecuteOptions {
	if f.pollTimeout > 0 {
		pollTimeout = f.pollTimeout
	}
	return service.ExecuteOptions{
		ConfirmBeforeSend: !f.yes && !f.auto,
		AutoConfirm:       f.auto || f.autoVoP,
		PollInterval:      f.pollInterval,
		PollTimeout:       pollTimeout,
		Prompter:          terminalPrompter{app: a},
	}
}

func (a *App) transferCommand() *cobra.Command {
	var (
		f      transferFlags
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send a SEPA transfer and wait for app approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := service.ModeSync
			if dryRun {
				mode = service.ModeDryRun
			}
			return a.runTransfer(cmd.Context(), &f, mode)
		},
	}
	f.register(cmd)
	f.registerPolling(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only, never contact the bank")
	return cmd
}

func (a *App) transferSubmitCommand() *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "transfer-submit",
		Short: "Send a SEPA transfer and return once the bank asks for app approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTransfer(cmd.Context(), &f, service.ModeAsyncSubmit)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *App) runTransfer(ctx context.Context, f *transferFlags, mode service.Mode) error {
	req, err := f.request()
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if mode != service.ModeDryRun {
		if err := rt.cfg.RequireBank(); err != nil {
			return err
		}
	}

	outcome, err := rt.transfers.Execute(ctx, req, mode, f.options(a, rt.cfg.Transfer.PollTimeout))

	switch {
	case err != nil:
		printOutcome(a.Out, outcome, err)
		return err
	case outcome.Kind == domain.OutcomeDryRunValidated:
		fmt.Fprintln(a.Out, "DRY-RUN OK (no order sent)")
		printRequest(a.Out, req)
	case outcome.Kind == domain.OutcomePending:
		fmt.Fprintln(a.Out, "Transfer submitted, waiting for approval in the banking app.")
		printResumeHint(a.Out, outcome.PendingID)
	default:
		printOutcome(a.Out, outcome, nil)
	}
	return nil
}

func (a *App) transferStatusCommand() *cobra.Command {
	var (
		id       string
		wait     bool
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "transfer-status",
		Short: "Check a pending transfer (default: the newest open one)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if id == "" {
				rec, err := rt.transfers.LatestPending(ctx)
				if err != nil {
					return err
				}
				id = rec.ID
			}

			opts := service.PollOptions{Wait: wait, Interval: interval, Timeout: rt.cfg.Transfer.PollTimeout}
			if cmd.Flags().Changed("poll-timeout") {
				opts.Timeout = timeout
			}

			outcome, err := rt.transfers.PollPending(ctx, id, opts)
			printOutcome(a.Out, outcome, err)
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "pending transfer id")
	cmd.Flags().BoolVar(&wait, "wait", false, "keep polling until the transfer is final or the timeout passes")
	cmd.Flags().DurationVar(&interval, "poll-interval", 0, "interval between approval checks (default from config)")
	cmd.Flags().DurationVar(&timeout, "poll-timeout", 0, "how long --wait polls (default from config)")
	return cmd
}

func (a *App) transferListCommand() *cobra.Command {
	var (
		all    bool
		status string
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "transfer-list",
		Short: "List pending transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			filter := domain.PendingFilter{LiveOnly: !all, Limit: limit}
			if status != "" {
				filter.Status = domain.PendingStatus(status)
				if !filter.Status.Valid() {
					return errors.NewAppErrorf(errors.InvalidInput, "unknown status %q", status)
				}
				filter.LiveOnly = false
			}

			rt, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			records, err := rt.transfers.ListPending(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printPendingList(a.Out, records, format)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved and expired transfers")
	cmd.Flags().StringVar(&status, "status", "", "only transfers in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	cmd.Flags().StringVar(&format, "format", formatPretty, "output format: pretty, tsv or json")
	return cmd
}

func (a *App) transferDiscardCommand() *cobra.Command {
	var (
		id    string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "transfer-discard",
		Short: "Delete a pending transfer record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.NewAppError(errors.InvalidInput, "--id is required")
			}
			rt, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.transfers.DiscardPending(cmd.Context(), id, force); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Discarded %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "pending transfer id")
	cmd.Flags().BoolVar(&force, "force", false, "discard even if the approval is still open")
	return cmd
}
