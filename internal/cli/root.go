package cli

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fints-agent/internal/credentials"
	"fints-agent/internal/errors"
)

const binaryName = "fints-agent"

// App holds the process edges the commands talk to. Tests swap them for buffers
// and in-memory secret stores.
type App struct {
	In           io.Reader
	Out          io.Writer
	Err          io.Writer
	Secrets      credentials.SecretStore
	SecretPrompt credentials.SecretPrompt
	Version      string

	configPath string
	debug      bool
	noKeychain bool
	productID  string
	reader     *bufio.Reader
}

// NewApp wires the App to the real terminal and the OS keychain.
func NewApp(version string) *App {
	return &App{
		In:           os.Stdin,
		Out:          os.Stdout,
		Err:          os.Stderr,
		Secrets:      credentials.NewKeyringStore(),
		SecretPrompt: credentials.TerminalPrompt(os.Stdin, os.Stderr),
		Version:      version,
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	return NewApp(version).Run(os.Args[1:])
}

// Run executes args and maps the resulting error to an exit code. SIGINT and
// SIGTERM cancel the command context.
func (a *App) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := a.NewRootCommand()
	root.SetArgs(args)
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	if err := root.ExecuteContext(ctx); err != nil {
		return a.reportError(ctx, err)
	}
	return 0
}

func (a *App) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           binaryName,
		Short:         "FinTS banking from the command line",
		Long:          "fints-agent reads accounts and statements and sends SEPA transfers with app approval over FinTS.",
		Version:       a.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Wrap(errors.InvalidInput, "invalid arguments", err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.config/fints-agent/config.yaml)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&a.noKeychain, "no-keychain", false, "never read or write the OS keychain, always prompt for the PIN")
	flags.StringVar(&a.productID, "product-id", "", "registered FinTS product id")

	root.AddCommand(
		a.providersListCommand(),
		a.providersShowCommand(),
		a.initCommand(),
		a.onboardCommand(),
		a.keychainSetupCommand(),
		a.resetLocalCommand(),
		a.accountsCommand(),
		a.transactionsCommand(),
		a.capabilitiesCommand(),
		a.transferCommand(),
		a.transferSubmitCommand(),
		a.transferStatusCommand(),
		a.transferListCommand(),
		a.transferDiscardCommand(),
		a.serveCommand(),
	)

	return root
}

// reportError prints err and returns its exit code. Errors that left a
// pending transfer behind also print how to resume it.
func (a *App) reportError(ctx context.Context, err error) int {
	appErr, ok := errors.As(err)
	if !ok && (ctx.Err() != nil || stderrors.Is(err, context.Canceled)) {
		appErr, ok = errors.Wrap(errors.Aborted, "interrupted", err), true
	}
	if !ok {
		fmt.Fprintf(a.Err, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(a.Err, "Error: %s\n", appErr.Message)
	if appErr.Details != "" {
		fmt.Fprintf(a.Err, "  %s\n", appErr.Details)
	}
	if appErr.PendingID != "" && stillOpen(appErr.Code) {
		printResumeHint(a.Err, appErr.PendingID)
	}
	return appErr.ExitCode()
}

// stillOpen reports whether a failure with code leaves the approval unresolved.
func stillOpen(code errors.ErrorCode) bool {
	switch code {
	case errors.ApprovalTimeout, errors.ApprovalDeclined, errors.ApprovalExpired:
		return false
	}
	return true
}
