package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"fints-agent/internal/bank"
	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

// lines returns the shared line reader over a.In.
func (a *App) lines() *bufio.Reader {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.In)
	}
	return a.reader
}

// ask prints label and reads one trimmed line.
func (a *App) ask(label string) (string, error) {
	fmt.Fprint(a.Err, label)
	line, err := a.lines().ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errors.Wrap(errors.Aborted, "no input", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *App) askYesNo(ctx context.Context, label string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	answer, err := a.ask(label + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "j", "ja":
		return true, nil
	}
	return false, nil
}

// terminalPrompter answers transfer questions on the terminal.
type terminalPrompter struct {
	app *App
}

func (p terminalPrompter) ConfirmTransfer(ctx context.Context, req domain.TransferRequest) (bool, error) {
	w := p.app.Err
	fmt.Fprintln(w, "Transfer:")
	printRequest(w, req)
	return p.app.askYesNo(ctx, "Send transfer?")
}

func (p terminalPrompter) ConfirmVoP(ctx context.Context, challenge bank.VoPChallenge) (bool, error) {
	w := p.app.Err
	fmt.Fprintf(w, "Payee verification: %s\n", challenge.Match)
	if challenge.ExpectedName != "" {
		fmt.Fprintf(w, "  You entered:   %s\n", challenge.ExpectedName)
	}
	if challenge.ReturnedName != "" {
		fmt.Fprintf(w, "  Bank reports:  %s\n", challenge.ReturnedName)
	}
	if challenge.Message != "" {
		fmt.Fprintf(w, "  %s\n", challenge.Message)
	}
	return p.app.askYesNo(ctx, "Continue with this payee?")
}

func (p terminalPrompter) TAN(ctx context.Context, challenge bank.TANChallenge) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if challenge.Method.Name != "" {
		fmt.Fprintf(p.app.Err, "TAN method: %s\n", challenge.Method.Name)
	}
	if challenge.Challenge != "" {
		fmt.Fprintln(p.app.Err, challenge.Challenge)
	}
	tan, err := p.app.ask("TAN: ")
	if err != nil {
		return "", err
	}
	if tan == "" {
		return "", errors.NewAppError(errors.Aborted, "no TAN entered")
	}
	return tan, nil
}
