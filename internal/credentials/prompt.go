package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// SecretPrompt asks the operator for a value that must not be echoed.
type SecretPrompt func(label string) (string, error)

// TerminalPrompt reads a hidden line from the controlling terminal. When stdin
// is not a terminal it falls back to reading one line, which keeps piped input working.
func TerminalPrompt(in *os.File, out io.Writer) SecretPrompt {
	return func(label string) (string, error) {
		fmt.Fprint(out, label)
		fd := int(in.Fd())
		if term.IsTerminal(fd) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				return "", fmt.Errorf("failed to read input: %w", err)
			}
			return strings.TrimSpace(string(b)), nil
		}

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
}
