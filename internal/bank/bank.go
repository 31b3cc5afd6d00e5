// Package bank defines the boundary to the FinTS session client. Protocol
// specific responses are normalized here into closed result variants before
// they reach the transfer orchestration.
package bank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fints-agent/internal/domain"
)

// Credentials identify the bank user. The PIN never leaves this struct in
// printable form.
type Credentials struct {
	BLZ        string
	Server     string
	UserID     string
	CustomerID string
	ProductID  string
	PIN        string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{BLZ:%s UserID:%s PIN:<redacted>}", c.BLZ, c.UserID)
}

func (c Credentials) GoString() string {
	return c.String()
}

// MarshalZerologObject keeps the PIN out of structured logs.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("blz", c.BLZ).Str("user_id", c.UserID).Str("server", c.Server)
}

// Dialer opens bank dialogs. Each orchestrator invocation owns the session it opens.
type Dialer interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
	// Resume reopens a dialog from a resume token produced by an earlier
	// DecoupledChallenge or PollResult.
	Resume(ctx context.Context, creds Credentials, token []byte) (Session, error)
}

// Session is one open FinTS dialog.
type Session interface {
	DiscoverCapabilities(ctx context.Context) (domain.CapabilitySnapshot, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	Balance(ctx context.Context, iban string) (domain.Balance, error)
	Transactions(ctx context.Context, iban string, from, to time.Time) ([]domain.Transaction, error)

	// SubmitTransfer sends the payment job. Callers invoke it at most once per request.
	SubmitTransfer(ctx context.Context, req domain.TransferRequest) (SubmitResult, error)
	ConfirmVoP(ctx context.Context, challenge VoPChallenge, accept bool) (SubmitResult, error)
	SendTAN(ctx context.Context, challenge TANChallenge, tan string) (SubmitResult, error)
	PollDecoupled(ctx context.Context, token []byte) (PollResult, error)

	Close() error
}

// Factory builds a Dialer for a configured backend name. Options come from the
// bank.options config map.
type Factory func(logger zerolog.Logger, options map[string]string) (Dialer, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. A FinTS wire client plugs in here.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewDialer returns the Dialer registered under name.
func NewDialer(name string, logger zerolog.Logger, options map[string]string) (Dialer, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown bank backend %q (available: %v)", name, Backends())
	}
	return factory(logger, options)
}

func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
