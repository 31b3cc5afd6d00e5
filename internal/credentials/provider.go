package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"fints-agent/internal/bank"
	apperrors "fints-agent/internal/errors"
)

const pinLabel = "Bank PIN: "

// Provider resolves the bank PIN from the secret store, falling back to an
// interactive prompt. The PIN is never logged.
type Provider struct {
	store       SecretStore
	service     string
	prompt      SecretPrompt
	useKeychain bool
	logger      zerolog.Logger
}

type Option func(*Provider)

// WithPrompt sets the interactive fallback.
func WithPrompt(prompt SecretPrompt) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithoutKeychain always prompts and never touches the secret store.
func WithoutKeychain() Option {
	return func(p *Provider) { p.useKeychain = false }
}

func NewProvider(store SecretStore, service string, logger zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		store:       store,
		service:     service,
		useKeychain: store != nil,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetPIN returns the PIN stored for account, prompting when none is stored.
func (p *Provider) GetPIN(account string) (string, error) {
	if p.useKeychain && account != "" {
		pin, err := p.store.Get(p.service, account)
		switch {
		case err == nil && pin != "":
			return pin, nil
		case err == nil, errors.Is(err, ErrSecretNotFound):
			p.logger.Debug().Str("service", p.service).Str("account", account).Msg("no PIN in keychain")
		default:
			p.logger.Warn().Err(err).Str("service", p.service).Msg("keychain unavailable, falling back to prompt")
		}
	}

	if p.prompt == nil {
		return "", apperrors.NewAppError(apperrors.AuthenticationError, "no PIN available").
			WithDetails("store one with 'fints-agent keychain-setup'")
	}
	pin, err := p.prompt(pinLabel)
	if err != nil {
		return "", apperrors.Wrap(apperrors.AuthenticationError, "failed to read PIN", err)
	}
	if pin == "" {
		return "", apperrors.NewAppError(apperrors.AuthenticationError, "empty PIN")
	}
	return pin, nil
}

// SetPIN stores pin for account.
func (p *Provider) SetPIN(account, pin string) error {
	if strings.TrimSpace(account) == "" {
		return apperrors.NewAppError(apperrors.InvalidInput, "keychain account is required")
	}
	if pin == "" {
		return apperrors.NewAppError(apperrors.InvalidInput, "PIN must not be empty")
	}
	if p.store == nil {
		return apperrors.NewAppError(apperrors.ConfigError, "no secret store available")
	}
	if err := p.store.Set(p.service, account, pin); err != nil {
		return apperrors.Wrap(apperrors.InternalError, "failed to store PIN", err)
	}
	p.logger.Info().Str("service", p.service).Str("account", account).Msg("PIN stored")
	return nil
}

// DeletePIN removes the stored PIN. A missing entry is not an error.
func (p *Provider) DeletePIN(account string) error {
	if p.store == nil || account == "" {
		return nil
	}
	if err := p.store.Delete(p.service, account); err != nil && !errors.Is(err, ErrSecretNotFound) {
		return apperrors.Wrap(apperrors.InternalError, "failed to delete PIN", err)
	}
	return nil
}

// Resolver turns configured login data plus a PIN into bank credentials.
type Resolver struct {
	base    bank.Credentials
	account string
	pins    *Provider
}

func NewResolver(base bank.Credentials, account string, pins *Provider) *Resolver {
	base.PIN = ""
	return &Resolver{base: base, account: account, pins: pins}
}

func (r *Resolver) Resolve(ctx context.Context) (bank.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return bank.Credentials{}, err
	}
	pin, err := r.pins.GetPIN(r.account)
	if err != nil {
		return bank.Credentials{}, err
	}
	creds := r.base
	creds.PIN = pin
	return creds, nil
}

// Static is a fixed credential set, used for non-interactive callers.
type Static bank.Credentials

func (s Static) Resolve(ctx context.Context) (bank.Credentials, error) {
	return bank.Credentials(s), nil
}
