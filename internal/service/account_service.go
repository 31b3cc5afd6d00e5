package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fints-agent/internal/bank"
	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

// AccountService runs the read-only queries: accounts, balances, statements
// and capabilities. Each call opens and closes its own dialog.
type AccountService struct {
	dialer       bank.Dialer
	credentials  CredentialResolver
	capabilities *CapabilityService
	logger       zerolog.Logger
	now          func() time.Time
}

func NewAccountService(dialer bank.Dialer, credentials CredentialResolver, capabilities *CapabilityService, logger zerolog.Logger) *AccountService {
	return &AccountService{
		dialer:       dialer,
		credentials:  credentials,
		capabilities: capabilities,
		logger:       logger,
		now:          time.Now,
	}
}

// AccountOverview is an account with its current balance. Balance is nil when
// the bank could not report it.
type AccountOverview struct {
	Account domain.Account  `json:"account"`
	Balance *domain.Balance `json:"balance,omitempty"`
}

func (s *AccountService) withSession(ctx context.Context, fn func(bank.Session) error) error {
	creds, err := s.credentials.Resolve(ctx)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.Wrap(errors.AuthenticationError, "failed to resolve credentials", err)
	}

	session, err := s.dialer.Open(ctx, creds)
	if err != nil {
		return dialError(ctx, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close bank dialog")
		}
	}()

	return fn(session)
}

func (s *AccountService) Accounts(ctx context.Context) ([]AccountOverview, error) {
	var overview []AccountOverview
	err := s.withSession(ctx, func(session bank.Session) error {
		accounts, err := session.Accounts(ctx)
		if err != nil {
			return errors.Wrap(errors.ProtocolError, "failed to list accounts", err)
		}

		overview = make([]AccountOverview, 0, len(accounts))
		for _, acc := range accounts {
			item := AccountOverview{Account: acc}
			bal, err := session.Balance(ctx, acc.IBAN)
			if err != nil {
				s.logger.Warn().Err(err).Str("iban", domain.MaskIBAN(acc.IBAN)).Msg("failed to fetch balance")
			} else {
				item.Balance = &bal
			}
			overview = append(overview, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int("accounts", len(overview)).Msg("accounts fetched")
	return overview, nil
}

// Transactions fetches the statement of the last days for iban. An empty iban
// selects the only account; several accounts require an explicit choice.
func (s *AccountService) Transactions(ctx context.Context, iban string, days int) ([]domain.Transaction, error) {
	if days <= 0 {
		return nil, errors.NewAppError(errors.InvalidInput, "days must be positive")
	}
	iban = domain.NormalizeIBAN(iban)

	var txs []domain.Transaction
	err := s.withSession(ctx, func(session bank.Session) error {
		accounts, err := session.Accounts(ctx)
		if err != nil {
			return errors.Wrap(errors.ProtocolError, "failed to list accounts", err)
		}
		account, err := pickAccount(accounts, iban)
		if err != nil {
			return err
		}

		to := s.now()
		from := to.AddDate(0, 0, -days)
		txs, err = session.Transactions(ctx, account.IBAN, from, to)
		if err != nil {
			return errors.Wrap(errors.ProtocolError, "failed to fetch transactions", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int("transactions", len(txs)).Int("days", days).Msg("transactions fetched")
	return txs, nil
}

// Capabilities opens a dialog only to report what the bank supports.
func (s *AccountService) Capabilities(ctx context.Context) (domain.CapabilitySnapshot, error) {
	var caps domain.CapabilitySnapshot
	err := s.withSession(ctx, func(session bank.Session) error {
		caps = s.capabilities.Discover(ctx, session)
		return nil
	})
	return caps, err
}

func pickAccount(accounts []domain.Account, iban string) (domain.Account, error) {
	if len(accounts) == 0 {
		return domain.Account{}, errors.NewAppError(errors.ValidationError, "no SEPA accounts found")
	}
	if iban != "" {
		for _, acc := range accounts {
			if domain.NormalizeIBAN(acc.IBAN) == iban {
				return acc, nil
			}
		}
		return domain.Account{}, errors.NewAppErrorf(errors.ValidationError, "IBAN %s not found for this login", iban)
	}
	if len(accounts) > 1 {
		return domain.Account{}, errors.NewAppError(errors.ValidationError, "multiple accounts found, pass --iban")
	}
	return accounts[0], nil
}
