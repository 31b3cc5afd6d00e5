// Package banktest provides a scriptable in-memory bank for tests.
package banktest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fints-agent/internal/bank"
	"fints-agent/internal/domain"
)

type (
	SubmitFunc  func(req domain.TransferRequest) (bank.SubmitResult, error)
	ConfirmFunc func(challenge bank.VoPChallenge, accept bool) (bank.SubmitResult, error)
	TANFunc     func(challenge bank.TANChallenge, tan string) (bank.SubmitResult, error)
	PollFunc    func(token []byte, attempt int) (bank.PollResult, error)
)

// Bank implements bank.Dialer and records every call made against it.
type Bank struct {
	mu sync.Mutex

	OpenErr         error
	ResumeErr       error
	Capabilities    domain.CapabilitySnapshot
	CapabilitiesErr error
	AccountList     []domain.Account
	AccountsErr     error
	Balances        map[string]domain.Balance
	Statement       []domain.Transaction

	Submit  SubmitFunc
	Confirm ConfirmFunc
	TAN     TANFunc
	Poll    PollFunc

	opens        int
	resumes      int
	submits      int
	tans         int
	polls        int
	closed       int
	lastPIN      string
	resumeTokens [][]byte
	submitted    []domain.TransferRequest
	vopAccepted  []bool
}

// DefaultIBAN is the single account New() exposes.
const DefaultIBAN = "DE51120300001234561186"

// New returns a bank with one account that answers every submission with a
// decoupled challenge and keeps every poll pending.
func New() *Bank {
	return &Bank{
		AccountList: []domain.Account{{IBAN: DefaultIBAN, BIC: "BYLADEM1001", ProductName: "Girokonto", Currency: domain.DefaultCurrency}},
		Capabilities: domain.CapabilitySnapshot{
			VoPSupported:       true,
			DecoupledSupported: true,
			TANMethods:         []domain.TANMethod{{ID: "946", Name: "SecureGo plus", Decoupled: true}},
		},
		Submit: func(domain.TransferRequest) (bank.SubmitResult, error) {
			return bank.NeedDecoupled(bank.DecoupledChallenge{ResumeToken: []byte("token-0")}), nil
		},
		Poll: func([]byte, int) (bank.PollResult, error) {
			return bank.PollResult{State: bank.PollStillPending}, nil
		},
	}
}

// PollSequence steps through results; the last one repeats.
func PollSequence(results ...bank.PollResult) PollFunc {
	return func(_ []byte, attempt int) (bank.PollResult, error) {
		if attempt >= len(results) {
			return results[len(results)-1], nil
		}
		return results[attempt], nil
	}
}

func Approved(reference string) bank.PollResult {
	return bank.PollResult{
		State:   bank.PollApproved,
		Outcome: domain.Completed(reference, "0020", "Order executed"),
	}
}

func Declined() bank.PollResult {
	return bank.PollResult{
		State:   bank.PollDeclined,
		Outcome: domain.Rejected("9942", "Approval declined in app"),
	}
}

func StillPending(token string) bank.PollResult {
	return bank.PollResult{State: bank.PollStillPending, ResumeToken: []byte(token)}
}

func (b *Bank) Open(_ context.Context, creds bank.Credentials) (bank.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	b.lastPIN = creds.PIN
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	return &session{bank: b}, nil
}

func (b *Bank) Resume(_ context.Context, creds bank.Credentials, token []byte) (bank.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumes++
	b.lastPIN = creds.PIN
	b.resumeTokens = append(b.resumeTokens, append([]byte(nil), token...))
	if b.ResumeErr != nil {
		return nil, b.ResumeErr
	}
	return &session{bank: b}, nil
}

func (b *Bank) Opens() int { b.mu.Lock(); defer b.mu.Unlock(); return b.opens }
func (b *Bank) Resumes() int { b.mu.Lock(); defer b.mu.Unlock(); return b.resumes }
func (b *Bank) Submits() int { b.mu.Lock(); defer b.mu.Unlock(); return b.submits }
func (b *Bank) TANs() int { b.mu.Lock(); defer b.mu.Unlock(); return b.tans }
func (b *Bank) Polls() int { b.mu.Lock(); defer b.mu.Unlock(); return b.polls }
func (b *Bank) Closed() int { b.mu.Lock(); defer b.mu.Unlock(); return b.closed }
func (b *Bank) LastPIN() string { b.mu.Lock(); defer b.mu.Unlock(); return b.lastPIN }

// Contacts is the number of dialogs opened or resumed.
func (b *Bank) Contacts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens + b.resumes
}

func (b *Bank) Submitted() []domain.TransferRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.TransferRequest(nil), b.submitted...)
}

func (b *Bank) VoPDecisions() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.vopAccepted...)
}

func (b *Bank) ResumeTokens() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.resumeTokens...)
}

type session struct {
	bank *Bank
}

func (s *session) DiscoverCapabilities(context.Context) (domain.CapabilitySnapshot, error) {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	return s.bank.Capabilities, s.bank.CapabilitiesErr
}

func (s *session) Accounts(context.Context) ([]domain.Account, error) {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	if s.bank.AccountsErr != nil {
		return nil, s.bank.AccountsErr
	}
	return append([]domain.Account(nil), s.bank.AccountList...), nil
}

func (s *session) Balance(_ context.Context, iban string) (domain.Balance, error) {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	if bal, ok := s.bank.Balances[iban]; ok {
		return bal, nil
	}
	return domain.Balance{IBAN: iban, Amount: decimal.Zero, Currency: domain.DefaultCurrency}, nil
}

func (s *session) Transactions(_ context.Context, _ string, from, to time.Time) ([]domain.Transaction, error) {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.bank.Statement {
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *session) SubmitTransfer(_ context.Context, req domain.TransferRequest) (bank.SubmitResult, error) {
	s.bank.mu.Lock()
	s.bank.submits++
	s.bank.submitted = append(s.bank.submitted, req)
	fn := s.bank.Submit
	s.bank.mu.Unlock()
	return fn(req)
}

func (s *session) ConfirmVoP(_ context.Context, challenge bank.VoPChallenge, accept bool) (bank.SubmitResult, error) {
	s.bank.mu.Lock()
	s.bank.vopAccepted = append(s.bank.vopAccepted, accept)
	fn := s.bank.Confirm
	s.bank.mu.Unlock()
	if fn == nil {
		if !accept {
			return bank.Rejected(domain.Rejected("9210", "Payee verification declined")), nil
		}
		return bank.Completed(domain.Completed("R-VOP", "0020", "Order executed")), nil
	}
	return fn(challenge, accept)
}

func (s *session) SendTAN(_ context.Context, challenge bank.TANChallenge, tan string) (bank.SubmitResult, error) {
	s.bank.mu.Lock()
	s.bank.tans++
	fn := s.bank.TAN
	s.bank.mu.Unlock()
	if fn == nil {
		return bank.Completed(domain.Completed("R-TAN", "0020", "Order executed")), nil
	}
	return fn(challenge, tan)
}

func (s *session) PollDecoupled(_ context.Context, token []byte) (bank.PollResult, error) {
	s.bank.mu.Lock()
	attempt := s.bank.polls
	s.bank.polls++
	fn := s.bank.Poll
	s.bank.mu.Unlock()
	return fn(token, attempt)
}

func (s *session) Close() error {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	s.bank.closed++
	return nil
}

var _ bank.Dialer = (*Bank)(nil)
