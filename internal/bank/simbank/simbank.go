// Package simbank is a self-contained simulated bank. Its resume tokens carry
// the whole job state, so a transfer submitted by one process can be resolved
// by another, exactly like a real decoupled approval.
package simbank

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fints-agent/internal/bank"
	"fints-agent/internal/domain"
)

const BackendName = "sim"

// Scenarios select how a submitted transfer behaves.
const (
	ScenarioDecoupled = "decoupled"
	ScenarioComplete  = "complete"
	ScenarioVoP       = "vop"
	ScenarioTAN       = "tan"
	ScenarioReject    = "reject"
	ScenarioDecline   = "decline"
	ScenarioExpire    = "expire"
)

func init() {
	bank.Register(BackendName, func(logger zerolog.Logger, options map[string]string) (bank.Dialer, error) {
		return New(logger, options)
	})
}

// Dialer is the simulated bank.
type Dialer struct {
	logger       zerolog.Logger
	scenario     string
	approveAfter int
	now          func() time.Time
}

// New reads "scenario" and "approve_after" from options.
func New(logger zerolog.Logger, options map[string]string) (*Dialer, error) {
	d := &Dialer{
		logger:       logger.With().Str("component", "simbank").Logger(),
		scenario:     ScenarioDecoupled,
		approveAfter: 2,
		now:          time.Now,
	}
	if s := strings.TrimSpace(options["scenario"]); s != "" {
		switch s {
		case ScenarioDecoupled, ScenarioComplete, ScenarioVoP, ScenarioTAN, ScenarioReject, ScenarioDecline, ScenarioExpire:
			d.scenario = s
		default:
			return nil, fmt.Errorf("simbank: unknown scenario %q", s)
		}
	}
	if raw := strings.TrimSpace(options["approve_after"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("simbank: invalid approve_after %q", raw)
		}
		d.approveAfter = n
	}
	return d, nil
}

// job is the state carried inside resume tokens.
type job struct {
	JobID        string `json:"job_id"`
	Scenario     string `json:"scenario"`
	Polls        int    `json:"polls"`
	ApproveAfter int    `json:"approve_after"`
	Amount       string `json:"amount"`
}

func encode(j job) []byte {
	b, _ := json.Marshal(j)
	return b
}

func decode(token []byte) (job, error) {
	var j job
	if err := json.Unmarshal(token, &j); err != nil || j.JobID == "" {
		return job{}, bank.ErrUnknownDialog
	}
	return j, nil
}

func (d *Dialer) Open(_ context.Context, creds bank.Credentials) (bank.Session, error) {
	if creds.UserID == "" || creds.PIN == "" {
		return nil, bank.ErrAuthentication
	}
	d.logger.Debug().Object("credentials", creds).Msg("Dialog opened")
	return &session{dialer: d, userID: creds.UserID}, nil
}

func (d *Dialer) Resume(ctx context.Context, creds bank.Credentials, token []byte) (bank.Session, error) {
	if _, err := decode(token); err != nil {
		return nil, err
	}
	return d.Open(ctx, creds)
}

type session struct {
	dialer *Dialer
	userID string
}

func (s *session) DiscoverCapabilities(context.Context) (domain.CapabilitySnapshot, error) {
	return domain.CapabilitySnapshot{
		TANMethods: []domain.TANMethod{
			{ID: "940", Name: "SimApp decoupled", Decoupled: true},
			{ID: "912", Name: "SimTAN", Decoupled: false},
		},
		VoPSupported:       true,
		DecoupledSupported: true,
		MinPollInterval:    time.Second,
		MaxPollInterval:    30 * time.Second,
		SupportedOps:       []string{"accounts", "balance", "transactions", "transfer", "instant"},
	}, nil
}

func (s *session) Accounts(context.Context) ([]domain.Account, error) {
	return []domain.Account{
		{IBAN: s.iban("giro"), BIC: "SIMBDEXXXXX", ProductName: "Girokonto", Currency: domain.DefaultCurrency},
		{IBAN: s.iban("save"), BIC: "SIMBDEXXXXX", ProductName: "Tagesgeld", Currency: domain.DefaultCurrency},
	}, nil
}

// iban derives a stable, checksum-valid German IBAN from the user id.
func (s *session) iban(kind string) string {
	h := fnv.New64a()
	h.Write([]byte(s.userID + "/" + kind))
	bban := fmt.Sprintf("10000000%010d", h.Sum64()%10_000_000_000)
	return withCheckDigits("DE", bban)
}

func withCheckDigits(country, bban string) string {
	for check := 2; check <= 98; check++ {
		candidate := fmt.Sprintf("%s%02d%s", country, check, bban)
		if domain.ValidIBAN(candidate) {
			return candidate
		}
	}
	return country + "00" + bban
}

func (s *session) Balance(_ context.Context, iban string) (domain.Balance, error) {
	h := fnv.New32a()
	h.Write([]byte(iban))
	cents := int64(h.Sum32() % 500_000)
	return domain.Balance{
		IBAN:     iban,
		Amount:   decimal.New(cents, -2),
		Currency: domain.DefaultCurrency,
		Date:     s.dialer.now(),
	}, nil
}

func (s *session) Transactions(_ context.Context, iban string, from, to time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	day := 0
	for d := to; !d.Before(from); d = d.AddDate(0, 0, -7) {
		day++
		out = append(out, domain.Transaction{
			Date:             d.Truncate(24 * time.Hour),
			Amount:           decimal.New(int64(-1000*day-99), -2),
			Currency:         domain.DefaultCurrency,
			Counterparty:     fmt.Sprintf("Simulated Merchant %d", day),
			CounterpartyIBAN: withCheckDigits("DE", fmt.Sprintf("5001051700%08d", day)),
			Purpose:          fmt.Sprintf("Card payment %d for %s", day, domain.MaskIBAN(iban)),
		})
	}
	return out, nil
}

func (s *session) SubmitTransfer(_ context.Context, req domain.TransferRequest) (bank.SubmitResult, error) {
	j := job{
		JobID:        uuid.NewString(),
		Scenario:     s.dialer.scenario,
		ApproveAfter: s.dialer.approveAfter,
		Amount:       req.Amount.StringFixed(2),
	}
	s.dialer.logger.Info().Str("job_id", j.JobID).Str("scenario", j.Scenario).Msg("Transfer job received")

	switch j.Scenario {
	case ScenarioComplete:
		return bank.Completed(domain.Completed(reference(j), "0020", "Order executed")), nil
	case ScenarioReject:
		return bank.Rejected(domain.Rejected("9050", "Insufficient funds")), nil
	case ScenarioVoP:
		return bank.NeedVoP(bank.VoPChallenge{
			Match:        domain.VoPMatchClose,
			ExpectedName: req.ToName,
			ReturnedName: strings.ToUpper(req.ToName),
			Message:      "Payee name is a close match",
			Token:        encode(j),
		}), nil
	case ScenarioTAN:
		return bank.NeedTAN(bank.TANChallenge{
			Challenge: "Enter the 6-digit TAN shown on your device",
			Method:    domain.TANMethod{ID: "912", Name: "SimTAN"},
			Token:     encode(j),
		}), nil
	default:
		return bank.NeedDecoupled(bank.DecoupledChallenge{
			Message:     "Please confirm the transfer in your banking app",
			ResumeToken: encode(j),
		}), nil
	}
}

func (s *session) ConfirmVoP(_ context.Context, challenge bank.VoPChallenge, accept bool) (bank.SubmitResult, error) {
	j, err := decode(challenge.Token)
	if err != nil {
		return bank.SubmitResult{}, &bank.SubmitError{Acknowledged: true, Err: err}
	}
	if !accept {
		return bank.Rejected(domain.Rejected("9210", "Payee verification not confirmed")), nil
	}
	return bank.NeedDecoupled(bank.DecoupledChallenge{
		Message:     "Please confirm the transfer in your banking app",
		ResumeToken: encode(j),
	}), nil
}

func (s *session) SendTAN(_ context.Context, challenge bank.TANChallenge, tan string) (bank.SubmitResult, error) {
	j, err := decode(challenge.Token)
	if err != nil {
		return bank.SubmitResult{}, &bank.SubmitError{Acknowledged: true, Err: err}
	}
	if len(tan) != 6 {
		return bank.Rejected(domain.Rejected("9941", "TAN invalid")), nil
	}
	return bank.Completed(domain.Completed(reference(j), "0020", "Order executed")), nil
}

func (s *session) PollDecoupled(_ context.Context, token []byte) (bank.PollResult, error) {
	j, err := decode(token)
	if err != nil {
		return bank.PollResult{}, err
	}
	j.Polls++
	if j.Polls <= j.ApproveAfter {
		return bank.PollResult{State: bank.PollStillPending, ResumeToken: encode(j), Message: "3956 Approval pending"}, nil
	}
	switch j.Scenario {
	case ScenarioDecline:
		return bank.PollResult{State: bank.PollDeclined, Outcome: domain.Rejected("9942", "Approval declined in app")}, nil
	case ScenarioExpire:
		return bank.PollResult{State: bank.PollExpired, Message: "9931 Approval window expired"}, nil
	default:
		return bank.PollResult{State: bank.PollApproved, Outcome: domain.Completed(reference(j), "0020", "Order executed")}, nil
	}
}

func (s *session) Close() error {
	return nil
}

func reference(j job) string {
	return "SIM-" + strings.ToUpper(strings.ReplaceAll(j.JobID, "-", "")[:10])
}
