package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fints-agent/internal/bank"
	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

// Mode selects how far Execute drives a transfer.
type Mode string

const (
	// ModeDryRun validates locally and never contacts the bank.
	ModeDryRun Mode = "dry_run"
	// ModeSync blocks until the transfer reaches an outcome or the poll timeout.
	ModeSync Mode = "sync"
	// ModeAsyncSubmit returns a pending id as soon as app approval is required.
	ModeAsyncSubmit Mode = "async_submit"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDryRun, ModeSync, ModeAsyncSubmit:
		return Mode(s), nil
	}
	return "", errors.NewAppErrorf(errors.InvalidInput, "unknown transfer mode %q", s)
}

// maxChallengeSteps bounds VoP/TAN round-trips for a single submission.
const maxChallengeSteps = 5

// Prompter is the interactive side of a transfer. A nil Prompter means no
// operator is present.
type Prompter interface {
	ConfirmTransfer(ctx context.Context, req domain.TransferRequest) (bool, error)
	ConfirmVoP(ctx context.Context, challenge bank.VoPChallenge) (bool, error)
	TAN(ctx context.Context, challenge bank.TANChallenge) (string, error)
}

// CredentialResolver yields the credentials for one bank dialog.
type CredentialResolver interface {
	Resolve(ctx context.Context) (bank.Credentials, error)
}

type ExecuteOptions struct {
	ConfirmBeforeSend bool
	// AutoConfirm suppresses the send confirmation and accepts payee
	// verification results in the configured tiers. Neither applies when
	// capability discovery failed.
	AutoConfirm bool
	// PollInterval falls back to the configured interval when zero.
	PollInterval time.Duration
	PollTimeout  time.Duration
	Prompter     Prompter
}

type TransferConfig struct {
	PollInterval    time.Duration
	PollTimeout     time.Duration
	MinPollInterval time.Duration
	VoPAutoAccept   []domain.VoPMatch
}

// TransferService drives a transfer from request to outcome and owns the
// decoupled approval state machine.
type TransferService struct {
	dialer       bank.Dialer
	credentials  CredentialResolver
	pending      domain.PendingRepository
	capabilities *CapabilityService
	cfg          TransferConfig
	logger       zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTransferService(
	dialer bank.Dialer,
	credentials CredentialResolver,
	pending domain.PendingRepository,
	capabilities *CapabilityService,
	cfg TransferConfig,
	logger zerolog.Logger,
) *TransferService {
	if len(cfg.VoPAutoAccept) == 0 {
		cfg.VoPAutoAccept = []domain.VoPMatch{domain.VoPMatchExact}
	}
	return &TransferService{
		dialer:       dialer,
		credentials:  credentials,
		pending:      pending,
		capabilities: capabilities,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute validates req and, unless mode is ModeDryRun, submits it to the bank
// exactly once. A validation failure returns a Rejected outcome together with
// the ValidationError. When the bank asks for app approval a pending record is
// persisted before anything else happens.
func (s *TransferService) Execute(ctx context.Context, req domain.TransferRequest, mode Mode, opts ExecuteOptions) (domain.TransferOutcome, error) {
	log := s.logger.With().
		Str("mode", string(mode)).
		Str("to_iban", domain.MaskIBAN(req.ToIBAN)).
		Str("amount", req.Amount.StringFixed(2)).
		Logger()

	if _, err := ParseMode(string(mode)); err != nil {
		return domain.TransferOutcome{}, err
	}

	if err := req.Validate(); err != nil {
		log.Info().Err(err).Msg("transfer rejected by local validation")
		reason := err.Error()
		if appErr, ok := errors.As(err); ok {
			reason = appErr.Message
		}
		return domain.Rejected(domain.ReasonValidation, reason), err
	}

	if mode == ModeDryRun {
		log.Info().Msg("dry run validated")
		return domain.DryRunValidated(), nil
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = s.cfg.PollInterval
	}

	creds, err := s.resolveCredentials(ctx)
	if err != nil {
		return domain.TransferOutcome{}, err
	}

	session, err := s.dialer.Open(ctx, creds)
	if err != nil {
		return domain.TransferOutcome{}, dialError(ctx, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close bank dialog")
		}
	}()

	caps := s.capabilities.Discover(ctx, session)

	req, err = s.resolveSourceAccount(ctx, session, req)
	if err != nil {
		return domain.TransferOutcome{}, err
	}

	// Unknown capabilities always need a human to confirm, whatever the flags say.
	if caps.Conservative {
		log.Warn().Msg("bank capabilities unknown, manual confirmation required")
	}
	if caps.Conservative || (opts.ConfirmBeforeSend && !opts.AutoConfirm) {
		if err := s.confirmSend(ctx, req, opts.Prompter); err != nil {
			log.Info().Err(err).Msg("transfer not sent")
			return domain.TransferOutcome{}, err
		}
	}

	log.Info().Msg("submitting transfer")
	result, err := session.SubmitTransfer(ctx, req)
	if err != nil {
		return domain.TransferOutcome{}, s.submissionFailed(ctx, req, err, log)
	}

	for step := 0; step < maxChallengeSteps; step++ {
		log.Debug().Str("result", result.Kind.String()).Msg("bank answered")

		switch result.Kind {
		case bank.SubmitCompleted:
			log.Info().Str("bank_reference", result.Outcome.BankReference).Msg("transfer completed")
			return result.Outcome, nil

		case bank.SubmitRejected:
			log.Info().Str("reason_code", result.Outcome.ReasonCode).Msg("transfer rejected by bank")
			return result.Outcome, nil

		case bank.SubmitVoPChallenge:
			accept := s.decideVoP(ctx, caps, *result.VoP, opts, log)
			result, err = session.ConfirmVoP(ctx, *result.VoP, accept)
			if err != nil {
				return domain.TransferOutcome{}, s.submissionFailed(ctx, req, err, log)
			}

		case bank.SubmitTANChallenge:
			if opts.Prompter == nil {
				return domain.TransferOutcome{}, errors.NewAppError(errors.TANRequired, "bank requires a TAN for this transfer").
					WithDetails("run interactively to enter it; app approval is the only non-interactive procedure")
			}
			tan, err := opts.Prompter.TAN(ctx, *result.TAN)
			if err != nil {
				return domain.TransferOutcome{}, errors.Wrap(errors.Aborted, "TAN entry aborted", err)
			}
			result, err = session.SendTAN(ctx, *result.TAN, tan)
			if err != nil {
				return domain.TransferOutcome{}, s.submissionFailed(ctx, req, err, log)
			}

		case bank.SubmitDecoupledChallenge:
			return s.awaitApproval(ctx, session, creds, caps, req, mode, opts, *result.Decoupled, log)

		default:
			return domain.TransferOutcome{}, s.submissionFailed(ctx, req,
				fmt.Errorf("unexpected bank response kind %d", result.Kind), log)
		}
	}

	return domain.TransferOutcome{}, s.submissionFailed(ctx, req,
		fmt.Errorf("bank kept challenging after %d confirmations", maxChallengeSteps), log)
}

// awaitApproval persists the pending record, then either hands back its id or
// polls inline on the live session.
func (s *TransferService) awaitApproval(
	ctx context.Context,
	session bank.Session,
	creds bank.Credentials,
	caps domain.CapabilitySnapshot,
	req domain.TransferRequest,
	mode Mode,
	opts ExecuteOptions,
	challenge bank.DecoupledChallenge,
	log zerolog.Logger,
) (domain.TransferOutcome, error) {
	// The bank holds an acknowledged payment now; losing the record is worse
	// than ignoring a cancellation.
	rec, err := s.pending.Create(context.WithoutCancel(ctx), req, challenge.ResumeToken, domain.StatusAwaitingApproval)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist pending transfer after decoupled challenge")
		return domain.TransferOutcome{}, errors.Wrap(errors.SubmissionAcknowledged,
			"transfer awaits app approval but could not be recorded; approve it in the app and check the statement, do not resubmit", err)
	}
	log.Info().Str("pending_id", rec.ID).Msg("transfer awaits app approval")

	if mode == ModeAsyncSubmit {
		return domain.Pending(rec.ID), nil
	}

	run := &pollRun{id: rec.ID, session: session, caps: &caps, creds: &creds}
	defer s.closeRun(run)
	return s.pollLoop(ctx, run, PollOptions{Wait: true, Interval: opts.PollInterval, Timeout: opts.PollTimeout})
}

func (s *TransferService) resolveCredentials(ctx context.Context) (bank.Credentials, error) {
	creds, err := s.credentials.Resolve(ctx)
	if err == nil {
		return creds, nil
	}
	if _, ok := errors.As(err); ok {
		return bank.Credentials{}, err
	}
	if ctx.Err() != nil {
		return bank.Credentials{}, errors.Wrap(errors.Aborted, "aborted", err)
	}
	return bank.Credentials{}, errors.Wrap(errors.AuthenticationError, "failed to resolve credentials", err)
}

// dialError classifies a failure to open or resume a dialog. Nothing was sent.
func dialError(ctx context.Context, err error) error {
	switch {
	case stderrors.Is(err, bank.ErrAuthentication):
		return errors.Wrap(errors.AuthenticationError, "bank rejected the login", err)
	case ctx.Err() != nil:
		return errors.Wrap(errors.Aborted, "aborted", err)
	default:
		return errors.Wrap(errors.ProtocolError, "failed to open bank dialog", err)
	}
}

// resolveSourceAccount fills in or checks the sender IBAN against the accounts
// the bank reports for this login.
func (s *TransferService) resolveSourceAccount(ctx context.Context, session bank.Session, req domain.TransferRequest) (domain.TransferRequest, error) {
	accounts, err := session.Accounts(ctx)
	if err != nil {
		return req, errors.Wrap(errors.ProtocolError, "failed to list accounts", err)
	}
	if len(accounts) == 0 {
		return req, errors.NewAppError(errors.ValidationError, "no SEPA accounts found")
	}

	if req.FromIBAN != "" {
		for _, acc := range accounts {
			if domain.NormalizeIBAN(acc.IBAN) == req.FromIBAN {
				return req, nil
			}
		}
		return req, errors.NewAppErrorf(errors.ValidationError, "sender IBAN %s not found for this login", req.FromIBAN)
	}

	if len(accounts) > 1 {
		ibans := make([]string, 0, len(accounts))
		for _, acc := range accounts {
			ibans = append(ibans, acc.IBAN)
		}
		return req, errors.NewAppError(errors.ValidationError, "multiple accounts found, set the sender IBAN").
			WithDetails(fmt.Sprint(ibans))
	}

	req.FromIBAN = domain.NormalizeIBAN(accounts[0].IBAN)
	if req.FromIBAN == req.ToIBAN {
		return req, errors.NewAppError(errors.ValidationError, "sender and recipient IBAN are identical")
	}
	return req, nil
}

func (s *TransferService) confirmSend(ctx context.Context, req domain.TransferRequest, prompter Prompter) error {
	if prompter == nil {
		return errors.NewAppError(errors.Aborted, "transfer needs confirmation").
			WithDetails("run interactively or pass --yes")
	}
	ok, err := prompter.ConfirmTransfer(ctx, req)
	if err != nil {
		return errors.Wrap(errors.Aborted, "confirmation aborted", err)
	}
	if !ok {
		return errors.NewAppError(errors.Aborted, "transfer not confirmed")
	}
	return nil
}

// decideVoP never resubmits the payment; it only answers the pending challenge.
func (s *TransferService) decideVoP(ctx context.Context, caps domain.CapabilitySnapshot, challenge bank.VoPChallenge, opts ExecuteOptions, log zerolog.Logger) bool {
	log = log.With().Str("vop_match", string(challenge.Match)).Logger()

	if opts.AutoConfirm && caps.AllowsAutoVoP() && s.autoAcceptable(challenge.Match) {
		log.Info().Msg("payee verification accepted automatically")
		return true
	}
	if opts.Prompter == nil {
		log.Warn().Msg("payee verification needs confirmation and nobody can give it, declining")
		return false
	}

	accept, err := opts.Prompter.ConfirmVoP(ctx, challenge)
	if err != nil {
		log.Warn().Err(err).Msg("payee verification prompt failed, declining")
		return false
	}
	log.Info().Bool("accepted", accept).Msg("payee verification answered")
	return accept
}

func (s *TransferService) autoAcceptable(match domain.VoPMatch) bool {
	for _, tier := range s.cfg.VoPAutoAccept {
		if tier == match {
			return true
		}
	}
	return false
}

// submissionFailed maps an error raised while a job was in flight. Before
// acknowledgement it is a plain retryable protocol error. Afterwards the job
// must never be resent: if the bank left a resume token it is persisted so
// the outcome can still be polled.
func (s *TransferService) submissionFailed(ctx context.Context, req domain.TransferRequest, err error, log zerolog.Logger) error {
	if !bank.Acknowledged(err) {
		log.Warn().Err(err).Msg("transfer not acknowledged by bank")
		return errors.Wrap(errors.ProtocolError, "bank did not accept the transfer, it is safe to retry", err)
	}

	appErr := errors.Wrap(errors.SubmissionAcknowledged,
		"bank accepted the transfer but its outcome is unknown, do not resubmit", err)

	token := bank.ResumeTokenFrom(err)
	if len(token) == 0 {
		log.Error().Err(err).Msg("transfer outcome unknown after acknowledgement")
		return appErr
	}

	persistCtx := context.WithoutCancel(ctx)
	rec, cerr := s.pending.Create(persistCtx, req, token, domain.StatusError)
	if cerr != nil {
		log.Error().Err(cerr).Msg("failed to persist pending transfer after acknowledged failure")
		return appErr
	}
	if _, merr := s.pending.Mutate(persistCtx, rec.ID, func(p *domain.PendingTransfer) error {
		p.LastError = err.Error()
		return nil
	}); merr != nil {
		log.Warn().Err(merr).Str("pending_id", rec.ID).Msg("failed to record submission error")
	}

	log.Error().Err(err).Str("pending_id", rec.ID).Msg("transfer outcome unknown, pending record kept for polling")
	return appErr.WithPendingID(rec.ID)
}
