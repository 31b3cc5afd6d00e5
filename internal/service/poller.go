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

// ReasonExpired is the reason code reported for approvals the bank let lapse.
const ReasonExpired = "expired"

type PollOptions struct {
	// Wait keeps polling until the record is final or Timeout elapses.
	// Without Wait exactly one poll is made.
	Wait bool
	// Interval falls back to the configured interval when zero.
	Interval time.Duration
	Timeout  time.Duration
}

// pollRun carries the dialog used across ticks. Execute hands in its live
// session; PollPending resumes one lazily from the stored token.
type pollRun struct {
	id      string
	session bank.Session
	owned   bool
	caps    *domain.CapabilitySnapshot
	creds   *bank.Credentials
	lastErr error
}

// errFatalPoll marks tick failures that another attempt cannot fix.
type errFatalPoll struct{ err error }

func (e *errFatalPoll) Error() string { return e.err.Error() }
func (e *errFatalPoll) Unwrap() error { return e.err }

// PollPending checks a pending transfer. A final record is answered from the
// store without contacting the bank. The returned outcome is Pending while the
// approval is still open.
func (s *TransferService) PollPending(ctx context.Context, id string, opts PollOptions) (domain.TransferOutcome, error) {
	run := &pollRun{id: id}
	defer s.closeRun(run)
	return s.pollLoop(ctx, run, opts)
}

func (s *TransferService) pollLoop(ctx context.Context, run *pollRun, opts PollOptions) (domain.TransferOutcome, error) {
	log := s.logger.With().Str("pending_id", run.id).Logger()

	if opts.Interval <= 0 {
		opts.Interval = s.cfg.PollInterval
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	deadline := s.now().Add(opts.Timeout)

	for {
		rec, err := s.tick(ctx, run, log)
		if err != nil {
			return domain.Pending(run.id), s.pollFailed(ctx, run, err)
		}

		switch rec.Status {
		case domain.StatusResolved, domain.StatusExpired:
			return finalOutcome(rec)
		}

		var fatal *errFatalPoll
		if stderrors.As(run.lastErr, &fatal) {
			return domain.Pending(run.id), s.pollFailed(ctx, run, fatal)
		}

		if !opts.Wait {
			if run.lastErr != nil {
				return domain.Pending(run.id), errors.Wrap(errors.ProtocolError, "status check failed, the transfer is still pending", run.lastErr).
					WithPendingID(run.id)
			}
			return domain.Pending(run.id), nil
		}

		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			log.Info().Int("polls", rec.PollCount).Msg("approval still pending at timeout")
			timeoutErr := errors.NewAppError(errors.ApprovalTimeout, "approval still pending").WithPendingID(run.id)
			if run.lastErr != nil {
				timeoutErr.WithDetails(run.lastErr.Error())
			}
			return domain.Pending(run.id), timeoutErr
		}

		interval := s.pollInterval(run, opts.Interval)
		if interval > remaining {
			interval = remaining
		}
		log.Debug().Dur("interval", interval).Msg("waiting for app approval")
		if err := s.sleep(ctx, interval); err != nil {
			return domain.Pending(run.id), s.pollFailed(ctx, run, err)
		}
	}
}

// tick is one read-poll-write cycle under the record lock.
func (s *TransferService) tick(ctx context.Context, run *pollRun, log zerolog.Logger) (*domain.PendingTransfer, error) {
	run.lastErr = nil

	return s.pending.Mutate(ctx, run.id, func(p *domain.PendingTransfer) error {
		if p.Status.Terminal() {
			return nil
		}

		session, err := s.sessionFor(ctx, run, p.ResumeToken)
		if err != nil {
			if ctx.Err() != nil || isAuthFailure(err) {
				return err
			}
			s.markError(p, err)
			run.lastErr = err
			if stderrors.Is(err, bank.ErrUnknownDialog) {
				run.lastErr = &errFatalPoll{err: err}
			}
			log.Warn().Err(err).Msg("failed to resume bank dialog")
			return nil
		}

		res, err := session.PollDecoupled(ctx, p.ResumeToken)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.markError(p, err)
			run.lastErr = err
			s.dropSession(run)
			log.Warn().Err(err).Msg("approval status query failed")
			return nil
		}

		now := s.now()
		switch res.State {
		case bank.PollApproved:
			outcome := res.Outcome
			if outcome.Kind != domain.OutcomeCompleted {
				outcome = domain.Completed(outcome.BankReference, outcome.ResponseCode, outcome.ResponseText, outcome.Responses...)
			}
			p.Resolve(outcome, now)
			countPoll(p, now)
			log.Info().Str("bank_reference", outcome.BankReference).Msg("transfer approved")

		case bank.PollDeclined:
			outcome := res.Outcome
			if outcome.Kind != domain.OutcomeRejected {
				outcome = domain.Rejected(outcome.ReasonCode, firstNonEmpty(outcome.ReasonText, res.Message, "declined"), outcome.Responses...)
			}
			p.Resolve(outcome, now)
			countPoll(p, now)
			log.Info().Str("reason_code", outcome.ReasonCode).Msg("transfer declined")

		case bank.PollExpired:
			p.Status = domain.StatusExpired
			p.LastError = firstNonEmpty(res.Message, "approval request expired at the bank")
			p.UpdatedAt = now
			countPoll(p, now)
			log.Info().Msg("approval request expired")

		case bank.PollStillPending:
			p.MarkPolled(res.ResumeToken, now)
			log.Debug().Int("polls", p.PollCount).Msg("still awaiting approval")

		default:
			err := fmt.Errorf("unknown poll state %d", res.State)
			s.markError(p, err)
			run.lastErr = err
		}
		return nil
	})
}

// sessionFor returns the live dialog or resumes one from token.
func (s *TransferService) sessionFor(ctx context.Context, run *pollRun, token []byte) (bank.Session, error) {
	if run.session != nil {
		return run.session, nil
	}

	if run.creds == nil {
		creds, err := s.credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		run.creds = &creds
	}

	session, err := s.dialer.Resume(ctx, *run.creds, token)
	if err != nil {
		return nil, err
	}
	run.session = session
	run.owned = true

	if run.caps == nil {
		caps := s.capabilities.Discover(ctx, session)
		run.caps = &caps
	}
	return session, nil
}

func (s *TransferService) dropSession(run *pollRun) {
	s.closeRun(run)
	run.session = nil
	run.owned = false
}

func (s *TransferService) closeRun(run *pollRun) {
	if run.session == nil || !run.owned {
		return
	}
	if err := run.session.Close(); err != nil {
		s.logger.Warn().Err(err).Str("pending_id", run.id).Msg("failed to close bank dialog")
	}
}

func (s *TransferService) pollInterval(run *pollRun, requested time.Duration) time.Duration {
	caps := domain.CapabilitySnapshot{}
	if run.caps != nil {
		caps = *run.caps
	}
	return caps.ClampPollInterval(requested, s.cfg.MinPollInterval)
}

func (s *TransferService) markError(p *domain.PendingTransfer, err error) {
	now := s.now()
	p.Status = domain.StatusError
	p.LastError = err.Error()
	p.UpdatedAt = now
	countPoll(p, now)
}

func countPoll(p *domain.PendingTransfer, now time.Time) {
	p.PollCount++
	p.LastPolledAt = &now
}

// pollFailed maps errors that stopped the loop. The stored record is left as it was.
func (s *TransferService) pollFailed(ctx context.Context, run *pollRun, err error) error {
	var fatal *errFatalPoll
	switch {
	case stderrors.As(err, &fatal):
		return errors.Wrap(errors.ProtocolError, "bank dialog cannot be resumed", fatal.err).WithPendingID(run.id)
	case ctx.Err() != nil:
		return errors.Wrap(errors.Aborted, "polling interrupted, the transfer is still pending", err).WithPendingID(run.id)
	case stderrors.Is(err, bank.ErrAuthentication):
		return errors.Wrap(errors.AuthenticationError, "bank rejected the login", err).WithPendingID(run.id)
	}
	if appErr, ok := errors.As(err); ok {
		if appErr.Code == errors.PendingNotFound {
			return err
		}
		if appErr.PendingID == "" {
			appErr.PendingID = run.id
		}
		return appErr
	}
	return errors.Wrap(errors.InternalError, "polling failed", err).WithPendingID(run.id)
}

// isAuthFailure covers a login refused by the bank and a PIN that could not
// be obtained. Neither is retried.
func isAuthFailure(err error) bool {
	return stderrors.Is(err, bank.ErrAuthentication) || errors.HasCode(err, errors.AuthenticationError)
}

// finalOutcome reports a resolved or expired record.
func finalOutcome(rec *domain.PendingTransfer) (domain.TransferOutcome, error) {
	if rec.Status == domain.StatusExpired {
		outcome := domain.Rejected(ReasonExpired, rec.LastError)
		return outcome, errors.NewAppError(errors.ApprovalExpired, "approval request expired").
			WithDetails(rec.LastError).WithPendingID(rec.ID)
	}
	if rec.Outcome == nil {
		return domain.TransferOutcome{}, errors.NewAppErrorf(errors.InternalError, "pending transfer %s is resolved without outcome", rec.ID)
	}

	outcome := *rec.Outcome
	if outcome.Kind == domain.OutcomeRejected {
		return outcome, errors.NewAppError(errors.ApprovalDeclined, "transfer declined").
			WithDetails(fmt.Sprintf("%s %s", outcome.ReasonCode, outcome.ReasonText)).
			WithPendingID(rec.ID)
	}
	return outcome, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
