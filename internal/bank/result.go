package bank

import "fints-agent/internal/domain"

// SubmitKind tags the SubmitResult variant.
type SubmitKind int

const (
	SubmitCompleted SubmitKind = iota + 1
	SubmitRejected
	SubmitVoPChallenge
	SubmitTANChallenge
	SubmitDecoupledChallenge
)

func (k SubmitKind) String() string {
	switch k {
	case SubmitCompleted:
		return "completed"
	case SubmitRejected:
		return "rejected"
	case SubmitVoPChallenge:
		return "vop_challenge"
	case SubmitTANChallenge:
		return "tan_challenge"
	case SubmitDecoupledChallenge:
		return "decoupled_challenge"
	default:
		return "unknown"
	}
}

// SubmitResult is the bank's immediate answer to a transfer job, normalized
// to one of: synchronous outcome, VoP challenge, TAN challenge or decoupled challenge.
type SubmitResult struct {
	Kind SubmitKind

	// Outcome is set for SubmitCompleted and SubmitRejected.
	Outcome domain.TransferOutcome

	VoP       *VoPChallenge
	TAN       *TANChallenge
	Decoupled *DecoupledChallenge
}

// VoPChallenge asks the user to confirm a payee-name mismatch before execution.
type VoPChallenge struct {
	Match        domain.VoPMatch
	ExpectedName string
	ReturnedName string
	Message      string
	// Token is opaque continuation state for ConfirmVoP.
	Token []byte
}

// TANChallenge requires a one-time code typed in by the user.
type TANChallenge struct {
	Challenge string
	Method    domain.TANMethod
	Token     []byte
}

// DecoupledChallenge means the job waits for approval in the banking app.
type DecoupledChallenge struct {
	Message     string
	ResumeToken []byte
}

func Completed(outcome domain.TransferOutcome) SubmitResult {
	return SubmitResult{Kind: SubmitCompleted, Outcome: outcome}
}

func Rejected(outcome domain.TransferOutcome) SubmitResult {
	return SubmitResult{Kind: SubmitRejected, Outcome: outcome}
}

func NeedVoP(c VoPChallenge) SubmitResult {
	return SubmitResult{Kind: SubmitVoPChallenge, VoP: &c}
}

func NeedTAN(c TANChallenge) SubmitResult {
	return SubmitResult{Kind: SubmitTANChallenge, TAN: &c}
}

func NeedDecoupled(c DecoupledChallenge) SubmitResult {
	return SubmitResult{Kind: SubmitDecoupledChallenge, Decoupled: &c}
}

// PollState tags the PollResult variant.
type PollState int

const (
	PollStillPending PollState = iota + 1
	PollApproved
	PollDeclined
	PollExpired
)

func (s PollState) String() string {
	switch s {
	case PollStillPending:
		return "still_pending"
	case PollApproved:
		return "approved"
	case PollDeclined:
		return "declined"
	case PollExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PollResult is one answer to a decoupled status query.
type PollResult struct {
	State PollState
	// Outcome is set for PollApproved and PollDeclined.
	Outcome domain.TransferOutcome
	// ResumeToken replaces the stored token when non-empty.
	ResumeToken []byte
	Message     string
}
