package bank

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when the bank refuses the login.
	ErrAuthentication = stderrors.New("bank authentication failed")
	// ErrNotAcknowledged marks faults that happened before the bank accepted a job.
	ErrNotAcknowledged = stderrors.New("bank did not acknowledge the job")
	// ErrUnknownDialog is returned by Resume when the resume token is unusable.
	ErrUnknownDialog = stderrors.New("bank dialog cannot be resumed")
)

// SubmitError is a fault while a transfer job was in flight.
type SubmitError struct {
	// Acknowledged is true once the bank confirmed receipt of the job.
	Acknowledged bool
	// ResumeToken is set when the bank handed out continuation state before failing.
	ResumeToken []byte
	Err         error
}

func (e *SubmitError) Error() string {
	state := "before acknowledgement"
	if e.Acknowledged {
		state = "after acknowledgement"
	}
	return fmt.Sprintf("transfer submission failed %s: %v", state, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Acknowledged reports whether err may have reached the bank as an accepted job.
// Errors that carry no classification are treated as acknowledged.
func Acknowledged(err error) bool {
	if err == nil {
		return false
	}
	var submitErr *SubmitError
	if stderrors.As(err, &submitErr) {
		return submitErr.Acknowledged
	}
	return !stderrors.Is(err, ErrNotAcknowledged)
}

// ResumeTokenFrom extracts continuation state from a SubmitError, if any.
func ResumeTokenFrom(err error) []byte {
	var submitErr *SubmitError
	if stderrors.As(err, &submitErr) {
		return submitErr.ResumeToken
	}
	return nil
}
