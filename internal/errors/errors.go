package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationError        ErrorCode = "validation_error"
	AuthenticationError    ErrorCode = "authentication_error"
	ProtocolError          ErrorCode = "protocol_error"
	SubmissionAcknowledged ErrorCode = "submission_acknowledged"
	ApprovalTimeout        ErrorCode = "approval_timeout"
	ApprovalDeclined       ErrorCode = "approval_declined"
	ApprovalExpired        ErrorCode = "approval_expired"
	PendingNotFound        ErrorCode = "pending_not_found"
	DuplicatePending       ErrorCode = "duplicate_pending"
	InvalidTransition      ErrorCode = "invalid_transition"
	TANRequired            ErrorCode = "tan_required"
	Aborted                ErrorCode = "aborted"
	ConfigError            ErrorCode = "config_error"
	ProviderNotFound       ErrorCode = "provider_not_found"
	InvalidInput           ErrorCode = "invalid_input"
	InternalError          ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	// PendingID is set when the failure left a resumable pending transfer behind.
	PendingID string `json:"pending_id,omitempty"`
	cause     error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches on the error code so that predefined errors work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds an AppError that keeps err reachable through errors.Unwrap.
func Wrap(code ErrorCode, message string, err error) *AppError {
	appErr := &AppError{Code: code, Message: message, cause: err}
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithPendingID(id string) *AppError {
	e.PendingID = id
	return e
}

// Retryable reports whether re-running the same command is safe.
// Nothing that happened after the bank acknowledged a payment is retryable.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case ValidationError, ProtocolError, ApprovalTimeout:
		return true
	default:
		return false
	}
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationError, InvalidInput, TANRequired:
		return http.StatusBadRequest
	case AuthenticationError:
		return http.StatusUnauthorized
	case PendingNotFound, ProviderNotFound:
		return http.StatusNotFound
	case DuplicatePending, InvalidTransition:
		return http.StatusConflict
	case ApprovalDeclined:
		return http.StatusUnprocessableEntity
	case ApprovalExpired:
		return http.StatusGone
	case ApprovalTimeout:
		return http.StatusAccepted
	case ProtocolError:
		return http.StatusBadGateway
	case SubmissionAcknowledged:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps the error to the process exit status used by the CLI.
func (e *AppError) ExitCode() int {
	switch e.Code {
	case ValidationError, InvalidInput, ConfigError, ProviderNotFound:
		return 2
	case AuthenticationError:
		return 3
	case ProtocolError:
		return 4
	case SubmissionAcknowledged:
		return 5
	case ApprovalTimeout:
		return 6
	case ApprovalDeclined:
		return 7
	case ApprovalExpired:
		return 8
	case Aborted:
		return 130
	default:
		return 1
	}
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Predefined errors for common cases
var (
	ErrPendingNotFound   = NewAppError(PendingNotFound, "pending transfer not found")
	ErrDuplicatePending  = NewAppError(DuplicatePending, "pending transfer already exists")
	ErrInvalidTransition = NewAppError(InvalidTransition, "pending transfer status cannot move backwards")
	ErrApprovalTimeout   = NewAppError(ApprovalTimeout, "approval still pending")
	ErrApprovalDeclined  = NewAppError(ApprovalDeclined, "transfer declined")
	ErrAborted           = NewAppError(Aborted, "aborted by operator")
)
