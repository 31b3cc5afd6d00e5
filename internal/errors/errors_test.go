package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "pending_not_found: pending transfer not found", ErrPendingNotFound.Error())

	err := NewAppError(ValidationError, "invalid amount").WithDetails("amount must be > 0")
	assert.Equal(t, "validation_error: invalid amount (amount must be > 0)", err.Error())
}

func TestAppError_IsMatchesCode(t *testing.T) {
	err := NewAppErrorf(PendingNotFound, "pending transfer %s not found", "abc")
	wrapped := fmt.Errorf("loading: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrPendingNotFound))
	assert.False(t, stderrors.Is(wrapped, ErrDuplicatePending))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(ProtocolError, "bank unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connection reset", err.Details)
}

func TestAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewAppError(SubmissionAcknowledged, "ack").WithPendingID("p1"))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "p1", appErr.PendingID)
	assert.True(t, HasCode(err, SubmissionAcknowledged))

	_, ok = As(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
	}{
		{ValidationError, true},
		{ProtocolError, true},
		{ApprovalTimeout, true},
		{SubmissionAcknowledged, false},
		{AuthenticationError, false},
		{ApprovalDeclined, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.retryable, NewAppError(tt.code, "x").Retryable())
		})
	}
}

func TestHTTPStatusAndExitCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrPendingNotFound.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, NewAppError(AuthenticationError, "x").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, NewAppError(InternalError, "x").HTTPStatus())

	assert.Equal(t, 2, NewAppError(ValidationError, "x").ExitCode())
	assert.Equal(t, 5, NewAppError(SubmissionAcknowledged, "x").ExitCode())
	assert.Equal(t, 1, NewAppError(InternalError, "x").ExitCode())
}
