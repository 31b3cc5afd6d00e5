package repository

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

const (
	pendingIDLength   = 10
	maxCreateAttempts = 8
)

// NewPendingID returns a short random id: the first ten hex digits of a v4 UUID.
func NewPendingID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:pendingIDLength]
}

func newPendingRecord(id string, req domain.TransferRequest, token []byte, status domain.PendingStatus, now time.Time) (*domain.PendingTransfer, error) {
	if !status.Valid() || status.Terminal() {
		return nil, errors.NewAppErrorf(errors.InvalidInput, "pending transfer cannot be created with status %q", status)
	}
	return &domain.PendingTransfer{
		ID:          id,
		Request:     req,
		ResumeToken: append([]byte(nil), token...),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// applyMutation runs fn on a copy of cur and checks the resulting transition.
// changed is false when fn left the record as it was, so nothing must be written.
func applyMutation(cur *domain.PendingTransfer, fn domain.MutateFunc, now time.Time) (next *domain.PendingTransfer, changed bool, err error) {
	next = cur.Clone()
	if err := fn(next); err != nil {
		return nil, false, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	if sameRecord(cur, next) {
		return cur, false, nil
	}
	if !cur.Status.CanTransition(next.Status) {
		return nil, false, errors.NewAppErrorf(errors.InvalidTransition,
			"pending transfer %s cannot move from %s to %s", cur.ID, cur.Status, next.Status)
	}
	next.UpdatedAt = now
	return next, true, nil
}

func sameRecord(a, b *domain.PendingTransfer) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

func updateFunc(status domain.PendingStatus, outcome *domain.TransferOutcome) domain.MutateFunc {
	return func(p *domain.PendingTransfer) error {
		p.Status = status
		if outcome != nil {
			o := *outcome
			p.Outcome = &o
		}
		return nil
	}
}

func notFound(id string) error {
	return errors.NewAppErrorf(errors.PendingNotFound, "pending transfer %s not found", id)
}

// sortNewestFirst orders by creation time descending, ties broken by id.
func sortNewestFirst(records []*domain.PendingTransfer) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}
