package domain

import (
	"context"
	"time"
)

// PendingStatus is the lifecycle state of a submitted decoupled transfer.
type PendingStatus string

const (
	// StatusAwaitingApproval waits for the user to approve in the banking app.
	StatusAwaitingApproval PendingStatus = "awaiting_approval"
	// StatusError records a failed poll. The record stays resumable.
	StatusError PendingStatus = "error"
	// StatusResolved holds a final Completed or Rejected outcome.
	StatusResolved PendingStatus = "resolved"
	// StatusExpired means the bank itself dropped the approval request.
	StatusExpired PendingStatus = "expired"
)

func (s PendingStatus) Valid() bool {
	switch s {
	case StatusAwaitingApproval, StatusError, StatusResolved, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status is final. Terminal records are immutable.
func (s PendingStatus) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// CanTransition enforces monotonic status changes: live records may move to
// any status, terminal records may not move at all.
func (s PendingStatus) CanTransition(to PendingStatus) bool {
	if !to.Valid() {
		return false
	}
	return !s.Terminal()
}

// PendingTransfer is the durable record of a transfer awaiting decoupled approval.
type PendingTransfer struct {
	ID           string           `json:"id"`
	Request      TransferRequest  `json:"request"`
	ResumeToken  []byte           `json:"resume_token"`
	Status       PendingStatus    `json:"status"`
	Outcome      *TransferOutcome `json:"outcome,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	PollCount    int              `json:"poll_count"`
	CreatedAt    time.Time        `json:"created_at"`
	LastPolledAt *time.Time       `json:"last_polled_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Resolve stores a final outcome. Expired records carry no outcome.
func (p *PendingTransfer) Resolve(outcome TransferOutcome, now time.Time) {
	p.Status = StatusResolved
	p.Outcome = &outcome
	p.LastError = ""
	p.UpdatedAt = now
}

// MarkPolled records a still-pending poll and the bank's refreshed resume token.
func (p *PendingTransfer) MarkPolled(token []byte, now time.Time) {
	if len(token) > 0 {
		p.ResumeToken = token
	}
	p.Status = StatusAwaitingApproval
	p.LastError = ""
	p.PollCount++
	p.LastPolledAt = &now
	p.UpdatedAt = now
}

// Clone returns a deep copy so stores can hand out records without sharing state.
func (p *PendingTransfer) Clone() *PendingTransfer {
	c := *p
	if p.ResumeToken != nil {
		c.ResumeToken = append([]byte(nil), p.ResumeToken...)
	}
	if p.Outcome != nil {
		o := *p.Outcome
		if p.Outcome.Responses != nil {
			o.Responses = append([]BankResponse(nil), p.Outcome.Responses...)
		}
		c.Outcome = &o
	}
	if p.LastPolledAt != nil {
		t := *p.LastPolledAt
		c.LastPolledAt = &t
	}
	return &c
}

// PendingSummary is the list view of a pending transfer. It never carries the resume token.
type PendingSummary struct {
	ID           string        `json:"id"`
	Status       PendingStatus `json:"status"`
	ToIBAN       string        `json:"to_iban"`
	ToName       string        `json:"to_name"`
	Amount       string        `json:"amount"`
	Currency     string        `json:"currency"`
	Reason       string        `json:"reason"`
	CreatedAt    time.Time     `json:"created_at"`
	LastPolledAt *time.Time    `json:"last_polled_at,omitempty"`
}

func (p *PendingTransfer) Summary() PendingSummary {
	return PendingSummary{
		ID:           p.ID,
		Status:       p.Status,
		ToIBAN:       p.Request.ToIBAN,
		ToName:       p.Request.ToName,
		Amount:       p.Request.Amount.StringFixed(2),
		Currency:     p.Request.Currency,
		Reason:       p.Request.Reason,
		CreatedAt:    p.CreatedAt,
		LastPolledAt: p.LastPolledAt,
	}
}

// MutateFunc changes a record in place while the store holds its lock.
// Returning an error aborts the write.
type MutateFunc func(p *PendingTransfer) error

// PendingRepository persists pending transfers. Implementations serialize all
// mutations of a single id and never expose a partially written record.
type PendingRepository interface {
	Create(ctx context.Context, req TransferRequest, resumeToken []byte, status PendingStatus) (*PendingTransfer, error)
	Get(ctx context.Context, id string) (*PendingTransfer, error)
	Update(ctx context.Context, id string, status PendingStatus, outcome *TransferOutcome) (*PendingTransfer, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*PendingTransfer, error)
	List(ctx context.Context, filter PendingFilter) ([]*PendingTransfer, error)
	Delete(ctx context.Context, id string) error
}

// PendingFilter narrows List results. The zero value lists everything.
type PendingFilter struct {
	Status   PendingStatus
	LiveOnly bool
	Limit    int
}

func (f PendingFilter) Match(p *PendingTransfer) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.LiveOnly && p.Status.Terminal() {
		return false
	}
	return true
}
