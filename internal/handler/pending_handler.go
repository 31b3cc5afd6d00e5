package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
	"fints-agent/internal/logger"
	"fints-agent/internal/service"
)

type PendingHandler struct {
	transferService *service.TransferService
	pollTimeout     time.Duration
}

func NewPendingHandler(transferService *service.TransferService, pollTimeout time.Duration) *PendingHandler {
	return &PendingHandler{
		transferService: transferService,
		pollTimeout:     pollTimeout,
	}
}

// PendingResponse is the detail view of a record. The resume token is never served.
type PendingResponse struct {
	domain.PendingSummary
	PollCount int                     `json:"poll_count"`
	LastError string                  `json:"last_error,omitempty"`
	Outcome   *domain.TransferOutcome `json:"outcome,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func newPendingResponse(p *domain.PendingTransfer) PendingResponse {
	return PendingResponse{
		PendingSummary: p.Summary(),
		PollCount:      p.PollCount,
		LastError:      p.LastError,
		Outcome:        p.Outcome,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (h *PendingHandler) List(w http.ResponseWriter, r *http.Request) {
	live, err := queryBool(r, "live")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	status := domain.PendingStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, errors.NewAppErrorf(errors.InvalidInput, "unknown status %q", status))
		return
	}

	records, err := h.transferService.ListPending(r.Context(), domain.PendingFilter{Status: status, LiveOnly: live, Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := make([]domain.PendingSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *PendingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.transferService.GetPending(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newPendingResponse(rec))
}

// Poll checks the record once, or waits when ?wait=true.
func (h *PendingHandler) Poll(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wait, err := queryBool(r, "wait")
	if err != nil {
		writeError(w, err)
		return
	}
	timeout, err := queryDuration(r, "timeout", h.pollTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	interval, err := queryDuration(r, "interval", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.transferService.PollPending(r.Context(), id, service.PollOptions{Wait: wait, Interval: interval, Timeout: timeout})
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Info().Err(err).Str("pending_id", id).Msg("poll did not reach a final result")
		writeError(w, err)
		return
	}

	writeJSON(w, outcomeStatus(outcome), outcome)
}

func (h *PendingHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	force, err := queryBool(r, "force")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.transferService.DiscardPending(r.Context(), id, force); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
