package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
	"fints-agent/internal/logger"
	"fints-agent/internal/service"
)

const maxTransferBody = 64 << 10

type TransferHandler struct {
	transferService *service.TransferService
	pollTimeout     time.Duration
}

func NewTransferHandler(transferService *service.TransferService, pollTimeout time.Duration) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
		pollTimeout:     pollTimeout,
	}
}

type TransferRequest struct {
	FromIBAN   string `json:"from_iban"`
	ToIBAN     string `json:"to_iban"`
	ToBIC      string `json:"to_bic,omitempty"`
	ToName     string `json:"to_name"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
	Instant    bool   `json:"instant,omitempty"`
	EndToEndID string `json:"end_to_end_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	// Mode defaults to async_submit; nobody can approve a prompt over HTTP.
	Mode        string `json:"mode,omitempty"`
	AutoConfirm bool   `json:"auto_confirm,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// outcomeStatus maps a successful outcome to the HTTP status it is served with.
func outcomeStatus(outcome domain.TransferOutcome) int {
	switch outcome.Kind {
	case domain.OutcomePending:
		return http.StatusAccepted
	case domain.OutcomeCompleted:
		return http.StatusCreated
	default:
		return http.StatusOK
	}
}

func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTransferBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	mode := service.ModeAsyncSubmit
	if req.Mode != "" {
		if mode, err = service.ParseMode(req.Mode); err != nil {
			writeError(w, err)
			return
		}
	}

	pollTimeout := h.pollTimeout
	if req.PollTimeout != "" {
		pollTimeout, err = time.ParseDuration(req.PollTimeout)
		if err != nil || pollTimeout < 0 {
			writeError(w, errors.NewAppError(errors.InvalidInput, "invalid poll_timeout format").WithDetails("use a duration like 30s"))
			return
		}
	}

	transfer := domain.NewTransferRequest(req.FromIBAN, req.ToIBAN, req.ToBIC, req.ToName, amount, req.Reason)
	transfer.Instant = req.Instant
	transfer.EndToEndID = req.EndToEndID
	transfer.SenderName = req.SenderName

	outcome, err := h.transferService.Execute(r.Context(), transfer, mode, service.ExecuteOptions{
		AutoConfirm: req.AutoConfirm,
		PollTimeout: pollTimeout,
	})
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Info().Err(err).Str("mode", string(mode)).Msg("transfer request failed")
		writeError(w, err)
		return
	}

	writeJSON(w, outcomeStatus(outcome), outcome)
}
