package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"fints-agent/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountService.Accounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

// Transactions serves the statement of the last ?days (default 30).
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	iban := mux.Vars(r)["iban"]

	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, err)
		return
	}
	if days == 0 {
		days = 30
	}

	txs, err := h.accountService.Transactions(r.Context(), iban, days)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txs)
}

func (h *AccountHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := h.accountService.Capabilities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, caps)
}
