package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a SEPA account visible to the logged-in user.
type Account struct {
	IBAN        string `json:"iban"`
	BIC         string `json:"bic,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

type Balance struct {
	IBAN     string          `json:"iban"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Date     time.Time       `json:"date"`
}

// Transaction is a booked statement line, already normalized by the bank client.
type Transaction struct {
	Date             time.Time       `json:"date"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Counterparty     string          `json:"counterparty"`
	CounterpartyIBAN string          `json:"counterparty_iban,omitempty"`
	Purpose          string          `json:"purpose"`
}
