package domain

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"fints-agent/internal/errors"
)

const (
	DefaultCurrency   = "EUR"
	MaxReasonLength   = 140
	MinReasonLength   = 2
	MinNameLength     = 2
	MaxNameLength     = 70
	MaxEndToEndLength = 35
	// MaxAmountDigits bounds the integer part of an amount.
	MaxAmountDigits = 12
)

var (
	amountPattern     = regexp.MustCompile(`^[0-9]{1,12}([.,][0-9]{1,2})?$`)
	bicPattern        = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	sepaTextPattern   = regexp.MustCompile(`^[A-Za-z0-9/\-?:().,'+ &*$%ÄÖÜäöüß]*$`)
	endToEndIDPattern = regexp.MustCompile(`^[A-Za-z0-9/\-?:().,'+]*$`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// TransferRequest is a single SEPA credit transfer as the user asked for it.
// It is built once per intent and never mutated afterwards.
type TransferRequest struct {
	FromIBAN   string          `json:"from_iban,omitempty"`
	ToIBAN     string          `json:"to_iban"`
	ToBIC      string          `json:"to_bic,omitempty"`
	ToName     string          `json:"to_name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	EndToEndID string          `json:"end_to_end_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	Instant    bool            `json:"instant,omitempty"`
}

// NewTransferRequest normalizes IBANs, BIC and free text. It does not validate.
func NewTransferRequest(fromIBAN, toIBAN, toBIC, toName string, amount decimal.Decimal, reason string) TransferRequest {
	return TransferRequest{
		FromIBAN: NormalizeIBAN(fromIBAN),
		ToIBAN:   NormalizeIBAN(toIBAN),
		ToBIC:    strings.ToUpper(strings.TrimSpace(toBIC)),
		ToName:   strings.TrimSpace(toName),
		Amount:   amount,
		Currency: DefaultCurrency,
		Reason:   strings.TrimSpace(reason),
	}
}

// ParseAmount parses a user supplied amount such as "12.34" or "12,34".
// Thousands separators, signs and exponents are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if !amountPattern.MatchString(s) {
		return decimal.Zero, errors.NewAppErrorf(errors.ValidationError, "invalid amount: %s", raw)
	}
	amount, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return decimal.Zero, errors.NewAppErrorf(errors.ValidationError, "invalid amount: %s", raw)
	}
	return amount, nil
}

// Validate checks the request locally. It never talks to the bank.
func (r TransferRequest) Validate() error {
	if r.FromIBAN != "" && !ValidIBAN(r.FromIBAN) {
		return errors.NewAppErrorf(errors.ValidationError, "invalid sender IBAN: %s", r.FromIBAN)
	}
	if !ValidIBAN(r.ToIBAN) {
		return errors.NewAppErrorf(errors.ValidationError, "invalid recipient IBAN: %s", r.ToIBAN)
	}
	if r.FromIBAN != "" && r.FromIBAN == r.ToIBAN {
		return errors.NewAppError(errors.ValidationError, "sender and recipient IBAN are identical")
	}
	if r.ToBIC != "" && !bicPattern.MatchString(r.ToBIC) {
		return errors.NewAppErrorf(errors.ValidationError, "invalid recipient BIC: %s", r.ToBIC)
	}
	if !r.Amount.IsPositive() {
		return errors.NewAppError(errors.ValidationError, "amount must be > 0")
	}
	// Bounded before Round, which is linear in the exponent.
	if exp := r.Amount.Exponent(); exp > MaxAmountDigits || exp < -2*MaxAmountDigits ||
		r.Amount.NumDigits()+int(exp) > MaxAmountDigits {
		return errors.NewAppErrorf(errors.ValidationError, "amount is out of range (max %d digits before the decimal point)", MaxAmountDigits)
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return errors.NewAppError(errors.ValidationError, "amount must not have more than two decimal places")
	}
	if r.Currency != "" && r.Currency != DefaultCurrency {
		return errors.NewAppErrorf(errors.ValidationError, "unsupported currency: %s", r.Currency)
	}

	nameLen := utf8.RuneCountInString(r.ToName)
	if nameLen < MinNameLength {
		return errors.NewAppError(errors.ValidationError, "recipient name is too short")
	}
	if nameLen > MaxNameLength {
		return errors.NewAppErrorf(errors.ValidationError, "recipient name is too long (max %d chars)", MaxNameLength)
	}
	if !sepaTextPattern.MatchString(r.ToName) {
		return errors.NewAppError(errors.ValidationError, "recipient name contains characters outside the SEPA character set")
	}

	reasonLen := utf8.RuneCountInString(r.Reason)
	if reasonLen < MinReasonLength {
		return errors.NewAppError(errors.ValidationError, "purpose is too short")
	}
	if reasonLen > MaxReasonLength {
		return errors.NewAppErrorf(errors.ValidationError, "purpose is too long (max %d chars)", MaxReasonLength)
	}
	if !sepaTextPattern.MatchString(r.Reason) {
		return errors.NewAppError(errors.ValidationError, "purpose contains characters outside the SEPA character set")
	}

	if len(r.EndToEndID) > MaxEndToEndLength || !endToEndIDPattern.MatchString(r.EndToEndID) {
		return errors.NewAppErrorf(errors.ValidationError, "invalid end-to-end id: %s", r.EndToEndID)
	}
	return nil
}

// NormalizeIBAN strips whitespace and upper-cases.
func NormalizeIBAN(value string) string {
	return strings.ToUpper(whitespace.ReplaceAllString(value, ""))
}

// ValidIBAN checks length, alphabet and the ISO 13616 mod-97 checksum.
func ValidIBAN(value string) bool {
	iban := NormalizeIBAN(value)
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	remainder := 0
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			remainder = (remainder*10 + int(ch-'0')) % 97
		case ch >= 'A' && ch <= 'Z':
			digits := strconv.Itoa(int(ch-'A') + 10)
			for _, d := range digits {
				remainder = (remainder*10 + int(d-'0')) % 97
			}
		default:
			return false
		}
	}
	return remainder == 1
}

// MaskIBAN keeps the country code, check digits and last four characters.
func MaskIBAN(value string) string {
	iban := NormalizeIBAN(value)
	if len(iban) <= 8 {
		return iban
	}
	return iban[:4] + strings.Repeat("*", len(iban)-8) + iban[len(iban)-4:]
}
