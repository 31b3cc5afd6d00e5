package domain

import "fmt"

// OutcomeKind tags the TransferOutcome variant.
type OutcomeKind string

const (
	OutcomeCompleted       OutcomeKind = "completed"
	OutcomeRejected        OutcomeKind = "rejected"
	OutcomePending         OutcomeKind = "pending"
	OutcomeDryRunValidated OutcomeKind = "dry_run_validated"
)

// ReasonValidation is the reason code for requests refused before any bank contact.
const ReasonValidation = "validation"

// BankResponse is one code/text line returned by the bank.
type BankResponse struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// TransferOutcome is the result of one transfer attempt. Exactly one variant is
// populated, selected by Kind. Outcomes are values and are never mutated once produced.
type TransferOutcome struct {
	Kind OutcomeKind `json:"kind"`

	// Completed
	BankReference string         `json:"bank_reference,omitempty"`
	ResponseCode  string         `json:"response_code,omitempty"`
	ResponseText  string         `json:"response_text,omitempty"`
	Responses     []BankResponse `json:"responses,omitempty"`

	// Rejected
	ReasonCode string `json:"reason_code,omitempty"`
	ReasonText string `json:"reason_text,omitempty"`

	// Pending
	PendingID string `json:"pending_id,omitempty"`
}

func Completed(bankReference, code, text string, responses ...BankResponse) TransferOutcome {
	return TransferOutcome{
		Kind:          OutcomeCompleted,
		BankReference: bankReference,
		ResponseCode:  code,
		ResponseText:  text,
		Responses:     responses,
	}
}

func Rejected(reasonCode, reasonText string, responses ...BankResponse) TransferOutcome {
	return TransferOutcome{
		Kind:       OutcomeRejected,
		ReasonCode: reasonCode,
		ReasonText: reasonText,
		Responses:  responses,
	}
}

func Pending(pendingID string) TransferOutcome {
	return TransferOutcome{Kind: OutcomePending, PendingID: pendingID}
}

func DryRunValidated() TransferOutcome {
	return TransferOutcome{Kind: OutcomeDryRunValidated}
}

// Terminal reports whether the outcome ends the transfer lifecycle.
func (o TransferOutcome) Terminal() bool {
	return o.Kind == OutcomeCompleted || o.Kind == OutcomeRejected
}

// StatusLine is the single-line summary printed after "Final result:".
func (o TransferOutcome) StatusLine() string {
	switch o.Kind {
	case OutcomeCompleted:
		if o.BankReference != "" {
			return fmt.Sprintf("SUCCESS (reference %s)", o.BankReference)
		}
		return "SUCCESS"
	case OutcomeRejected:
		return fmt.Sprintf("REJECTED %s %s", o.ReasonCode, o.ReasonText)
	case OutcomePending:
		return fmt.Sprintf("PENDING %s", o.PendingID)
	case OutcomeDryRunValidated:
		return "DRY-RUN OK"
	default:
		return string(o.Kind)
	}
}

// ResponseLines returns the bank responses to print, falling back to the primary code/text.
func (o TransferOutcome) ResponseLines() []BankResponse {
	if len(o.Responses) > 0 {
		return o.Responses
	}
	switch {
	case o.ResponseCode != "" || o.ResponseText != "":
		return []BankResponse{{Code: o.ResponseCode, Text: o.ResponseText}}
	case o.Kind == OutcomeRejected && (o.ReasonCode != "" || o.ReasonText != ""):
		return []BankResponse{{Code: o.ReasonCode, Text: o.ReasonText}}
	}
	return nil
}
