package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
	"fints-agent/internal/service"
)

const (
	formatPretty = "pretty"
	formatTSV    = "tsv"
	formatJSON   = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatPretty, formatTSV, formatJSON:
		return nil
	}
	return errors.NewAppErrorf(errors.InvalidInput, "unknown format %q (pretty, tsv or json)", format)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printRequest(w io.Writer, req domain.TransferRequest) {
	if req.FromIBAN != "" {
		fmt.Fprintf(w, "  From:    %s\n", req.FromIBAN)
	}
	fmt.Fprintf(w, "  To:      %s (%s)\n", req.ToName, req.ToIBAN)
	if req.ToBIC != "" {
		fmt.Fprintf(w, "  BIC:     %s\n", req.ToBIC)
	}
	fmt.Fprintf(w, "  Amount:  %s %s\n", req.Amount.StringFixed(2), req.Currency)
	fmt.Fprintf(w, "  Purpose: %s\n", req.Reason)
	if req.Instant {
		fmt.Fprintln(w, "  Instant: yes")
	}
}

func printResumeHint(w io.Writer, id string) {
	fmt.Fprintf(w, "Pending ID: %s\n", id)
	fmt.Fprintf(w, "Check status: %s transfer-status --id %s\n", binaryName, id)
}

func printNotFinal(w io.Writer, id string) {
	fmt.Fprintf(w, "Pending ID %s: not final yet.\n", id)
	fmt.Fprintf(w, "Resume: %s transfer-status --id %s --wait\n", binaryName, id)
}

func printFinal(w io.Writer, outcome domain.TransferOutcome) {
	fmt.Fprintln(w, "Final result:")
	fmt.Fprintln(w, outcome.StatusLine())
	for _, r := range outcome.ResponseLines() {
		fmt.Fprintf(w, " - %s %s\n", r.Code, r.Text)
	}
}

// printOutcome renders what a transfer or status command ended with. The
// error is still returned by the caller so that the exit code follows it.
func printOutcome(w io.Writer, outcome domain.TransferOutcome, err error) {
	switch {
	case errors.HasCode(err, errors.ValidationError):
		return
	case outcome.Terminal():
		printFinal(w, outcome)
	case outcome.Kind == domain.OutcomePending && (err == nil || errors.HasCode(err, errors.ApprovalTimeout)):
		printNotFinal(w, outcome.PendingID)
	}
}

func printAccounts(w io.Writer, overviews []service.AccountOverview, format string) error {
	if format == formatJSON {
		return printJSON(w, overviews)
	}

	if format == formatTSV {
		fmt.Fprintln(w, "iban\tbalance\tcurrency\tproduct")
		for _, o := range overviews {
			amount, currency := balanceFields(o)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Account.IBAN, amount, currency, o.Account.ProductName)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IBAN\tBALANCE\tCURRENCY\tPRODUCT")
	for _, o := range overviews {
		amount, currency := balanceFields(o)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Account.IBAN, amount, currency, o.Account.ProductName)
	}
	return tw.Flush()
}

func balanceFields(o service.AccountOverview) (string, string) {
	if o.Balance == nil {
		return "-", o.Account.Currency
	}
	return o.Balance.Amount.StringFixed(2), o.Balance.Currency
}

func printTransactions(w io.Writer, txs []domain.Transaction, format string, maxPurpose int) error {
	if format == formatJSON {
		if txs == nil {
			txs = []domain.Transaction{}
		}
		return printJSON(w, txs)
	}

	if format == formatTSV {
		fmt.Fprintln(w, "date\tamount\tcurrency\tcounterparty\tcounterparty_iban\tpurpose")
		for _, tx := range txs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(2), tx.Currency,
				tsvField(tx.Counterparty), tx.CounterpartyIBAN, tsvField(truncate(tx.Purpose, maxPurpose)))
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s %s\t  %s\t  %s\t\n",
			tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(2), tx.Currency,
			tx.Counterparty, truncate(tx.Purpose, maxPurpose))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTransactions: %d\n", len(txs))
	return nil
}

func printPendingList(w io.Writer, records []*domain.PendingTransfer, format string) error {
	summaries := make([]domain.PendingSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}

	switch format {
	case formatJSON:
		return printJSON(w, summaries)
	case formatTSV:
		fmt.Fprintln(w, "id\tstatus\tcreated_at\tamount\tcurrency\tto_name\tto_iban")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Status, s.CreatedAt.Format(time.RFC3339),
				s.Amount, s.Currency, tsvField(s.ToName), s.ToIBAN)
		}
		return nil
	}

	if len(summaries) == 0 {
		fmt.Fprintln(w, "No pending transfers.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tAMOUNT\tTO")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s (%s)\n",
			s.ID, s.Status, s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Amount, s.Currency, s.ToName, domain.MaskIBAN(s.ToIBAN))
	}
	return tw.Flush()
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func tsvField(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}
