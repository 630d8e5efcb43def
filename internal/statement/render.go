package statement

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dvloznov/stripe-reconciler/internal/ledger"
)

// formatMinor renders minor units as a decimal string for display. This is
// the only place amounts leave integer arithmetic.
func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// RenderText writes the statement as a fixed-width table in the shape the
// processor's own statements use: opening line, one line per ledger entry
// with fees on their own lines, a subtotal, and the closing line.
func RenderText(w io.Writer, res *Result) error {
	cur := strings.ToUpper(res.Currency)
	if cur == "" {
		cur = "N/A"
	}

	fmt.Fprintf(w, "Statement for %s (%s)\n", res.Account.Name, res.Account.AccountID)
	fmt.Fprintf(w, "Period: %s    Currency: %s\n", PeriodLabel(res.Year, res.Month), cur)
	fmt.Fprintf(w, "Opening Balance: %s    Closing Balance: %s\n\n",
		formatMinor(res.Row.OpeningBalance), formatMinor(res.Row.ClosingBalance))

	fmt.Fprintf(w, "%-12s %-20s %-28s %12s %12s %12s  %s\n",
		"Date", "Nature", "Party", "Debit", "Credit", "Balance", "Description")
	fmt.Fprintln(w, strings.Repeat("-", 135))

	for _, line := range res.Ledger.Lines {
		debit, credit := "", ""
		if line.Debit != 0 {
			debit = formatMinor(line.Debit)
		}
		if line.Credit != 0 {
			credit = formatMinor(line.Credit)
		}
		fmt.Fprintf(w, "%-12s %-20s %-28s %12s %12s %12s  %s\n",
			line.Date.Format("2006-01-02"),
			line.Nature,
			truncate(line.Party, 28),
			debit,
			credit,
			formatMinor(line.Balance),
			line.Description)
	}

	fmt.Fprintln(w, strings.Repeat("-", 135))
	fmt.Fprintf(w, "%-62s %12s %12s\n", "SUBTOTAL",
		formatMinor(res.Ledger.Totals.Charges),
		formatMinor(res.Ledger.Totals.Fees+res.Ledger.Totals.Refunds+res.Ledger.Totals.Payouts))

	fmt.Fprintf(w, "\nTotal Charges:  %12s\n", formatMinor(res.Row.TotalCharges))
	fmt.Fprintf(w, "Total Refunds:  %12s\n", formatMinor(res.Row.TotalRefunds))
	fmt.Fprintf(w, "Total Fees:     %12s\n", formatMinor(res.Row.TotalFees))
	fmt.Fprintf(w, "Total Payouts:  %12s\n", formatMinor(res.Row.TotalPayouts))

	if payments := customerPayments(res.Ledger); len(payments) > 0 {
		fmt.Fprintf(w, "\nCustomer Payments (%d)\n", len(payments))
		fmt.Fprintf(w, "%-12s %-40s %15s\n", "Date", "Customer", "Amount")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		var total int64
		for _, p := range payments {
			fmt.Fprintf(w, "%-12s %-40s %15s\n",
				p.Date.Format("2006-01-02"), truncate(p.Party, 40), formatMinor(p.Debit))
			total += p.Debit
		}
		fmt.Fprintln(w, strings.Repeat("-", 70))
		fmt.Fprintf(w, "%-53s %15s\n", "Total Customer Payments:", formatMinor(total))
	}

	fmt.Fprintf(w, "\nUse this closing balance as next month's opening balance: %s\n",
		formatMinor(res.Row.ClosingBalance))

	return nil
}

// RenderCSV writes the ledger lines as CSV for archiving and downstream
// tooling. Amounts stay in minor units so consumers never parse decimals.
func RenderCSV(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)

	header := []string{"date", "nature", "party", "debit", "credit", "balance", "description", "stripe_id"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("RenderCSV: writing header: %w", err)
	}

	for _, line := range res.Ledger.Lines {
		record := []string{
			line.Date.Format("2006-01-02"),
			string(line.Nature),
			line.Party,
			strconv.FormatInt(line.Debit, 10),
			strconv.FormatInt(line.Credit, 10),
			strconv.FormatInt(line.Balance, 10),
			line.Description,
			line.StripeID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("RenderCSV: writing line: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("RenderCSV: flushing: %w", err)
	}
	return nil
}

func customerPayments(led *ledger.Ledger) []ledger.Line {
	var payments []ledger.Line
	for _, line := range led.Lines {
		if line.Nature == ledger.NatureGrossPayment {
			payments = append(payments, line)
		}
	}
	return payments
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
