package statement

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/ledger"
)

func renderableResult(t *testing.T) *Result {
	t.Helper()

	txns := &fakeTransactionRepository{rows: []*bigquery.TransactionRow{
		txnRow("ch_1", 2, ledger.TypeCharge, ledger.StatusSucceeded, 10000, 300),
	}}
	gen := newTestGenerator(txns, newFakeStatementRepository())
	account := &bigquery.AccountRow{AccountID: "acct_hk", Name: "HK Merchant"}

	res, err := gen.Generate(context.Background(), account, 2025, 8, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return res
}

func TestRenderText_FeeOnOwnLine(t *testing.T) {
	res := renderableResult(t)

	var buf bytes.Buffer
	if err := RenderText(&buf, res); err != nil {
		t.Fatalf("RenderText failed: %v", err)
	}
	out := buf.String()

	// A 100.00 charge with a 3.00 fee must show as two lines carrying the
	// gross amounts, never a combined net line.
	payment := lineWithNature(out, "Gross Payment")
	if payment == "" {
		t.Fatal("Missing Gross Payment line")
	}
	if !strings.Contains(payment, "100.00") {
		t.Errorf("Gross Payment line carries wrong amount: %q", payment)
	}
	fee := lineWithNature(out, "Processing Fee")
	if fee == "" {
		t.Fatal("Missing Processing Fee line")
	}
	if !strings.Contains(fee, "3.00") {
		t.Errorf("Processing Fee line carries wrong amount: %q", fee)
	}
	if !strings.Contains(out, "Opening Balance") || !strings.Contains(out, "Closing Balance") {
		t.Error("Missing opening/closing lines")
	}
}

func TestRenderCSV(t *testing.T) {
	res := renderableResult(t)

	var buf bytes.Buffer
	if err := RenderCSV(&buf, res); err != nil {
		t.Fatalf("RenderCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Reading rendered CSV: %v", err)
	}

	// header + opening + payment + fee + closing
	if len(records) != 5 {
		t.Fatalf("Expected 5 CSV records, got %d", len(records))
	}
	if records[0][0] != "date" {
		t.Errorf("Header = %v", records[0])
	}
	// Amounts stay in minor units.
	if records[2][3] != "10000" {
		t.Errorf("Payment debit = %q, want 10000", records[2][3])
	}
	if records[3][4] != "300" {
		t.Errorf("Fee credit = %q, want 300", records[3][4])
	}
}

// lineWithNature returns the first rendered line naming the given nature.
func lineWithNature(out, nature string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, nature) {
			return line
		}
	}
	return ""
}

func TestFormatMinor(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{12345, "123.45"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		if got := formatMinor(tt.in); got != tt.want {
			t.Errorf("formatMinor(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
