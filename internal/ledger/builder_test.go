package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

var (
	periodStart = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 8, 31, 23, 59, 59, 0, time.UTC)
)

func day(d int) time.Time {
	return time.Date(2025, 8, d, 12, 0, 0, 0, time.UTC)
}

func charge(id string, d int, amount, fee int64) *Transaction {
	return &Transaction{
		StripeID:      id,
		AccountID:     "acct_test",
		Amount:        amount,
		Fee:           fee,
		Currency:      "hkd",
		Status:        StatusSucceeded,
		Type:          TypeCharge,
		StripeCreated: day(d),
	}
}

func TestBuild_EmptyPeriod(t *testing.T) {
	led, err := Build(periodStart, periodEnd, 4200, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(led.Lines) != 2 {
		t.Fatalf("Expected 2 lines (opening/closing), got %d", len(led.Lines))
	}
	if led.Lines[0].Nature != NatureOpeningBalance {
		t.Errorf("First line nature = %q, want %q", led.Lines[0].Nature, NatureOpeningBalance)
	}
	if led.Lines[1].Nature != NatureClosingBalance {
		t.Errorf("Last line nature = %q, want %q", led.Lines[1].Nature, NatureClosingBalance)
	}
	if led.Opening != 4200 || led.Closing != 4200 {
		t.Errorf("Expected opening == closing == 4200, got opening %d closing %d", led.Opening, led.Closing)
	}
}

func TestBuild_FeeIsSeparateLine(t *testing.T) {
	led, err := Build(periodStart, periodEnd, 0, []*Transaction{charge("ch_1", 5, 10000, 300)}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// opening, gross payment, processing fee, closing
	if len(led.Lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d", len(led.Lines))
	}

	payment := led.Lines[1]
	if payment.Nature != NatureGrossPayment || payment.Debit != 10000 || payment.Credit != 0 {
		t.Errorf("Payment line = %+v, want gross payment debit 10000", payment)
	}
	if payment.Balance != 10000 {
		t.Errorf("Balance after payment = %d, want 10000", payment.Balance)
	}

	fee := led.Lines[2]
	if fee.Nature != NatureProcessingFee || fee.Credit != 300 || fee.Debit != 0 {
		t.Errorf("Fee line = %+v, want processing fee credit 300", fee)
	}
	if fee.Balance != 9700 {
		t.Errorf("Balance after fee = %d, want 9700", fee.Balance)
	}

	if led.Closing != 9700 {
		t.Errorf("Closing = %d, want 9700", led.Closing)
	}
}

func TestBuild_Natures(t *testing.T) {
	txns := []*Transaction{
		charge("ch_1", 1, 5000, 0),
		{StripeID: "re_1", Type: TypeRefund, Status: StatusSucceeded, Amount: 1000, StripeCreated: day(2)},
		{StripeID: "po_1", Type: TypePayout, Status: StatusSucceeded, Amount: 3000, StripeCreated: day(3)},
		{StripeID: "adj_1", Type: TypeAdjustment, Status: StatusSucceeded, Amount: -250, StripeCreated: day(4)},
	}

	led, err := Build(periodStart, periodEnd, 0, txns, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	wantNatures := []Nature{
		NatureOpeningBalance,
		NatureGrossPayment,
		NatureRefund,
		NaturePayout,
		NatureAdjustment,
		NatureClosingBalance,
	}
	if len(led.Lines) != len(wantNatures) {
		t.Fatalf("Expected %d lines, got %d", len(wantNatures), len(led.Lines))
	}
	for i, want := range wantNatures {
		if led.Lines[i].Nature != want {
			t.Errorf("Line %d nature = %q, want %q", i, led.Lines[i].Nature, want)
		}
	}

	if led.Totals.Charges != 5000 || led.Totals.Refunds != 1000 || led.Totals.Payouts != 3000 || led.Totals.Adjustments != -250 {
		t.Errorf("Totals = %+v", led.Totals)
	}
	// 0 + 5000 - 1000 - 3000 - 250
	if led.Closing != 750 {
		t.Errorf("Closing = %d, want 750", led.Closing)
	}

	adj := led.Lines[4]
	if adj.Credit != 250 || adj.Debit != 0 {
		t.Errorf("Negative adjustment should render as credit 250, got %+v", adj)
	}
}

func TestBuild_NonSucceededCharges(t *testing.T) {
	failed := &Transaction{
		StripeID:      "ch_failed",
		Type:          TypeCharge,
		Status:        StatusFailed,
		Amount:        9999,
		StripeCreated: day(10),
	}

	tests := []struct {
		name      string
		opts      Options
		wantLines int
	}{
		{name: "filtered view drops it", opts: Options{}, wantLines: 2},
		{name: "unfiltered view shows it as informational", opts: Options{IncludeInformational: true}, wantLines: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			led, err := Build(periodStart, periodEnd, 100, []*Transaction{failed}, tt.opts)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if len(led.Lines) != tt.wantLines {
				t.Fatalf("Expected %d lines, got %d", tt.wantLines, len(led.Lines))
			}
			if led.Closing != 100 {
				t.Errorf("Failed charge must not move the balance: closing %d, want 100", led.Closing)
			}
			if led.Totals.Charges != 0 {
				t.Errorf("Failed charge must not count towards totals: %+v", led.Totals)
			}
			if tt.opts.IncludeInformational && led.Lines[1].Nature != NatureInformational {
				t.Errorf("Line nature = %q, want %q", led.Lines[1].Nature, NatureInformational)
			}
		})
	}
}

func TestBuild_DeterministicOrdering(t *testing.T) {
	// Same timestamp: ties break on stripe_id regardless of input order.
	a := charge("ch_a", 5, 100, 0)
	b := charge("ch_b", 5, 200, 0)

	first, err := Build(periodStart, periodEnd, 0, []*Transaction{b, a}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	second, err := Build(periodStart, periodEnd, 0, []*Transaction{a, b}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if first.Lines[1].StripeID != "ch_a" || second.Lines[1].StripeID != "ch_a" {
		t.Errorf("Tie-break should order ch_a first: got %q and %q",
			first.Lines[1].StripeID, second.Lines[1].StripeID)
	}
	for i := range first.Lines {
		if first.Lines[i] != second.Lines[i] {
			t.Errorf("Line %d differs between permutations: %+v vs %+v", i, first.Lines[i], second.Lines[i])
		}
	}
}

func TestBuild_DuplicateStripeID(t *testing.T) {
	txns := []*Transaction{
		charge("ch_dup", 1, 100, 0),
		charge("ch_dup", 2, 200, 0),
	}

	_, err := Build(periodStart, periodEnd, 0, txns, Options{})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}
}

// TestBuild_BalanceInvariant drives random transaction sequences through the
// builder and checks closing == opening + charges - fees - refunds - payouts
// (+ adjustments) on every one of them.
func TestBuild_BalanceInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(20250831))

	types := []Type{TypeCharge, TypeRefund, TypePayout, TypeTransfer, TypeAdjustment}
	statuses := []Status{StatusSucceeded, StatusPending, StatusFailed, StatusCanceled}

	for run := 0; run < 200; run++ {
		n := rng.Intn(40)
		opening := int64(rng.Intn(100000)) - 50000

		txns := make([]*Transaction, 0, n)
		for i := 0; i < n; i++ {
			txn := &Transaction{
				StripeID:      fmt.Sprintf("txn_%03d", i),
				Amount:        int64(rng.Intn(20000)) - 2000,
				Currency:      "hkd",
				Type:          types[rng.Intn(len(types))],
				Status:        statuses[rng.Intn(len(statuses))],
				StripeCreated: day(1 + rng.Intn(28)),
			}
			if txn.Type == TypeCharge && rng.Intn(2) == 0 {
				txn.Fee = int64(rng.Intn(500))
			}
			txns = append(txns, txn)
		}

		led, err := Build(periodStart, periodEnd, opening, txns, Options{})
		if err != nil {
			t.Fatalf("run %d: Build failed: %v", run, err)
		}

		want := opening + led.Totals.Charges - led.Totals.Fees - led.Totals.Refunds - led.Totals.Payouts + led.Totals.Adjustments
		if led.Closing != want {
			t.Fatalf("run %d: closing %d, want %d (totals %+v)", run, led.Closing, want, led.Totals)
		}
	}
}
