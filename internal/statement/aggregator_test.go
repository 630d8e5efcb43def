package statement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/ledger"
)

type fakeAccountRepository struct {
	accounts map[string]*bigquery.AccountRow
}

func (f *fakeAccountRepository) FindAccount(ctx context.Context, nameOrID string) (*bigquery.AccountRow, error) {
	for _, acc := range f.accounts {
		if acc.Name == nameOrID || acc.AccountID == nameOrID {
			return acc, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepository) ListAllAccounts(ctx context.Context) ([]*bigquery.AccountRow, error) {
	var out []*bigquery.AccountRow
	for _, acc := range f.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func (f *fakeAccountRepository) UpsertAccount(ctx context.Context, row *bigquery.AccountRow) (string, error) {
	f.accounts[row.AccountID] = row
	return row.AccountID, nil
}

type fakeTransactionRepository struct {
	rows []*bigquery.TransactionRow
}

func (f *fakeTransactionRepository) InsertTransactions(ctx context.Context, rows []*bigquery.TransactionRow) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeTransactionRepository) QueryTransactionsByAccountAndRange(ctx context.Context, accountID string, start, end time.Time) ([]*bigquery.TransactionRow, error) {
	var out []*bigquery.TransactionRow
	for _, row := range f.rows {
		if row.AccountID == accountID && !row.StripeCreated.Before(start) && !row.StripeCreated.After(end) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeTransactionRepository) QuerySucceededCharges(ctx context.Context, accountID string, start, end time.Time) ([]*bigquery.TransactionRow, error) {
	rows, _ := f.QueryTransactionsByAccountAndRange(ctx, accountID, start, end)
	var out []*bigquery.TransactionRow
	for _, row := range rows {
		if row.Type == string(ledger.TypeCharge) && row.Status == string(ledger.StatusSucceeded) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeTransactionRepository) TransactionExists(ctx context.Context, accountID, stripeID string) (bool, error) {
	for _, row := range f.rows {
		if row.AccountID == accountID && row.StripeID == stripeID {
			return true, nil
		}
	}
	return false, nil
}

type fakeStatementRepository struct {
	statements map[string]*bigquery.StatementRow
	upserts    int
}

func newFakeStatementRepository() *fakeStatementRepository {
	return &fakeStatementRepository{statements: make(map[string]*bigquery.StatementRow)}
}

func stmtKey(accountID string, year, month int) string {
	return fmt.Sprintf("%s/%d-%02d", accountID, year, month)
}

func (f *fakeStatementRepository) UpsertStatement(ctx context.Context, row *bigquery.StatementRow) error {
	f.upserts++
	// Store a copy so assertions compare against what was handed over at
	// upsert time, not whatever the caller's pointer later holds.
	rowCopy := *row
	f.statements[stmtKey(row.AccountID, int(row.Year), int(row.Month))] = &rowCopy
	return nil
}

func (f *fakeStatementRepository) FindStatement(ctx context.Context, accountID string, year, month int) (*bigquery.StatementRow, error) {
	return f.statements[stmtKey(accountID, year, month)], nil
}

func (f *fakeStatementRepository) ListStatementsByAccount(ctx context.Context, accountID string) ([]*bigquery.StatementRow, error) {
	var out []*bigquery.StatementRow
	for _, row := range f.statements {
		if row.AccountID == accountID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStatementRepository) MarkReconciled(ctx context.Context, accountID string, year, month int, reconciledBy string) error {
	row, ok := f.statements[stmtKey(accountID, year, month)]
	if !ok {
		return fmt.Errorf("statement not found")
	}
	row.IsReconciled.Bool = true
	row.IsReconciled.Valid = true
	row.ReconciledBy.StringVal = reconciledBy
	row.ReconciledBy.Valid = true
	return nil
}

func txnRow(id string, day int, typ ledger.Type, status ledger.Status, amount, fee int64) *bigquery.TransactionRow {
	return &bigquery.TransactionRow{
		StripeID:      id,
		AccountID:     "acct_hk",
		Amount:        amount,
		Fee:           fee,
		Currency:      "hkd",
		Status:        string(status),
		Type:          string(typ),
		StripeCreated: time.Date(2025, 8, day, 12, 0, 0, 0, time.UTC),
	}
}

func newTestGenerator(txns *fakeTransactionRepository, statements *fakeStatementRepository) *Generator {
	accounts := &fakeAccountRepository{accounts: map[string]*bigquery.AccountRow{
		"acct_hk": {AccountID: "acct_hk", Name: "HK Merchant"},
	}}
	return NewGenerator(accounts, txns, statements, nil)
}

func TestGenerate_TotalsAndPersistence(t *testing.T) {
	txns := &fakeTransactionRepository{rows: []*bigquery.TransactionRow{
		txnRow("ch_1", 1, ledger.TypeCharge, ledger.StatusSucceeded, 10000, 300),
		txnRow("ch_2", 3, ledger.TypeCharge, ledger.StatusSucceeded, 5000, 150),
		txnRow("re_1", 5, ledger.TypeRefund, ledger.StatusRefunded, 2000, 0),
		txnRow("po_1", 7, ledger.TypePayout, ledger.StatusSucceeded, 8000, 0),
	}}
	statements := newFakeStatementRepository()
	gen := newTestGenerator(txns, statements)
	account, err := gen.ResolveAccount(context.Background(), "HK Merchant")
	if err != nil {
		t.Fatalf("ResolveAccount failed: %v", err)
	}

	res, err := gen.Generate(context.Background(), account, 2025, 8, Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	row := res.Row
	if row.TotalCharges != 15000 || row.TotalFees != 450 || row.TotalRefunds != 2000 || row.TotalPayouts != 8000 {
		t.Errorf("Totals = charges %d fees %d refunds %d payouts %d",
			row.TotalCharges, row.TotalFees, row.TotalRefunds, row.TotalPayouts)
	}
	// 0 + 15000 - 450 - 2000 - 8000
	if row.ClosingBalance != 4550 {
		t.Errorf("Closing = %d, want 4550", row.ClosingBalance)
	}
	if res.NextOpeningBalance() != 4550 {
		t.Errorf("NextOpeningBalance = %d, want 4550", res.NextOpeningBalance())
	}

	persisted, _ := statements.FindStatement(context.Background(), "acct_hk", 2025, 8)
	if persisted == nil {
		t.Fatal("Expected statement to be persisted")
	}
	if *persisted != *row {
		t.Errorf("Persisted row differs from result row")
	}
}

func TestGenerate_OpeningBalancePrecedence(t *testing.T) {
	override := int64(7777)

	tests := []struct {
		name        string
		priorExists bool
		override    *int64
		wantOpening int64
	}{
		{name: "prior statement wins", priorExists: true, override: &override, wantOpening: 1234},
		{name: "override bootstraps first statement", priorExists: false, override: &override, wantOpening: 7777},
		{name: "default is zero", priorExists: false, override: nil, wantOpening: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txns := &fakeTransactionRepository{}
			statements := newFakeStatementRepository()
			if tt.priorExists {
				statements.statements[stmtKey("acct_hk", 2025, 7)] = &bigquery.StatementRow{
					AccountID: "acct_hk", Year: 2025, Month: 7, ClosingBalance: 1234,
				}
			}
			gen := newTestGenerator(txns, statements)
			account := &bigquery.AccountRow{AccountID: "acct_hk", Name: "HK Merchant"}

			res, err := gen.Generate(context.Background(), account, 2025, 8, Options{OpeningBalance: tt.override})
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if res.Row.OpeningBalance != tt.wantOpening {
				t.Errorf("Opening = %d, want %d", res.Row.OpeningBalance, tt.wantOpening)
			}
			if res.Row.ClosingBalance != tt.wantOpening {
				t.Errorf("Empty period: closing %d should equal opening %d", res.Row.ClosingBalance, tt.wantOpening)
			}
		})
	}
}

func TestGenerate_YearBoundaryChaining(t *testing.T) {
	txns := &fakeTransactionRepository{}
	statements := newFakeStatementRepository()
	statements.statements[stmtKey("acct_hk", 2024, 12)] = &bigquery.StatementRow{
		AccountID: "acct_hk", Year: 2024, Month: 12, ClosingBalance: 999,
	}
	gen := newTestGenerator(txns, statements)
	account := &bigquery.AccountRow{AccountID: "acct_hk"}

	res, err := gen.Generate(context.Background(), account, 2025, 1, Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Row.OpeningBalance != 999 {
		t.Errorf("January opening = %d, want December closing 999", res.Row.OpeningBalance)
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	txns := &fakeTransactionRepository{rows: []*bigquery.TransactionRow{
		txnRow("ch_1", 1, ledger.TypeCharge, ledger.StatusSucceeded, 10000, 300),
	}}
	statements := newFakeStatementRepository()
	gen := newTestGenerator(txns, statements)
	account := &bigquery.AccountRow{AccountID: "acct_hk"}

	first, err := gen.Generate(context.Background(), account, 2025, 8, Options{})
	if err != nil {
		t.Fatalf("First generate failed: %v", err)
	}
	second, err := gen.Generate(context.Background(), account, 2025, 8, Options{})
	if err != nil {
		t.Fatalf("Second generate failed: %v", err)
	}

	if *first.Row != *second.Row {
		t.Errorf("Reruns differ: %+v vs %+v", first.Row, second.Row)
	}
	if len(statements.statements) != 1 {
		t.Errorf("Expected exactly one statement row, got %d", len(statements.statements))
	}
	if len(first.Ledger.Lines) != len(second.Ledger.Lines) {
		t.Errorf("Ledger line counts differ: %d vs %d", len(first.Ledger.Lines), len(second.Ledger.Lines))
	}
}

func TestGenerate_DuplicateTransactionAborts(t *testing.T) {
	txns := &fakeTransactionRepository{rows: []*bigquery.TransactionRow{
		txnRow("ch_dup", 1, ledger.TypeCharge, ledger.StatusSucceeded, 100, 0),
		txnRow("ch_dup", 2, ledger.TypeCharge, ledger.StatusSucceeded, 200, 0),
	}}
	statements := newFakeStatementRepository()
	gen := newTestGenerator(txns, statements)
	account := &bigquery.AccountRow{AccountID: "acct_hk"}

	_, err := gen.Generate(context.Background(), account, 2025, 8, Options{})
	if !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}
	if statements.upserts != 0 {
		t.Errorf("No statement may be persisted on integrity failure, got %d upserts", statements.upserts)
	}
}

func TestGenerate_DryRun(t *testing.T) {
	txns := &fakeTransactionRepository{rows: []*bigquery.TransactionRow{
		txnRow("ch_1", 1, ledger.TypeCharge, ledger.StatusSucceeded, 100, 0),
	}}
	statements := newFakeStatementRepository()
	gen := newTestGenerator(txns, statements)
	account := &bigquery.AccountRow{AccountID: "acct_hk"}

	res, err := gen.Generate(context.Background(), account, 2025, 8, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Row.ClosingBalance != 100 {
		t.Errorf("Closing = %d, want 100", res.Row.ClosingBalance)
	}
	if statements.upserts != 0 {
		t.Errorf("Dry run persisted %d rows, want 0", statements.upserts)
	}
}

func TestResolveAccount_Unknown(t *testing.T) {
	gen := newTestGenerator(&fakeTransactionRepository{}, newFakeStatementRepository())

	_, err := gen.ResolveAccount(context.Background(), "nope")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestMarkReconciled(t *testing.T) {
	statements := newFakeStatementRepository()
	statements.statements[stmtKey("acct_hk", 2025, 8)] = &bigquery.StatementRow{
		AccountID: "acct_hk", Year: 2025, Month: 8,
	}
	gen := newTestGenerator(&fakeTransactionRepository{}, statements)

	if err := gen.MarkReconciled(context.Background(), "acct_hk", 2025, 8, "ops@example.com"); err != nil {
		t.Fatalf("MarkReconciled failed: %v", err)
	}
	row := statements.statements[stmtKey("acct_hk", 2025, 8)]
	if !row.IsReconciled.Valid || !row.IsReconciled.Bool {
		t.Error("Expected statement to be marked reconciled")
	}

	if err := gen.MarkReconciled(context.Background(), "acct_hk", 2025, 9, "ops@example.com"); err == nil {
		t.Error("Expected error for missing statement")
	}
}
