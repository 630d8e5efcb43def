package statement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/ledger"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
)

// Operation is the run-audit label for statement generation.
const Operation = "generate_statement"

// ErrAccountNotFound reports an unknown account name or code. Fatal for the
// invocation only.
var ErrAccountNotFound = errors.New("account not found")

// ErrStatementNotFound reports a sign-off attempt on a period that has never
// been generated.
var ErrStatementNotFound = errors.New("statement not found")

// Options controls one statement generation.
type Options struct {
	// OpeningBalance overrides the opening balance when no prior statement
	// exists (first-statement bootstrap). Ignored when a prior period's
	// closing balance is available.
	OpeningBalance *int64

	// DryRun computes the statement without persisting it.
	DryRun bool

	// IncludeInformational passes through to the ledger builder for
	// unfiltered display.
	IncludeInformational bool
}

// Result is the output of one statement generation. The closing balance is
// the intended opening balance for the next month; callers chain periods
// sequentially.
type Result struct {
	Account *bigquery.AccountRow
	Year    int
	Month   int

	Ledger *ledger.Ledger
	Row    *bigquery.StatementRow

	// Currency observed on the period's transactions, empty when the period
	// had none. Display only.
	Currency string
}

// NextOpeningBalance returns the value to feed into the following month.
func (r *Result) NextOpeningBalance() int64 {
	return r.Row.ClosingBalance
}

// Generator produces and upserts monthly statements.
type Generator struct {
	accounts   bigquery.AccountRepository
	txns       bigquery.TransactionRepository
	statements bigquery.StatementRepository
	runs       bigquery.RunRepository
}

// NewGenerator creates a Generator. The run repository may be nil to skip
// audit recording.
func NewGenerator(accounts bigquery.AccountRepository, txns bigquery.TransactionRepository, statements bigquery.StatementRepository, runs bigquery.RunRepository) *Generator {
	return &Generator{
		accounts:   accounts,
		txns:       txns,
		statements: statements,
		runs:       runs,
	}
}

// ResolveAccount maps a display name or account code to its account row.
func (g *Generator) ResolveAccount(ctx context.Context, nameOrID string) (*bigquery.AccountRow, error) {
	account, err := g.accounts.FindAccount(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("ResolveAccount: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("ResolveAccount: %w: %q", ErrAccountNotFound, nameOrID)
	}
	return account, nil
}

// Generate builds the ledger for one account and month, aggregates it into a
// MonthlyStatement, and upserts the statement row. Fatal errors abort before
// any write; rerunning with identical inputs produces an identical row.
func (g *Generator) Generate(ctx context.Context, account *bigquery.AccountRow, year, month int, opts Options) (*Result, error) {
	log := logger.FromContext(ctx)

	var runID string
	if g.runs != nil && !opts.DryRun {
		var err error
		runID, err = g.runs.StartRun(ctx, account.AccountID, year, month, Operation)
		if err != nil {
			return nil, fmt.Errorf("Generate: starting run record: %w", err)
		}
	}

	result, err := g.generate(ctx, account, year, month, opts)
	if err != nil {
		if runID != "" {
			g.runs.MarkRunFailed(ctx, runID, err)
		}
		return nil, err
	}

	if runID != "" {
		if err := g.runs.MarkRunSucceeded(ctx, runID); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("Failed to mark run succeeded")
		}
	}

	return result, nil
}

func (g *Generator) generate(ctx context.Context, account *bigquery.AccountRow, year, month int, opts Options) (*Result, error) {
	log := logger.FromContext(ctx)

	opening, openingSource, err := g.openingBalance(ctx, account.AccountID, year, month, opts.OpeningBalance)
	if err != nil {
		return nil, err
	}

	start, end := ledger.MonthRange(year, month)

	rows, err := g.txns.QueryTransactionsByAccountAndRange(ctx, account.AccountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("Generate: querying transactions: %w", err)
	}

	txns := make([]*ledger.Transaction, 0, len(rows))
	currency := ""
	for _, row := range rows {
		txns = append(txns, row.ToLedger())
		if currency == "" {
			currency = row.Currency
		}
	}

	led, err := ledger.Build(start, end, opening, txns, ledger.Options{IncludeInformational: opts.IncludeInformational})
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}

	log.Info().
		Str("account_id", account.AccountID).
		Int("year", year).
		Int("month", month).
		Str("opening_source", openingSource).
		Int("transactions", len(txns)).
		Int64("opening_balance", led.Opening).
		Int64("closing_balance", led.Closing).
		Msg("Statement computed")

	row := &bigquery.StatementRow{
		AccountID:      account.AccountID,
		Year:           int64(year),
		Month:          int64(month),
		PeriodStart:    civil.DateOf(start),
		PeriodEnd:      civil.DateOf(end),
		OpeningBalance: led.Opening,
		ClosingBalance: led.Closing,
		TotalCharges:   led.Totals.Charges,
		TotalRefunds:   led.Totals.Refunds,
		TotalFees:      led.Totals.Fees,
		TotalPayouts:   led.Totals.Payouts,
	}

	if !opts.DryRun {
		if err := g.statements.UpsertStatement(ctx, row); err != nil {
			return nil, fmt.Errorf("Generate: upserting statement: %w", err)
		}
	}

	return &Result{
		Account:  account,
		Year:     year,
		Month:    month,
		Ledger:   led,
		Row:      row,
		Currency: currency,
	}, nil
}

// openingBalance prefers the prior period's persisted closing balance, then
// the caller override, then zero.
func (g *Generator) openingBalance(ctx context.Context, accountID string, year, month int, override *int64) (int64, string, error) {
	prevYear, prevMonth := year, month-1
	if prevMonth == 0 {
		prevYear, prevMonth = year-1, 12
	}

	prior, err := g.statements.FindStatement(ctx, accountID, prevYear, prevMonth)
	if err != nil {
		return 0, "", fmt.Errorf("Generate: looking up prior statement: %w", err)
	}
	if prior != nil {
		return prior.ClosingBalance, "prior_statement", nil
	}
	if override != nil {
		return *override, "override", nil
	}
	return 0, "default", nil
}

// MarkReconciled records a manual sign-off on a persisted statement.
func (g *Generator) MarkReconciled(ctx context.Context, accountID string, year, month int, reconciledBy string) error {
	existing, err := g.statements.FindStatement(ctx, accountID, year, month)
	if err != nil {
		return fmt.Errorf("MarkReconciled: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("MarkReconciled: %s %d-%02d: %w", accountID, year, month, ErrStatementNotFound)
	}
	if err := g.statements.MarkReconciled(ctx, accountID, year, month, reconciledBy); err != nil {
		return fmt.Errorf("MarkReconciled: %w", err)
	}
	return nil
}

// PeriodLabel formats a statement period for display, e.g. "August 2025".
func PeriodLabel(year, month int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}
