package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/stripe-reconciler/internal/ledger"
)

// TransactionRepository provides an interface for transaction-related store
// operations. The store is append-only: rows are inserted once at ingestion
// and never mutated, and (account_id, stripe_id) is the idempotency boundary.
type TransactionRepository interface {
	// InsertTransactions inserts a batch of rows, skipping any whose
	// (account_id, stripe_id) already exists. Re-ingestion is a no-op.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error

	// QueryTransactionsByAccountAndRange returns all transactions for the
	// account with stripe_created in [start, end], ordered ascending by
	// stripe_created with ties broken by stripe_id.
	QueryTransactionsByAccountAndRange(ctx context.Context, accountID string, start, end time.Time) ([]*TransactionRow, error)

	// QuerySucceededCharges returns only succeeded charge transactions for
	// the account in [start, end], in the same deterministic order.
	QuerySucceededCharges(ctx context.Context, accountID string, start, end time.Time) ([]*TransactionRow, error)

	// TransactionExists reports whether (account_id, stripe_id) is present.
	TransactionExists(ctx context.Context, accountID, stripeID string) (bool, error)
}

// AccountRepository provides an interface for account-related store operations.
type AccountRepository interface {
	// FindAccount resolves a display name or account code to its row.
	// Returns nil if no matching account is found.
	FindAccount(ctx context.Context, nameOrID string) (*AccountRow, error)

	// ListAllAccounts retrieves all accounts from the store.
	ListAllAccounts(ctx context.Context) ([]*AccountRow, error)

	// UpsertAccount finds an existing account by account_id or creates a new
	// one. Returns the account_id.
	UpsertAccount(ctx context.Context, row *AccountRow) (string, error)
}

// StatementRepository provides an interface for monthly-statement store
// operations. Statements are derived rows keyed by (account_id, year, month)
// and only ever written through the idempotent upsert.
type StatementRepository interface {
	// UpsertStatement inserts or overwrites the statement for the row's
	// (account_id, year, month). Safe to call repeatedly.
	UpsertStatement(ctx context.Context, row *StatementRow) error

	// FindStatement retrieves one statement. Returns nil if absent.
	FindStatement(ctx context.Context, accountID string, year, month int) (*StatementRow, error)

	// ListStatementsByAccount retrieves all statements for an account,
	// newest period first.
	ListStatementsByAccount(ctx context.Context, accountID string) ([]*StatementRow, error)

	// MarkReconciled records a manual reconciliation sign-off.
	MarkReconciled(ctx context.Context, accountID string, year, month int, reconciledBy string) error
}

// RunRepository records reconciliation runs for auditability.
type RunRepository interface {
	// StartRun inserts a new run with status=RUNNING and returns its id.
	StartRun(ctx context.Context, accountID string, year, month int, operation string) (string, error)

	// MarkRunFailed sets status=FAILED, finished_ts and error_message.
	// Best effort: logs instead of returning an error.
	MarkRunFailed(ctx context.Context, runID string, runErr error)

	// MarkRunSucceeded sets status=SUCCESS and finished_ts.
	MarkRunSucceeded(ctx context.Context, runID string) error
}

// AccountRow represents a merchant account record in BigQuery.
type AccountRow struct {
	AccountID string `bigquery:"account_id" json:"account_id"`
	Name      string `bigquery:"name" json:"name"`

	IsActive     bigquery.NullBool   `bigquery:"is_active" json:"is_active,omitempty"`
	ManagerEmail bigquery.NullString `bigquery:"manager_email" json:"manager_email,omitempty"`

	Metadata  bigquery.NullJSON      `bigquery:"metadata" json:"-"`
	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts" json:"-"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts" json:"-"`
}

// TransactionRow represents one immutable processor transaction in BigQuery.
// Amounts are INT64 minor units; there is no floating point anywhere in the
// stored representation.
type TransactionRow struct {
	StripeID  string `bigquery:"stripe_id" json:"stripe_id"`
	AccountID string `bigquery:"account_id" json:"account_id"`

	Amount   int64  `bigquery:"amount" json:"amount"`
	Fee      int64  `bigquery:"fee" json:"fee"`
	Currency string `bigquery:"currency" json:"currency"`

	Status string `bigquery:"status" json:"status"`
	Type   string `bigquery:"type" json:"type"`

	// StripeCreated is the transaction time from Stripe, distinct from the
	// ingestion time in CreatedTS.
	StripeCreated time.Time `bigquery:"stripe_created" json:"stripe_created"`

	CustomerEmail bigquery.NullString `bigquery:"customer_email" json:"customer_email,omitempty"`
	Description   bigquery.NullString `bigquery:"description" json:"description,omitempty"`
	Metadata      bigquery.NullJSON   `bigquery:"stripe_metadata" json:"-"`

	CreatedTS time.Time              `bigquery:"created_ts" json:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts" json:"-"`
}

// MarshalJSON adds display amounts in major units alongside the stored minor
// units. Division by 100 happens only here, at the presentation edge.
func (t TransactionRow) MarshalJSON() ([]byte, error) {
	type Alias TransactionRow
	return json.Marshal(&struct {
		AmountFormatted string `json:"amount_formatted"`
		FeeFormatted    string `json:"fee_formatted"`
		*Alias
	}{
		AmountFormatted: fmt.Sprintf("%.2f", float64(t.Amount)/100),
		FeeFormatted:    fmt.Sprintf("%.2f", float64(t.Fee)/100),
		Alias:           (*Alias)(&t),
	})
}

// ToLedger converts a stored row into the domain transaction the ledger
// builder and payout simulator consume.
func (t *TransactionRow) ToLedger() *ledger.Transaction {
	txn := &ledger.Transaction{
		StripeID:      t.StripeID,
		AccountID:     t.AccountID,
		Amount:        t.Amount,
		Fee:           t.Fee,
		Currency:      t.Currency,
		Status:        ledger.Status(t.Status),
		Type:          ledger.Type(t.Type),
		StripeCreated: t.StripeCreated,
	}
	if t.CustomerEmail.Valid {
		txn.CustomerEmail = t.CustomerEmail.StringVal
	}
	if t.Description.Valid {
		txn.Description = t.Description.StringVal
	}
	if t.Metadata.Valid && t.Metadata.JSONVal != "" {
		// JSON values come back untyped from the store.
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(t.Metadata.JSONVal), &m); err == nil {
			meta := make(map[string]string, len(m))
			for k, v := range m {
				if s, ok := v.(string); ok {
					meta[k] = s
				}
			}
			if len(meta) > 0 {
				txn.Metadata = meta
			}
		}
	}
	return txn
}

// FromLedger converts a domain transaction into its stored representation.
func FromLedger(txn *ledger.Transaction, now time.Time) *TransactionRow {
	row := &TransactionRow{
		StripeID:      txn.StripeID,
		AccountID:     txn.AccountID,
		Amount:        txn.Amount,
		Fee:           txn.Fee,
		Currency:      txn.Currency,
		Status:        string(txn.Status),
		Type:          string(txn.Type),
		StripeCreated: txn.StripeCreated,
		CreatedTS:     now,
	}
	if txn.CustomerEmail != "" {
		row.CustomerEmail = bigquery.NullString{StringVal: txn.CustomerEmail, Valid: true}
	}
	if txn.Description != "" {
		row.Description = bigquery.NullString{StringVal: txn.Description, Valid: true}
	}
	if len(txn.Metadata) > 0 {
		if b, err := json.Marshal(txn.Metadata); err == nil {
			row.Metadata = bigquery.NullJSON{JSONVal: string(b), Valid: true}
		}
	}
	return row
}

// StatementRow represents a derived monthly statement in BigQuery, keyed by
// (account_id, year, month).
type StatementRow struct {
	AccountID string `bigquery:"account_id" json:"account_id"`
	Year      int64  `bigquery:"year" json:"year"`
	Month     int64  `bigquery:"month" json:"month"`

	PeriodStart civil.Date `bigquery:"period_start" json:"period_start"`
	PeriodEnd   civil.Date `bigquery:"period_end" json:"period_end"`

	OpeningBalance int64 `bigquery:"opening_balance" json:"opening_balance"`
	ClosingBalance int64 `bigquery:"closing_balance" json:"closing_balance"`
	TotalCharges   int64 `bigquery:"total_charges" json:"total_charges"`
	TotalRefunds   int64 `bigquery:"total_refunds" json:"total_refunds"`
	TotalFees      int64 `bigquery:"total_fees" json:"total_fees"`
	TotalPayouts   int64 `bigquery:"total_payouts" json:"total_payouts"`

	IsReconciled bigquery.NullBool      `bigquery:"is_reconciled" json:"is_reconciled,omitempty"`
	ReconciledAt bigquery.NullTimestamp `bigquery:"reconciled_at" json:"reconciled_at,omitempty"`
	ReconciledBy bigquery.NullString    `bigquery:"reconciled_by" json:"reconciled_by,omitempty"`

	Notes bigquery.NullString `bigquery:"notes" json:"notes,omitempty"`

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts" json:"-"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts" json:"-"`
}

// RunRow represents one reconciliation run (statement generation or payout
// simulation) for audit purposes.
type RunRow struct {
	RunID     string `bigquery:"run_id"`
	AccountID string `bigquery:"account_id"`

	Year      int64  `bigquery:"year"`
	Month     int64  `bigquery:"month"`
	Operation string `bigquery:"operation"`

	StartedTS  time.Time              `bigquery:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`

	Status       string `bigquery:"status"`
	ErrorMessage string `bigquery:"error_message"`

	Metadata bigquery.NullJSON `bigquery:"metadata"`
}
