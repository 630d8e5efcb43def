package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
)

// Re-export interfaces from the shared package for convenience.
type TransactionRepository = bq.TransactionRepository
type AccountRepository = bq.AccountRepository
type StatementRepository = bq.StatementRepository
type RunRepository = bq.RunRepository

// BigQueryTransactionRepository is the concrete implementation of
// TransactionRepository that interacts with BigQuery. It holds a shared
// client to avoid creating a new connection per operation.
type BigQueryTransactionRepository struct {
	client *bigquery.Client
}

// NewBigQueryTransactionRepository creates a new BigQueryTransactionRepository
// with a shared BigQuery client.
func NewBigQueryTransactionRepository(ctx context.Context) (*BigQueryTransactionRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryTransactionRepository: creating client: %w", err)
	}
	return &BigQueryTransactionRepository{
		client: client,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryTransactionRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// InsertTransactions delegates to InsertTransactions with the shared client.
func (r *BigQueryTransactionRepository) InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	return InsertTransactionsWithClient(ctx, r.client, rows)
}

// QueryTransactionsByAccountAndRange delegates to the range query with the shared client.
func (r *BigQueryTransactionRepository) QueryTransactionsByAccountAndRange(ctx context.Context, accountID string, start, end time.Time) ([]*bq.TransactionRow, error) {
	return QueryTransactionsByAccountAndRangeWithClient(ctx, r.client, accountID, start, end)
}

// QuerySucceededCharges delegates to the charge query with the shared client.
func (r *BigQueryTransactionRepository) QuerySucceededCharges(ctx context.Context, accountID string, start, end time.Time) ([]*bq.TransactionRow, error) {
	return QuerySucceededChargesWithClient(ctx, r.client, accountID, start, end)
}

// TransactionExists delegates to TransactionExists with the shared client.
func (r *BigQueryTransactionRepository) TransactionExists(ctx context.Context, accountID, stripeID string) (bool, error) {
	return TransactionExistsWithClient(ctx, r.client, accountID, stripeID)
}

// BigQueryAccountRepository is the concrete implementation of
// AccountRepository that interacts with BigQuery.
type BigQueryAccountRepository struct {
	client *bigquery.Client
}

// NewBigQueryAccountRepository creates a new BigQueryAccountRepository with a
// shared BigQuery client.
func NewBigQueryAccountRepository(ctx context.Context) (*BigQueryAccountRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryAccountRepository: creating client: %w", err)
	}
	return &BigQueryAccountRepository{
		client: client,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryAccountRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// FindAccount delegates to FindAccount with the shared client.
func (r *BigQueryAccountRepository) FindAccount(ctx context.Context, nameOrID string) (*bq.AccountRow, error) {
	return FindAccountWithClient(ctx, r.client, nameOrID)
}

// ListAllAccounts delegates to ListAllAccounts with the shared client.
func (r *BigQueryAccountRepository) ListAllAccounts(ctx context.Context) ([]*bq.AccountRow, error) {
	return ListAllAccountsWithClient(ctx, r.client)
}

// UpsertAccount delegates to UpsertAccount with the shared client.
func (r *BigQueryAccountRepository) UpsertAccount(ctx context.Context, row *bq.AccountRow) (string, error) {
	return UpsertAccountWithClient(ctx, r.client, row)
}

// BigQueryStatementRepository is the concrete implementation of
// StatementRepository that interacts with BigQuery.
type BigQueryStatementRepository struct {
	client *bigquery.Client
}

// NewBigQueryStatementRepository creates a new BigQueryStatementRepository
// with a shared BigQuery client.
func NewBigQueryStatementRepository(ctx context.Context) (*BigQueryStatementRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryStatementRepository: creating client: %w", err)
	}
	return &BigQueryStatementRepository{
		client: client,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryStatementRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// UpsertStatement delegates to UpsertStatement with the shared client.
func (r *BigQueryStatementRepository) UpsertStatement(ctx context.Context, row *bq.StatementRow) error {
	return UpsertStatementWithClient(ctx, r.client, row)
}

// FindStatement delegates to FindStatement with the shared client.
func (r *BigQueryStatementRepository) FindStatement(ctx context.Context, accountID string, year, month int) (*bq.StatementRow, error) {
	return FindStatementWithClient(ctx, r.client, accountID, year, month)
}

// ListStatementsByAccount delegates to ListStatementsByAccount with the shared client.
func (r *BigQueryStatementRepository) ListStatementsByAccount(ctx context.Context, accountID string) ([]*bq.StatementRow, error) {
	return ListStatementsByAccountWithClient(ctx, r.client, accountID)
}

// MarkReconciled delegates to MarkReconciled with the shared client.
func (r *BigQueryStatementRepository) MarkReconciled(ctx context.Context, accountID string, year, month int, reconciledBy string) error {
	return MarkReconciledWithClient(ctx, r.client, accountID, year, month, reconciledBy)
}

// BigQueryRunRepository is the concrete implementation of RunRepository that
// interacts with BigQuery.
type BigQueryRunRepository struct {
	client *bigquery.Client
}

// NewBigQueryRunRepository creates a new BigQueryRunRepository with a shared
// BigQuery client.
func NewBigQueryRunRepository(ctx context.Context) (*BigQueryRunRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRunRepository: creating client: %w", err)
	}
	return &BigQueryRunRepository{
		client: client,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// StartRun delegates to StartRun with the shared client.
func (r *BigQueryRunRepository) StartRun(ctx context.Context, accountID string, year, month int, operation string) (string, error) {
	return StartRunWithClient(ctx, r.client, accountID, year, month, operation)
}

// MarkRunFailed delegates to MarkRunFailed with the shared client.
func (r *BigQueryRunRepository) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	MarkRunFailedWithClient(ctx, r.client, runID, runErr)
}

// MarkRunSucceeded delegates to MarkRunSucceeded with the shared client.
func (r *BigQueryRunRepository) MarkRunSucceeded(ctx context.Context, runID string) error {
	return MarkRunSucceededWithClient(ctx, r.client, runID)
}
