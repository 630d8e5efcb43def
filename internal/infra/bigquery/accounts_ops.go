package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
)

const accountsTable = "accounts"

const accountColumns = `
	account_id,
	name,
	is_active,
	manager_email,
	metadata,
	created_ts,
	updated_ts
`

// ListAllAccounts retrieves all merchant accounts from the store.
func ListAllAccounts(ctx context.Context) ([]*bq.AccountRow, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListAllAccounts: creating client: %w", err)
	}
	defer client.Close()

	return ListAllAccountsWithClient(ctx, client)
}

// ListAllAccountsWithClient retrieves all merchant accounts using the
// provided BigQuery client.
func ListAllAccountsWithClient(ctx context.Context, client *bigquery.Client) ([]*bq.AccountRow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		ORDER BY name
	`, accountColumns, projectID, datasetID, accountsTable)

	q := client.Query(query)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAllAccountsWithClient: reading query: %w", err)
	}

	var accounts []*bq.AccountRow
	for {
		var row bq.AccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAllAccountsWithClient: iterating: %w", err)
		}
		accounts = append(accounts, &row)
	}

	return accounts, nil
}

// FindAccount resolves an account code or display name to its row.
// Returns nil if no matching account is found.
// Normalization: trims whitespace and compares case-insensitively.
func FindAccount(ctx context.Context, nameOrID string) (*bq.AccountRow, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("FindAccount: creating client: %w", err)
	}
	defer client.Close()

	return FindAccountWithClient(ctx, client, nameOrID)
}

// FindAccountWithClient resolves an account using the provided BigQuery
// client, matching account_id first and display name second.
func FindAccountWithClient(ctx context.Context, client *bigquery.Client, nameOrID string) (*bq.AccountRow, error) {
	norm := strings.TrimSpace(nameOrID)
	if norm == "" {
		return nil, fmt.Errorf("FindAccountWithClient: account name cannot be empty")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @needle
		   OR UPPER(TRIM(name)) = UPPER(@needle)
		ORDER BY IF(account_id = @needle, 0, 1)
		LIMIT 1
	`, accountColumns, projectID, datasetID, accountsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "needle", Value: norm},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAccountWithClient: reading query: %w", err)
	}

	var row bq.AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccountWithClient: iterating: %w", err)
	}

	return &row, nil
}

// UpsertAccount finds an existing account by account_id or creates a new one.
// Returns the account_id of the found or created account.
func UpsertAccount(ctx context.Context, row *bq.AccountRow) (string, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("UpsertAccount: creating client: %w", err)
	}
	defer client.Close()

	return UpsertAccountWithClient(ctx, client, row)
}

// UpsertAccountWithClient finds or creates an account using the provided
// BigQuery client. Existing rows keep their stored fields; this never
// clobbers an account in place.
func UpsertAccountWithClient(ctx context.Context, client *bigquery.Client, row *bq.AccountRow) (string, error) {
	if row.AccountID != "" {
		existing, err := FindAccountWithClient(ctx, client, row.AccountID)
		if err != nil {
			return "", fmt.Errorf("UpsertAccountWithClient: finding existing account: %w", err)
		}
		if existing != nil {
			return existing.AccountID, nil
		}
	}

	if row.AccountID == "" {
		row.AccountID = uuid.NewString()
	}

	q := client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.%s`"+` (
			account_id, name,
			is_active, manager_email,
			created_ts
		)
		VALUES (
			@account_id, @name,
			@is_active, @manager_email,
			@created_ts
		)
	`, projectID, datasetID, accountsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: row.AccountID},
		{Name: "name", Value: row.Name},
		{Name: "is_active", Value: row.IsActive},
		{Name: "manager_email", Value: row.ManagerEmail},
		{Name: "created_ts", Value: time.Now()},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("UpsertAccountWithClient: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("UpsertAccountWithClient: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return "", fmt.Errorf("UpsertAccountWithClient: job error: %w", err)
	}

	return row.AccountID, nil
}
