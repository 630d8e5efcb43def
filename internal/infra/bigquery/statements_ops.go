package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
)

const statementsTable = "monthly_statements"

const statementColumns = `
	account_id,
	year,
	month,
	period_start,
	period_end,
	opening_balance,
	closing_balance,
	total_charges,
	total_refunds,
	total_fees,
	total_payouts,
	is_reconciled,
	reconciled_at,
	reconciled_by,
	notes,
	created_ts,
	updated_ts
`

// UpsertStatement inserts or overwrites the statement for the row's
// (account_id, year, month). Safe to call repeatedly; regeneration replaces
// the derived figures and clears any reconciliation sign-off.
func UpsertStatement(ctx context.Context, row *bq.StatementRow) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("UpsertStatement: bigquery client: %w", err)
	}
	defer client.Close()

	return UpsertStatementWithClient(ctx, client, row)
}

// UpsertStatementWithClient upserts a statement using the provided
// BigQuery client.
func UpsertStatementWithClient(ctx context.Context, client *bigquery.Client, row *bq.StatementRow) error {
	q := client.Query(fmt.Sprintf(`
		MERGE `+"`%s.%s.%s`"+` T
		USING (SELECT @account_id AS account_id, @year AS year, @month AS month) S
		ON T.account_id = S.account_id AND T.year = S.year AND T.month = S.month
		WHEN MATCHED THEN
		  UPDATE SET
			period_start = @period_start,
			period_end = @period_end,
			opening_balance = @opening_balance,
			closing_balance = @closing_balance,
			total_charges = @total_charges,
			total_refunds = @total_refunds,
			total_fees = @total_fees,
			total_payouts = @total_payouts,
			is_reconciled = FALSE,
			reconciled_at = NULL,
			reconciled_by = NULL,
			updated_ts = @now
		WHEN NOT MATCHED THEN
		  INSERT (
			account_id, year, month,
			period_start, period_end,
			opening_balance, closing_balance,
			total_charges, total_refunds, total_fees, total_payouts,
			is_reconciled,
			created_ts
		  )
		  VALUES (
			@account_id, @year, @month,
			@period_start, @period_end,
			@opening_balance, @closing_balance,
			@total_charges, @total_refunds, @total_fees, @total_payouts,
			FALSE,
			@now
		  )
	`, projectID, datasetID, statementsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: row.AccountID},
		{Name: "year", Value: row.Year},
		{Name: "month", Value: row.Month},
		{Name: "period_start", Value: row.PeriodStart},
		{Name: "period_end", Value: row.PeriodEnd},
		{Name: "opening_balance", Value: row.OpeningBalance},
		{Name: "closing_balance", Value: row.ClosingBalance},
		{Name: "total_charges", Value: row.TotalCharges},
		{Name: "total_refunds", Value: row.TotalRefunds},
		{Name: "total_fees", Value: row.TotalFees},
		{Name: "total_payouts", Value: row.TotalPayouts},
		{Name: "now", Value: time.Now()},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("UpsertStatement: running merge: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("UpsertStatement: waiting for merge: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("UpsertStatement: merge job: %w", err)
	}

	return nil
}

// FindStatement retrieves one statement. Returns nil if absent.
func FindStatement(ctx context.Context, accountID string, year, month int) (*bq.StatementRow, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("FindStatement: bigquery client: %w", err)
	}
	defer client.Close()

	return FindStatementWithClient(ctx, client, accountID, year, month)
}

// FindStatementWithClient retrieves one statement using the provided
// BigQuery client.
func FindStatementWithClient(ctx context.Context, client *bigquery.Client, accountID string, year, month int) (*bq.StatementRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND year = @year
		  AND month = @month
		LIMIT 1
	`, statementColumns, projectID, datasetID, statementsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "year", Value: int64(year)},
		{Name: "month", Value: int64(month)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindStatement: query read: %w", err)
	}

	var row bq.StatementRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindStatement: iter next: %w", err)
	}

	return &row, nil
}

// ListStatementsByAccount retrieves all statements for an account, newest
// period first.
func ListStatementsByAccount(ctx context.Context, accountID string) ([]*bq.StatementRow, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListStatementsByAccount: bigquery client: %w", err)
	}
	defer client.Close()

	return ListStatementsByAccountWithClient(ctx, client, accountID)
}

// ListStatementsByAccountWithClient retrieves an account's statements using
// the provided BigQuery client.
func ListStatementsByAccountWithClient(ctx context.Context, client *bigquery.Client, accountID string) ([]*bq.StatementRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		ORDER BY year DESC, month DESC
	`, statementColumns, projectID, datasetID, statementsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListStatementsByAccount: query read: %w", err)
	}

	var rows []*bq.StatementRow
	for {
		var r bq.StatementRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListStatementsByAccount: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

// MarkReconciled records a manual reconciliation sign-off on a statement.
func MarkReconciled(ctx context.Context, accountID string, year, month int, reconciledBy string) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("MarkReconciled: bigquery client: %w", err)
	}
	defer client.Close()

	return MarkReconciledWithClient(ctx, client, accountID, year, month, reconciledBy)
}

// MarkReconciledWithClient records the sign-off using the provided
// BigQuery client.
func MarkReconciledWithClient(ctx context.Context, client *bigquery.Client, accountID string, year, month int, reconciledBy string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET is_reconciled = TRUE,
		    reconciled_at = @now,
		    reconciled_by = @reconciled_by,
		    updated_ts = @now
		WHERE account_id = @account_id
		  AND year = @year
		  AND month = @month
	`, projectID, datasetID, statementsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "year", Value: int64(year)},
		{Name: "month", Value: int64(month)},
		{Name: "reconciled_by", Value: reconciledBy},
		{Name: "now", Value: time.Now()},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("MarkReconciled: running update: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("MarkReconciled: waiting for update: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("MarkReconciled: update job: %w", err)
	}

	return nil
}
