package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
)

const transactionsTable = "transactions"

const transactionColumns = `
	stripe_id,
	account_id,
	amount,
	fee,
	currency,
	status,
	type,
	stripe_created,
	customer_email,
	description,
	stripe_metadata,
	created_ts,
	updated_ts
`

// InsertTransactions inserts a batch of TransactionRow into
// stripe.transactions, skipping any row whose (account_id, stripe_id)
// already exists. Re-ingesting the same rows is a no-op.
func InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("InsertTransactions: bigquery client: %w", err)
	}
	defer client.Close()

	return InsertTransactionsWithClient(ctx, client, rows)
}

// InsertTransactionsWithClient inserts a batch of TransactionRow using the
// provided BigQuery client. Each row goes through a MERGE keyed on
// (account_id, stripe_id) so the table's own uniqueness guard decides
// whether anything is written.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, rows []*bq.TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	for _, row := range rows {
		q := client.Query(fmt.Sprintf(`
			MERGE `+"`%s.%s.%s`"+` T
			USING (SELECT @account_id AS account_id, @stripe_id AS stripe_id) S
			ON T.account_id = S.account_id AND T.stripe_id = S.stripe_id
			WHEN NOT MATCHED THEN
			  INSERT (
				stripe_id, account_id,
				amount, fee, currency,
				status, type,
				stripe_created,
				customer_email, description, stripe_metadata,
				created_ts
			  )
			  VALUES (
				@stripe_id, @account_id,
				@amount, @fee, @currency,
				@status, @type,
				@stripe_created,
				@customer_email, @description, @stripe_metadata,
				@created_ts
			  )
		`, projectID, datasetID, transactionsTable))

		created := row.CreatedTS
		if created.IsZero() {
			created = time.Now()
		}

		q.Parameters = []bigquery.QueryParameter{
			{Name: "stripe_id", Value: row.StripeID},
			{Name: "account_id", Value: row.AccountID},
			{Name: "amount", Value: row.Amount},
			{Name: "fee", Value: row.Fee},
			{Name: "currency", Value: row.Currency},
			{Name: "status", Value: row.Status},
			{Name: "type", Value: row.Type},
			{Name: "stripe_created", Value: row.StripeCreated},
			{Name: "customer_email", Value: row.CustomerEmail},
			{Name: "description", Value: row.Description},
			{Name: "stripe_metadata", Value: row.Metadata},
			{Name: "created_ts", Value: created},
		}

		job, err := q.Run(ctx)
		if err != nil {
			return fmt.Errorf("InsertTransactions: running merge for %s: %w", row.StripeID, err)
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return fmt.Errorf("InsertTransactions: waiting for merge for %s: %w", row.StripeID, err)
		}
		if err := status.Err(); err != nil {
			return fmt.Errorf("InsertTransactions: merge job for %s: %w", row.StripeID, err)
		}
	}

	return nil
}

// QueryTransactionsByAccountAndRange returns the account's transactions with
// stripe_created within [start, end].
func QueryTransactionsByAccountAndRange(ctx context.Context, accountID string, start, end time.Time) ([]*bq.TransactionRow, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByAccountAndRange: bigquery client: %w", err)
	}
	defer client.Close()

	return QueryTransactionsByAccountAndRangeWithClient(ctx, client, accountID, start, end)
}

// QueryTransactionsByAccountAndRangeWithClient returns the account's
// transactions in [start, end] using the provided BigQuery client, ordered
// by stripe_created with ties broken by stripe_id so replays come back
// in a stable order.
func QueryTransactionsByAccountAndRangeWithClient(ctx context.Context, client *bigquery.Client, accountID string, start, end time.Time) ([]*bq.TransactionRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND stripe_created >= @start_ts
		  AND stripe_created <= @end_ts
		ORDER BY stripe_created, stripe_id
	`, transactionColumns, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "start_ts", Value: start},
		{Name: "end_ts", Value: end},
	}

	return readTransactionRows(ctx, q, "QueryTransactionsByAccountAndRange")
}

// QuerySucceededCharges returns only succeeded charge transactions for the
// account in [start, end].
func QuerySucceededCharges(ctx context.Context, accountID string, start, end time.Time) ([]*bq.TransactionRow, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("QuerySucceededCharges: bigquery client: %w", err)
	}
	defer client.Close()

	return QuerySucceededChargesWithClient(ctx, client, accountID, start, end)
}

// QuerySucceededChargesWithClient returns succeeded charges using the
// provided BigQuery client, in the same stable order as the range query.
func QuerySucceededChargesWithClient(ctx context.Context, client *bigquery.Client, accountID string, start, end time.Time) ([]*bq.TransactionRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND stripe_created >= @start_ts
		  AND stripe_created <= @end_ts
		  AND type = 'charge'
		  AND status = 'succeeded'
		ORDER BY stripe_created, stripe_id
	`, transactionColumns, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "start_ts", Value: start},
		{Name: "end_ts", Value: end},
	}

	return readTransactionRows(ctx, q, "QuerySucceededCharges")
}

// TransactionExists reports whether (account_id, stripe_id) is already stored.
func TransactionExists(ctx context.Context, accountID, stripeID string) (bool, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("TransactionExists: bigquery client: %w", err)
	}
	defer client.Close()

	return TransactionExistsWithClient(ctx, client, accountID, stripeID)
}

// TransactionExistsWithClient reports whether (account_id, stripe_id) is
// already stored using the provided BigQuery client.
func TransactionExistsWithClient(ctx context.Context, client *bigquery.Client, accountID, stripeID string) (bool, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT COUNT(*) AS cnt
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND stripe_id = @stripe_id
	`, projectID, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "stripe_id", Value: stripeID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("TransactionExists: query read: %w", err)
	}

	var row struct {
		Cnt int64 `bigquery:"cnt"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("TransactionExists: iter next: %w", err)
	}

	return row.Cnt > 0, nil
}

func readTransactionRows(ctx context.Context, q *bigquery.Query, op string) ([]*bq.TransactionRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var rows []*bq.TransactionRow
	for {
		var r bq.TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}
