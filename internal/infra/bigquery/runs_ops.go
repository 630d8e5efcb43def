package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/stripe-reconciler/internal/logger"
)

const (
	projectID = "studious-union-470122-v7"
	datasetID = "stripe"
	runsTable = "reconciliation_runs"
)

// StartRun inserts a new row into stripe.reconciliation_runs with
// status=RUNNING and returns the generated run_id.
func StartRun(ctx context.Context, accountID string, year, month int, operation string) (string, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("StartRun: bigquery client: %w", err)
	}
	defer client.Close()

	return StartRunWithClient(ctx, client, accountID, year, month, operation)
}

// StartRunWithClient inserts a new row into stripe.reconciliation_runs with
// status=RUNNING using the provided BigQuery client.
func StartRunWithClient(ctx context.Context, client *bigquery.Client, accountID string, year, month int, operation string) (string, error) {
	runID := uuid.NewString()
	started := time.Now()

	q := client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			account_id,
			year,
			month,
			operation,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@account_id,
			@year,
			@month,
			@operation,
			@started_ts,
			@status
		)
	`, datasetID, runsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "account_id", Value: accountID},
		{Name: "year", Value: year},
		{Name: "month", Value: month},
		{Name: "operation", Value: operation},
		{Name: "started_ts", Value: started},
		{Name: "status", Value: "RUNNING"},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("StartRun: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("StartRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return "", fmt.Errorf("StartRun: job error: %w", err)
	}

	return runID, nil
}

// MarkRunFailed sets status=FAILED, finished_ts and error_message.
// Best effort: failures are logged, not returned, so the original error
// keeps propagating.
func MarkRunFailed(ctx context.Context, runID string, runErr error) {
	log := logger.FromContext(ctx)

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: bigquery client error")
		return
	}
	defer client.Close()

	MarkRunFailedWithClient(ctx, client, runID, runErr)
}

// MarkRunFailedWithClient sets status=FAILED, finished_ts and error_message
// using the provided BigQuery client.
func MarkRunFailedWithClient(ctx context.Context, client *bigquery.Client, runID string, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		const maxLen = 2000
		if len(errMsg) > maxLen {
			errMsg = errMsg[:maxLen]
		}
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, datasetID, runsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: "FAILED"},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "run_id", Value: runID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: running update query")
		return
	}

	status, err := job.Wait(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: waiting for job")
		return
	}
	if err := status.Err(); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: job completed with error")
	}
}

// MarkRunSucceeded sets status=SUCCESS and finished_ts, clears error_message.
func MarkRunSucceeded(ctx context.Context, runID string) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("MarkRunSucceeded: bigquery client: %w", err)
	}
	defer client.Close()

	return MarkRunSucceededWithClient(ctx, client, runID)
}

// MarkRunSucceededWithClient sets status=SUCCESS and finished_ts, clears
// error_message using the provided BigQuery client.
func MarkRunSucceededWithClient(ctx context.Context, client *bigquery.Client, runID string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = ""
		WHERE run_id = @run_id
	`, datasetID, runsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: "SUCCESS"},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "run_id", Value: runID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("MarkRunSucceeded: running update query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("MarkRunSucceeded: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("MarkRunSucceeded: job error: %w", err)
	}

	return nil
}
