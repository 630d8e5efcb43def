package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	infraBQ "github.com/dvloznov/stripe-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/jobs"
	"github.com/dvloznov/stripe-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
	"github.com/dvloznov/stripe-reconciler/internal/payout"
	"github.com/dvloznov/stripe-reconciler/internal/statement"
)

func main() {
	// Initialize logger
	log := logger.New()

	// Initialize job store and queue
	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	log.Info().Msg("Starting worker service")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	txnRepo, err := infraBQ.NewBigQueryTransactionRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transaction repository")
	}
	defer txnRepo.Close()

	accountRepo, err := infraBQ.NewBigQueryAccountRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create account repository")
	}
	defer accountRepo.Close()

	statementRepo, err := infraBQ.NewBigQueryStatementRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create statement repository")
	}
	defer statementRepo.Close()

	runRepo, err := infraBQ.NewBigQueryRunRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	defer runRepo.Close()

	generator := statement.NewGenerator(accountRepo, txnRepo, statementRepo, runRepo)
	simulator := payout.NewSimulator(txnRepo, runRepo)

	// Create job handler that processes reconcile jobs
	handler := func(ctx context.Context, job jobs.Job) error {
		reconcileJob, ok := job.(*jobs.ReconcileJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", reconcileJob.JobID).
			Str("type", string(reconcileJob.Type)).
			Str("account_id", reconcileJob.AccountID).
			Int("year", reconcileJob.Year).
			Int("month", reconcileJob.Month).
			Msg("Processing reconcile job")

		account, err := generator.ResolveAccount(ctx, reconcileJob.AccountID)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", reconcileJob.JobID).
				Str("account_id", reconcileJob.AccountID).
				Msg("Failed to resolve account")
			return err
		}

		switch reconcileJob.Type {
		case jobs.JobTypeGenerateStatement:
			_, err = generator.Generate(ctx, account, reconcileJob.Year, reconcileJob.Month, statement.Options{
				OpeningBalance: reconcileJob.OpeningBalance,
				DryRun:         reconcileJob.DryRun,
			})
		case jobs.JobTypeSimulatePayouts:
			var cutoff *time.Time
			if reconcileJob.CutoffDay > 0 {
				c := time.Date(reconcileJob.Year, time.Month(reconcileJob.Month), reconcileJob.CutoffDay, 23, 59, 59, 0, time.UTC)
				cutoff = &c
			}
			_, err = simulator.Run(ctx, account, reconcileJob.Year, reconcileJob.Month, reconcileJob.Threshold, cutoff, reconcileJob.DryRun)
		default:
			err = fmt.Errorf("unknown job type: %s", reconcileJob.Type)
		}

		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", reconcileJob.JobID).
				Str("account_id", reconcileJob.AccountID).
				Msg("Reconcile job failed")
			return err
		}

		log.Info().
			Str("job_id", reconcileJob.JobID).
			Str("account_id", reconcileJob.AccountID).
			Msg("Reconcile job completed successfully")

		return nil
	}

	// Start consuming jobs
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop workers
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	// Close the queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
