package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/stripe-reconciler/internal/api/handlers"
	"github.com/dvloznov/stripe-reconciler/internal/api/middleware"
	infraBQ "github.com/dvloznov/stripe-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/jobs"
	"github.com/dvloznov/stripe-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
	"github.com/dvloznov/stripe-reconciler/internal/payout"
	"github.com/dvloznov/stripe-reconciler/internal/statement"
)

func main() {
	// Parse command-line flags
	var (
		port = flag.String("port", "8080", "HTTP server port")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	// Initialize repositories
	ctx := logger.WithContext(context.Background(), log)

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

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// Create job handler for processing reconcile jobs
	jobHandler := func(ctx context.Context, job jobs.Job) error {
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

		if err := runReconcileJob(ctx, generator, simulator, reconcileJob); err != nil {
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

	// Start job consumer in background
	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	accountsHandler := handlers.NewAccountsHandler(accountRepo, log)
	transactionsHandler := handlers.NewTransactionsHandler(txnRepo, log)
	statementsHandler := handlers.NewStatementsHandler(generator, statementRepo, jobQueue, log)
	payoutsHandler := handlers.NewPayoutsHandler(accountRepo, simulator, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	// Accounts endpoints
	mux.HandleFunc("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			accountsHandler.ListAccounts(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Transactions endpoints
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			transactionsHandler.ListTransactions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Statements endpoints
	mux.HandleFunc("/api/statements", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			statementsHandler.ListStatements(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.EnqueueGenerate(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.Reconcile(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		// Path: /api/statements/{account}/{year}/{month}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/statements/"), "/")
		if len(parts) != 3 {
			middleware.WriteError(w, http.StatusBadRequest, "Expected /api/statements/{account}/{year}/{month}")
			return
		}
		year, errY := strconv.Atoi(parts[1])
		month, errM := strconv.Atoi(parts[2])
		if parts[0] == "" || errY != nil || errM != nil || month < 1 || month > 12 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid account, year or month")
			return
		}
		statementsHandler.GetStatement(w, r, parts[0], year, month)
	})

	// Payouts endpoints
	mux.HandleFunc("/api/payouts/simulate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			payoutsHandler.Simulate(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Cancel worker context
	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	// Close job queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

// runReconcileJob dispatches a queued job to the statement generator or the
// payout simulator.
func runReconcileJob(ctx context.Context, generator *statement.Generator, simulator *payout.Simulator, job *jobs.ReconcileJob) error {
	account, err := generator.ResolveAccount(ctx, job.AccountID)
	if err != nil {
		return err
	}

	switch job.Type {
	case jobs.JobTypeGenerateStatement:
		_, err := generator.Generate(ctx, account, job.Year, job.Month, statement.Options{
			OpeningBalance: job.OpeningBalance,
			DryRun:         job.DryRun,
		})
		return err

	case jobs.JobTypeSimulatePayouts:
		var cutoff *time.Time
		if job.CutoffDay > 0 {
			c := time.Date(job.Year, time.Month(job.Month), job.CutoffDay, 23, 59, 59, 0, time.UTC)
			cutoff = &c
		}
		_, err := simulator.Run(ctx, account, job.Year, job.Month, job.Threshold, cutoff, job.DryRun)
		return err

	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
