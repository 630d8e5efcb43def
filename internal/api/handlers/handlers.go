package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/stripe-reconciler/internal/api/middleware"
	"github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/jobs"
	"github.com/dvloznov/stripe-reconciler/internal/payout"
	"github.com/dvloznov/stripe-reconciler/internal/statement"
)

// AccountsHandler handles merchant account endpoints.
type AccountsHandler struct {
	repo bigquery.AccountRepository
	log  zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(repo bigquery.AccountRepository, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		repo: repo,
		log:  log,
	}
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.repo.ListAllAccounts(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	repo bigquery.TransactionRepository
	log  zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo bigquery.TransactionRepository, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo: repo,
		log:  log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	accountID := query.Get("account_id")
	if accountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	startDateStr := query.Get("start_date")
	endDateStr := query.Get("end_date")

	var startDate, endDate time.Time
	var err error

	if startDateStr != "" {
		startDate, err = time.Parse("2006-01-02", startDateStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
	} else {
		startDate = time.Now().AddDate(-1, 0, 0) // 1 year ago
	}

	if endDateStr != "" {
		endDate, err = time.Parse("2006-01-02", endDateStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
		endDate = endDate.Add(24*time.Hour - time.Second)
	} else {
		endDate = time.Now()
	}

	transactions, err := h.repo.QueryTransactionsByAccountAndRange(ctx, accountID, startDate, endDate)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []*bigquery.TransactionRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// StatementsHandler handles monthly statement endpoints.
type StatementsHandler struct {
	generator  *statement.Generator
	statements bigquery.StatementRepository
	publisher  jobs.Publisher
	log        zerolog.Logger
}

// NewStatementsHandler creates a new statements handler.
func NewStatementsHandler(generator *statement.Generator, statements bigquery.StatementRepository, publisher jobs.Publisher, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		generator:  generator,
		statements: statements,
		publisher:  publisher,
		log:        log,
	}
}

// ListStatements handles GET /api/statements
func (h *StatementsHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	statements, err := h.statements.ListStatementsByAccount(ctx, accountID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list statements")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": statements,
		"count":      len(statements),
	})
}

// GetStatement handles GET /api/statements/{account}/{year}/{month}
func (h *StatementsHandler) GetStatement(w http.ResponseWriter, r *http.Request, accountID string, year, month int) {
	ctx := r.Context()

	row, err := h.statements.FindStatement(ctx, accountID, year, month)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get statement")
		return
	}
	if row == nil {
		middleware.WriteError(w, http.StatusNotFound, "Statement not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, row)
}

// EnqueueGenerate handles POST /api/statements/generate
func (h *StatementsHandler) EnqueueGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string `json:"account_id"`
		Year           int    `json:"year"`
		Month          int    `json:"month"`
		OpeningBalance *int64 `json:"opening_balance,omitempty"`
		DryRun         bool   `json:"dry_run,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == "" || req.Year == 0 || req.Month < 1 || req.Month > 12 {
		middleware.WriteError(w, http.StatusBadRequest, "account_id, year and month are required")
		return
	}

	ctx := r.Context()

	job := &jobs.ReconcileJob{
		Type:           jobs.JobTypeGenerateStatement,
		AccountID:      req.AccountID,
		Year:           req.Year,
		Month:          req.Month,
		OpeningBalance: req.OpeningBalance,
		DryRun:         req.DryRun,
	}

	if err := h.publisher.PublishReconcile(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue statement job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue statement job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("account_id", req.AccountID).
		Int("year", req.Year).
		Int("month", req.Month).
		Msg("Statement job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.JobID,
		"account_id": req.AccountID,
		"status":     string(job.Status),
	})
}

// Reconcile handles POST /api/statements/reconcile
func (h *StatementsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID    string `json:"account_id"`
		Year         int    `json:"year"`
		Month        int    `json:"month"`
		ReconciledBy string `json:"reconciled_by"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == "" || req.Year == 0 || req.Month < 1 || req.Month > 12 || req.ReconciledBy == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id, year, month and reconciled_by are required")
		return
	}

	ctx := r.Context()

	if err := h.generator.MarkReconciled(ctx, req.AccountID, req.Year, req.Month, req.ReconciledBy); err != nil {
		if errors.Is(err, statement.ErrStatementNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Statement not found")
			return
		}
		h.log.Error().Err(err).Str("account_id", req.AccountID).Msg("Failed to reconcile statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to reconcile statement")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"account_id": req.AccountID,
		"status":     "reconciled",
	})
}

// PayoutsHandler handles payout simulation endpoints.
type PayoutsHandler struct {
	accounts  bigquery.AccountRepository
	simulator *payout.Simulator
	log       zerolog.Logger
}

// NewPayoutsHandler creates a new payouts handler.
func NewPayoutsHandler(accounts bigquery.AccountRepository, simulator *payout.Simulator, log zerolog.Logger) *PayoutsHandler {
	return &PayoutsHandler{
		accounts:  accounts,
		simulator: simulator,
		log:       log,
	}
}

// Simulate handles POST /api/payouts/simulate
// Simulation is cheap enough to run synchronously; the response carries the
// full per-payout report.
func (h *PayoutsHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Year      int    `json:"year"`
		Month     int    `json:"month"`
		Threshold int64  `json:"threshold"`
		CutoffDay int    `json:"cutoff_day,omitempty"`
		DryRun    bool   `json:"dry_run,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == "" || req.Year == 0 || req.Month < 1 || req.Month > 12 {
		middleware.WriteError(w, http.StatusBadRequest, "account_id, year and month are required")
		return
	}
	if req.Threshold <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "threshold must be a positive amount in minor units")
		return
	}

	ctx := r.Context()

	account, err := h.accounts.FindAccount(ctx, req.AccountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", req.AccountID).Msg("Failed to resolve account")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to resolve account")
		return
	}
	if account == nil {
		middleware.WriteError(w, http.StatusNotFound, "Account not found")
		return
	}

	var cutoff *time.Time
	if req.CutoffDay > 0 {
		c := time.Date(req.Year, time.Month(req.Month), req.CutoffDay, 23, 59, 59, 0, time.UTC)
		cutoff = &c
	}

	report, err := h.simulator.Run(ctx, account, req.Year, req.Month, req.Threshold, cutoff, req.DryRun)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", req.AccountID).Msg("Payout simulation failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Payout simulation failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, report)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		AccountID: query.Get("account_id"),
		Type:      jobs.JobType(query.Get("type")),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
