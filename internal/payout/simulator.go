package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/ledger"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
)

// SettlementLag is the fixed delay between the triggering charge and the
// simulated payout. Stripe typically settles T+1.
const SettlementLag = 24 * time.Hour

// Operation is the run-audit label for payout simulation.
const Operation = "simulate_payouts"

// Decision classifies the outcome of one threshold crossing.
type Decision string

const (
	// DecisionCreated: a synthetic payout transaction was (or, on dry runs,
	// would be) written to the store.
	DecisionCreated Decision = "created"

	// DecisionSkippedExisting: the synthetic id already exists in the store.
	// The rerun proceeds and reports the skip; it never duplicates.
	DecisionSkippedExisting Decision = "skipped_existing"

	// DecisionSkippedCutoff: the crossing happened after the cutoff date.
	// The balance keeps accumulating instead of paying out; surfaced so
	// operators can reconcile manually.
	DecisionSkippedCutoff Decision = "skipped_cutoff"
)

// Payout is one simulated settlement event.
type Payout struct {
	StripeID string    `json:"stripe_id"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Date     time.Time `json:"date"`

	// TriggeredBy is the stripe_id of the charge whose accumulation crossed
	// the threshold.
	TriggeredBy string `json:"triggered_by"`
}

// Outcome pairs a payout with what happened to it.
type Outcome struct {
	Payout
	Decision Decision `json:"decision"`
}

// Report is the caller-facing result of one simulation run.
type Report struct {
	AccountID string     `json:"account_id"`
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	Threshold int64      `json:"threshold"`
	Cutoff    *time.Time `json:"cutoff,omitempty"`
	DryRun    bool       `json:"dry_run"`

	ChargesProcessed  int       `json:"charges_processed"`
	Outcomes          []Outcome `json:"outcomes"`
	UnresolvedBalance int64     `json:"unresolved_balance"`
}

// Count returns how many outcomes carry the given decision.
func (r *Report) Count(d Decision) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Decision == d {
			n++
		}
	}
	return n
}

// Plan replays succeeded charges against a rolling balance and decides where
// payouts fire. The balance starts at zero each run: the simulation explains
// charges within the window, not carried-forward amounts.
//
// A crossing at or before the cutoff schedules a payout of the entire current
// balance one settlement lag after the charge and resets the balance. A
// crossing after the cutoff is reported as skipped and keeps accumulating.
// Charges must already be in ascending (stripe_created, stripe_id) order.
func Plan(accountID string, year, month int, charges []*ledger.Transaction, threshold int64, cutoff *time.Time) ([]Outcome, int64) {
	var outcomes []Outcome
	var balance int64
	seq := 1

	for _, charge := range charges {
		balance += charge.Amount
		if charge.Fee != 0 {
			balance -= charge.Fee
		}

		if balance < threshold {
			continue
		}

		payout := Payout{
			Amount:      balance,
			Currency:    charge.Currency,
			Date:        charge.StripeCreated.Add(SettlementLag),
			TriggeredBy: charge.StripeID,
		}

		if cutoff == nil || !charge.StripeCreated.After(*cutoff) {
			payout.StripeID = SyntheticID(year, month, accountID, seq)
			outcomes = append(outcomes, Outcome{Payout: payout, Decision: DecisionCreated})
			balance = 0
			seq++
		} else {
			outcomes = append(outcomes, Outcome{Payout: payout, Decision: DecisionSkippedCutoff})
		}
	}

	return outcomes, balance
}

// SyntheticID builds the deterministic identifier for a simulated payout.
// The sequence counter is per run, so replays regenerate identical ids.
func SyntheticID(year, month int, accountID string, seq int) string {
	return fmt.Sprintf("payout_sim_%d%02d_%s_%03d", year, month, accountID, seq)
}

// Simulator reconstructs missing payout events from charge history and
// materializes them in the transaction store.
type Simulator struct {
	txns bigquery.TransactionRepository
	runs bigquery.RunRepository
}

// NewSimulator creates a Simulator. The run repository may be nil to skip
// audit recording (tests, dry-run tooling).
func NewSimulator(txns bigquery.TransactionRepository, runs bigquery.RunRepository) *Simulator {
	return &Simulator{txns: txns, runs: runs}
}

// Run simulates payouts for one account and month. Unless dryRun is set, each
// scheduled payout is persisted after an existence check on its synthetic id,
// so reruns report skips instead of writing duplicates.
func (s *Simulator) Run(ctx context.Context, account *bigquery.AccountRow, year, month int, threshold int64, cutoff *time.Time, dryRun bool) (*Report, error) {
	log := logger.FromContext(ctx)

	if threshold <= 0 {
		return nil, fmt.Errorf("Run: threshold must be positive, got %d", threshold)
	}

	var runID string
	if s.runs != nil && !dryRun {
		var err error
		runID, err = s.runs.StartRun(ctx, account.AccountID, year, month, Operation)
		if err != nil {
			return nil, fmt.Errorf("Run: starting run record: %w", err)
		}
	}

	report, err := s.run(ctx, account, year, month, threshold, cutoff, dryRun)
	if err != nil {
		if runID != "" {
			s.runs.MarkRunFailed(ctx, runID, err)
		}
		return nil, err
	}

	if runID != "" {
		if err := s.runs.MarkRunSucceeded(ctx, runID); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("Failed to mark run succeeded")
		}
	}

	return report, nil
}

func (s *Simulator) run(ctx context.Context, account *bigquery.AccountRow, year, month int, threshold int64, cutoff *time.Time, dryRun bool) (*Report, error) {
	log := logger.FromContext(ctx)

	start, end := ledger.MonthRange(year, month)

	rows, err := s.txns.QuerySucceededCharges(ctx, account.AccountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("Run: querying charges: %w", err)
	}

	charges := make([]*ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		charges = append(charges, row.ToLedger())
	}

	outcomes, unresolved := Plan(account.AccountID, year, month, charges, threshold, cutoff)

	report := &Report{
		AccountID:         account.AccountID,
		Year:              year,
		Month:             month,
		Threshold:         threshold,
		Cutoff:            cutoff,
		DryRun:            dryRun,
		ChargesProcessed:  len(charges),
		Outcomes:          outcomes,
		UnresolvedBalance: unresolved,
	}

	log.Info().
		Str("account_id", account.AccountID).
		Int("year", year).
		Int("month", month).
		Int("charges", len(charges)).
		Int("scheduled", report.Count(DecisionCreated)).
		Int("cutoff_skips", report.Count(DecisionSkippedCutoff)).
		Int64("unresolved_balance", unresolved).
		Bool("dry_run", dryRun).
		Msg("Payout simulation planned")

	if dryRun {
		return report, nil
	}

	now := time.Now()
	for i := range report.Outcomes {
		out := &report.Outcomes[i]
		if out.Decision != DecisionCreated {
			continue
		}

		exists, err := s.txns.TransactionExists(ctx, account.AccountID, out.StripeID)
		if err != nil {
			return nil, fmt.Errorf("Run: checking payout %s: %w", out.StripeID, err)
		}
		if exists {
			out.Decision = DecisionSkippedExisting
			log.Info().Str("stripe_id", out.StripeID).Msg("Payout already exists, skipping")
			continue
		}

		row := bigquery.FromLedger(&ledger.Transaction{
			StripeID:      out.StripeID,
			AccountID:     account.AccountID,
			Amount:        out.Amount,
			Fee:           0,
			Currency:      out.Currency,
			Status:        ledger.StatusSucceeded,
			Type:          ledger.TypePayout,
			StripeCreated: out.Date,
			Description:   "Simulated payout",
		}, now)

		if err := s.txns.InsertTransactions(ctx, []*bigquery.TransactionRow{row}); err != nil {
			return nil, fmt.Errorf("Run: inserting payout %s: %w", out.StripeID, err)
		}

		log.Info().
			Str("stripe_id", out.StripeID).
			Int64("amount", out.Amount).
			Time("date", out.Date).
			Msg("Created simulated payout")
	}

	return report, nil
}
