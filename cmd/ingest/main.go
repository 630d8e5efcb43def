package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/gcsuploader"
	"github.com/dvloznov/stripe-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/ledger"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
)

// exportTxn is one record of a processor export file.
type exportTxn struct {
	StripeID      string            `json:"stripe_id"`
	AccountID     string            `json:"account_id"`
	Amount        int64             `json:"amount"`
	Fee           int64             `json:"fee"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	Type          string            `json:"type"`
	StripeCreated time.Time         `json:"stripe_created"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

var validTypes = map[ledger.Type]bool{
	ledger.TypeCharge:     true,
	ledger.TypeRefund:     true,
	ledger.TypePayout:     true,
	ledger.TypeTransfer:   true,
	ledger.TypeAdjustment: true,
}

var validStatuses = map[ledger.Status]bool{
	ledger.StatusSucceeded: true,
	ledger.StatusPending:   true,
	ledger.StatusFailed:    true,
	ledger.StatusRefunded:  true,
	ledger.StatusCanceled:  true,
}

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	filePath := flag.String("file", "", "Path to a JSON export of transactions")
	gcsURI := flag.String("gcs-uri", "", "GCS URI of a JSON export (e.g. gs://bucket/export.json)")
	accountID := flag.String("account", "", "Account ID to assign to records missing one")
	dryRun := flag.Bool("dry-run", false, "Parse and validate without writing to the store")
	flag.Parse()

	if *filePath == "" && *gcsURI == "" {
		log.Fatal().Msg("Error: one of --file or --gcs-uri is required")
	}
	if *filePath != "" && *gcsURI != "" {
		log.Fatal().Msg("Error: --file and --gcs-uri are mutually exclusive")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	var (
		data []byte
		err  error
	)
	if *gcsURI != "" {
		log.Info().Str("gcs_uri", *gcsURI).Msg("Fetching export from GCS")
		data, err = gcsuploader.FetchFromGCS(ctx, *gcsURI)
	} else {
		log.Info().Str("file", *filePath).Msg("Reading export file")
		data, err = os.ReadFile(*filePath)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read export")
	}

	var records []exportTxn
	if err := json.Unmarshal(data, &records); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse export: expected a JSON array of transactions")
	}
	if len(records) == 0 {
		log.Fatal().Msg("Export contains no transactions")
	}

	now := time.Now().UTC()
	rows := make([]*bq.TransactionRow, 0, len(records))
	for i, rec := range records {
		txn, err := toLedgerTransaction(rec, *accountID)
		if err != nil {
			log.Fatal().Err(err).Int("record", i).Str("stripe_id", rec.StripeID).Msg("Invalid record")
		}
		rows = append(rows, bq.FromLedger(txn, now))
	}

	log.Info().Int("count", len(rows)).Bool("dry_run", *dryRun).Msg("Parsed export")

	if *dryRun {
		fmt.Printf("[DRY RUN] Would ingest %d transactions.\n", len(rows))
		return
	}

	repo, err := bigquery.NewBigQueryTransactionRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transaction repository")
	}
	defer repo.Close()

	if err := repo.InsertTransactions(ctx, rows); err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingested %d transactions.\n", len(rows))
}

// toLedgerTransaction validates one export record and converts it to the
// ledger representation. defaultAccount fills a missing account_id.
func toLedgerTransaction(rec exportTxn, defaultAccount string) (*ledger.Transaction, error) {
	account := strings.TrimSpace(rec.AccountID)
	if account == "" {
		account = strings.TrimSpace(defaultAccount)
	}

	switch {
	case strings.TrimSpace(rec.StripeID) == "":
		return nil, fmt.Errorf("toLedgerTransaction: missing stripe_id")
	case account == "":
		return nil, fmt.Errorf("toLedgerTransaction: missing account_id and no --account given")
	case rec.Currency == "":
		return nil, fmt.Errorf("toLedgerTransaction: missing currency")
	case rec.StripeCreated.IsZero():
		return nil, fmt.Errorf("toLedgerTransaction: missing stripe_created")
	}

	txnType := ledger.Type(rec.Type)
	if !validTypes[txnType] {
		return nil, fmt.Errorf("toLedgerTransaction: unknown type %q", rec.Type)
	}
	status := ledger.Status(rec.Status)
	if !validStatuses[status] {
		return nil, fmt.Errorf("toLedgerTransaction: unknown status %q", rec.Status)
	}

	return &ledger.Transaction{
		StripeID:      strings.TrimSpace(rec.StripeID),
		AccountID:     account,
		Amount:        rec.Amount,
		Fee:           rec.Fee,
		Currency:      strings.ToLower(rec.Currency),
		Status:        status,
		Type:          txnType,
		StripeCreated: rec.StripeCreated.UTC(),
		CustomerEmail: rec.CustomerEmail,
		Description:   rec.Description,
		Metadata:      rec.Metadata,
	}, nil
}
