package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/stripe-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
	"github.com/dvloznov/stripe-reconciler/internal/notionsync"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	notionToken := flag.String("notion-token", os.Getenv("NOTION_TOKEN"), "Notion API token (or NOTION_TOKEN env var)")
	accountsDBID := flag.String("accounts-db-id", "", "Notion database ID for accounts")
	statementsDBID := flag.String("statements-db-id", "", "Notion database ID for monthly statements")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	// Validate required flags
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token or NOTION_TOKEN is required")
	}
	if *accountsDBID == "" && *statementsDBID == "" {
		log.Fatal().Msg("Error: at least one of --accounts-db-id or --statements-db-id is required")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Bool("sync_accounts", *accountsDBID != "").
		Bool("sync_statements", *statementsDBID != "").
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	// Initialize BigQuery repositories
	accountRepo, err := bigquery.NewBigQueryAccountRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize account repository")
	}
	defer accountRepo.Close()

	statementRepo, err := bigquery.NewBigQueryStatementRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize statement repository")
	}
	defer statementRepo.Close()

	// Initialize Notion client
	notionClient := notionsync.NewNotionClient(*notionToken)

	// Sync accounts first so statement pages can reference them
	if *accountsDBID != "" {
		if err := notionsync.SyncAccounts(ctx, accountRepo, notionClient, *accountsDBID, *dryRun); err != nil {
			log.Fatal().Err(err).Msg("Account sync failed")
		}
	}

	if *statementsDBID != "" {
		if err := notionsync.SyncStatements(ctx, accountRepo, statementRepo, notionClient, *statementsDBID, *dryRun); err != nil {
			log.Fatal().Err(err).Msg("Statement sync failed")
		}
	}

	fmt.Println("Sync completed successfully.")
}
