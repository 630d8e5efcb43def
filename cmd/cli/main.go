package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/stripe-reconciler/internal/gcsuploader"
	infraBQ "github.com/dvloznov/stripe-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
	"github.com/dvloznov/stripe-reconciler/internal/payout"
	"github.com/dvloznov/stripe-reconciler/internal/statement"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "statement":
		runStatement(log)
	case "payouts":
		runPayouts(log)
	case "accounts":
		runAccounts(log)
	case "reconcile":
		runReconcile(log)
	case "export":
		runExport(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Stripe Reconciler CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  statement  Generate the monthly statement for an account")
	fmt.Println("  payouts    Simulate threshold payouts for an account and month")
	fmt.Println("  accounts   List merchant accounts")
	fmt.Println("  reconcile  Mark a generated statement as reconciled")
	fmt.Println("  export     Fetch an archived statement from GCS")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func newRepos(ctx context.Context, log zerolog.Logger) (*infraBQ.BigQueryAccountRepository, *infraBQ.BigQueryTransactionRepository, *infraBQ.BigQueryStatementRepository, *infraBQ.BigQueryRunRepository) {
	accounts, err := infraBQ.NewBigQueryAccountRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create account repository")
	}
	txns, err := infraBQ.NewBigQueryTransactionRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transaction repository")
	}
	statements, err := infraBQ.NewBigQueryStatementRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create statement repository")
	}
	runs, err := infraBQ.NewBigQueryRunRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	return accounts, txns, statements, runs
}

func runStatement(log zerolog.Logger) {
	fs := flag.NewFlagSet("statement", flag.ExitOnError)
	account := fs.String("account", "", "Account code or display name")
	year := fs.Int("year", 0, "Statement year")
	month := fs.Int("month", 0, "Statement month (1-12)")
	openingBalance := fs.Int64("opening-balance", 0, "Opening balance override in minor units (first statement only)")
	hasOpening := false
	dryRun := fs.Bool("dry-run", false, "Compute without persisting")
	csvPath := fs.String("csv", "", "Write a CSV rendering to this path")
	archiveBucket := fs.String("archive-bucket", os.Getenv("STATEMENT_ARCHIVE_BUCKET"), "GCS bucket for CSV archive (or set STATEMENT_ARCHIVE_BUCKET)")
	fs.Parse(os.Args[2:])
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "opening-balance" {
			hasOpening = true
		}
	})

	if *account == "" || *year == 0 || *month < 1 || *month > 12 {
		log.Fatal().Msg("Usage: cli statement -account NAME -year YYYY -month M [-opening-balance N] [-dry-run] [-csv PATH] [-archive-bucket NAME]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	accounts, txns, statements, runs := newRepos(ctx, log)
	defer accounts.Close()
	defer txns.Close()
	defer statements.Close()
	defer runs.Close()

	generator := statement.NewGenerator(accounts, txns, statements, runs)

	acc, err := generator.ResolveAccount(ctx, *account)
	if err != nil {
		log.Fatal().Err(err).Str("account", *account).Msg("Failed to resolve account")
	}

	opts := statement.Options{DryRun: *dryRun}
	if hasOpening {
		opts.OpeningBalance = openingBalance
	}

	log.Info().
		Str("account_id", acc.AccountID).
		Int("year", *year).
		Int("month", *month).
		Bool("dry_run", *dryRun).
		Msg("Generating monthly statement")

	res, err := generator.Generate(ctx, acc, *year, *month, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Statement generation failed")
	}

	if err := statement.RenderText(os.Stdout, res); err != nil {
		log.Fatal().Err(err).Msg("Failed to render statement")
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *csvPath).Msg("Failed to create CSV file")
		}
		if err := statement.RenderCSV(f, res); err != nil {
			f.Close()
			log.Fatal().Err(err).Msg("Failed to render CSV")
		}
		if err := f.Close(); err != nil {
			log.Fatal().Err(err).Msg("Failed to close CSV file")
		}
		fmt.Printf("Wrote CSV to %s\n", *csvPath)
	}

	if *archiveBucket != "" && !*dryRun {
		var buf bytes.Buffer
		if err := statement.RenderCSV(&buf, res); err != nil {
			log.Fatal().Err(err).Msg("Failed to render CSV for archive")
		}
		object := gcsuploader.StatementObjectName(acc.AccountID, *year, *month, "csv")
		if err := gcsuploader.UploadBytes(ctx, *archiveBucket, object, buf.Bytes(), "text/csv"); err != nil {
			log.Fatal().Err(err).Msg("Failed to archive CSV to GCS")
		}
		fmt.Printf("Archived CSV to gs://%s/%s\n", *archiveBucket, object)
	}
}

func runPayouts(log zerolog.Logger) {
	fs := flag.NewFlagSet("payouts", flag.ExitOnError)
	account := fs.String("account", "", "Account code or display name")
	year := fs.Int("year", 0, "Simulation year")
	month := fs.Int("month", 0, "Simulation month (1-12)")
	threshold := fs.Int64("threshold", 0, "Payout threshold in minor units")
	cutoffDay := fs.Int("cutoff-day", 0, "Day of month after which payouts are held (0 = no cutoff)")
	dryRun := fs.Bool("dry-run", false, "Report without writing synthetic payouts")
	fs.Parse(os.Args[2:])

	if *account == "" || *year == 0 || *month < 1 || *month > 12 || *threshold <= 0 {
		log.Fatal().Msg("Usage: cli payouts -account NAME -year YYYY -month M -threshold N [-cutoff-day D] [-dry-run]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	accounts, txns, statements, runs := newRepos(ctx, log)
	defer accounts.Close()
	defer txns.Close()
	defer statements.Close()
	defer runs.Close()

	acc, err := accounts.FindAccount(ctx, *account)
	if err != nil {
		log.Fatal().Err(err).Str("account", *account).Msg("Failed to resolve account")
	}
	if acc == nil {
		log.Fatal().Str("account", *account).Msg("Account not found")
	}

	var cutoff *time.Time
	if *cutoffDay > 0 {
		c := time.Date(*year, time.Month(*month), *cutoffDay, 23, 59, 59, 0, time.UTC)
		cutoff = &c
	}

	simulator := payout.NewSimulator(txns, runs)

	report, err := simulator.Run(ctx, acc, *year, *month, *threshold, cutoff, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Payout simulation failed")
	}

	fmt.Printf("\nPayout simulation for %s, %s\n", acc.Name, statement.PeriodLabel(*year, *month))
	fmt.Printf("Threshold: %d minor units, charges processed: %d\n\n", report.Threshold, report.ChargesProcessed)
	for _, o := range report.Outcomes {
		switch o.Decision {
		case payout.DecisionCreated:
			fmt.Printf("  created          %s  %8d  %s  (triggered by %s)\n",
				o.StripeID, o.Amount, o.Date.Format("2006-01-02"), o.TriggeredBy)
		case payout.DecisionSkippedExisting:
			fmt.Printf("  skipped existing %s  %8d\n", o.StripeID, o.Amount)
		case payout.DecisionSkippedCutoff:
			fmt.Printf("  held by cutoff   %8d  (triggered by %s)\n", o.Amount, o.TriggeredBy)
		}
	}
	if report.UnresolvedBalance != 0 {
		fmt.Printf("\nUnresolved balance at month end: %d minor units\n", report.UnresolvedBalance)
	}
	if *dryRun {
		fmt.Println("\nDry run: nothing was written.")
	}
}

func runAccounts(log zerolog.Logger) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)

	accounts, err := infraBQ.NewBigQueryAccountRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create account repository")
	}
	defer accounts.Close()

	rows, err := accounts.ListAllAccounts(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}

	fmt.Printf("\n%-24s %-32s %-8s %s\n", "ACCOUNT ID", "NAME", "ACTIVE", "MANAGER")
	for _, acc := range rows {
		active := "-"
		if acc.IsActive.Valid {
			active = fmt.Sprintf("%t", acc.IsActive.Bool)
		}
		manager := ""
		if acc.ManagerEmail.Valid {
			manager = acc.ManagerEmail.StringVal
		}
		fmt.Printf("%-24s %-32s %-8s %s\n", acc.AccountID, acc.Name, active, manager)
	}
	fmt.Printf("\n%d account(s)\n", len(rows))
}

func runReconcile(log zerolog.Logger) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	account := fs.String("account", "", "Account code or display name")
	year := fs.Int("year", 0, "Statement year")
	month := fs.Int("month", 0, "Statement month (1-12)")
	by := fs.String("by", "", "Who is signing off")
	fs.Parse(os.Args[2:])

	if *account == "" || *year == 0 || *month < 1 || *month > 12 || *by == "" {
		log.Fatal().Msg("Usage: cli reconcile -account NAME -year YYYY -month M -by EMAIL")
	}

	ctx := logger.WithContext(context.Background(), log)

	accounts, txns, statements, runs := newRepos(ctx, log)
	defer accounts.Close()
	defer txns.Close()
	defer statements.Close()
	defer runs.Close()

	generator := statement.NewGenerator(accounts, txns, statements, runs)

	acc, err := generator.ResolveAccount(ctx, *account)
	if err != nil {
		log.Fatal().Err(err).Str("account", *account).Msg("Failed to resolve account")
	}

	if err := generator.MarkReconciled(ctx, acc.AccountID, *year, *month, *by); err != nil {
		log.Fatal().Err(err).Msg("Failed to mark statement reconciled")
	}

	fmt.Printf("Marked %s %s as reconciled by %s\n", acc.Name, statement.PeriodLabel(*year, *month), *by)
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	uri := fs.String("uri", "", "GCS URI of an archived statement (gs://bucket/statements/...)")
	outPath := fs.String("out", "", "Write to this path (defaults to the object filename)")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Usage: cli export -uri gs://BUCKET/OBJECT [-out PATH]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	data, err := gcsuploader.FetchFromGCS(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Str("uri", *uri).Msg("Failed to fetch archived statement")
	}

	path := *outPath
	if path == "" {
		path = gcsuploader.ExtractFilenameFromGCSURI(*uri)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to write file")
	}

	fmt.Printf("Wrote %d bytes to %s\n", len(data), path)
}
