package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
	"github.com/dvloznov/stripe-reconciler/internal/logger"
)

// SyncAccounts syncs all merchant accounts from BigQuery to Notion.
// Deletes stale accounts and creates missing ones. The Account ID title
// property is the idempotency key.
func SyncAccounts(ctx context.Context, repo bq.AccountRepository, notionClient NotionService, notionDBID string, dryRun bool) error {
	log := logger.FromContext(ctx)

	log.Info().
		Bool("dry_run", dryRun).
		Msg("Starting accounts sync to Notion")

	accounts, err := repo.ListAllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to query accounts: %w", err)
	}

	log.Info().Int("account_count", len(accounts)).Msg("Retrieved accounts from BigQuery")

	// Build set of valid account IDs from BigQuery
	validAccountIDs := make(map[string]bool)
	for _, acc := range accounts {
		validAccountIDs[acc.AccountID] = true
	}

	log.Info().Msg("Querying existing accounts from Notion")
	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return fmt.Errorf("failed to query Notion pages: %w", err)
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	// Build map of existing account IDs in Notion (for deduplication)
	existingAccountIDs := make(map[string]bool)
	for _, page := range notionPages {
		accID := extractTitle(page, "Account ID")
		if accID != "" {
			existingAccountIDs[accID] = true
		}
	}

	// Delete stale accounts from Notion
	var deleted int
	for _, page := range notionPages {
		accID := extractTitle(page, "Account ID")

		// Delete pages without Account ID (from old sync) or not in valid set
		if accID == "" || !validAccountIDs[accID] {
			if dryRun {
				log.Info().
					Str("account_id", accID).
					Str("page_id", string(page.ID)).
					Msg("[DRY RUN] Would delete stale Notion page")
				deleted++
			} else {
				if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
					log.Warn().
						Err(err).
						Str("account_id", accID).
						Str("page_id", string(page.ID)).
						Msg("Failed to delete stale Notion page")
					continue
				}
				log.Info().
					Str("account_id", accID).
					Str("page_id", string(page.ID)).
					Msg("Deleted stale Notion page")
				deleted++
			}
		}
	}

	// Sync accounts
	var created, skipped int
	for _, acc := range accounts {
		// Skip if already exists in Notion
		if existingAccountIDs[acc.AccountID] {
			skipped++
			continue
		}

		if dryRun {
			log.Info().
				Str("account_id", acc.AccountID).
				Msg("[DRY RUN] Would create Notion page for account")
			created++
			continue
		}

		props := AccountToNotionProperties(acc)

		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().
				Err(err).
				Str("account_id", acc.AccountID).
				Msg("Failed to create Notion page for account")
			continue
		}

		log.Info().
			Str("account_id", acc.AccountID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page for account")
		created++
	}

	log.Info().
		Int("deleted", deleted).
		Int("created", created).
		Int("skipped", skipped).
		Int("total", len(accounts)).
		Msg("Accounts sync completed")

	return nil
}

// SyncStatements syncs monthly statements for all accounts from BigQuery to
// Notion. Statements are derived rows whose figures change on regeneration,
// so existing pages are updated in place rather than skipped. The Statement
// title property ("<account_id> <year>-<month>") is the idempotency key.
func SyncStatements(ctx context.Context, accounts bq.AccountRepository, statements bq.StatementRepository, notionClient NotionService, notionDBID string, dryRun bool) error {
	log := logger.FromContext(ctx)

	log.Info().
		Bool("dry_run", dryRun).
		Msg("Starting statements sync to Notion")

	accountRows, err := accounts.ListAllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to query accounts: %w", err)
	}

	var statementRows []*bq.StatementRow
	for _, acc := range accountRows {
		rows, err := statements.ListStatementsByAccount(ctx, acc.AccountID)
		if err != nil {
			return fmt.Errorf("failed to query statements for %s: %w", acc.AccountID, err)
		}
		statementRows = append(statementRows, rows...)
	}

	log.Info().Int("statement_count", len(statementRows)).Msg("Retrieved statements from BigQuery")

	// Build set of valid statement keys from BigQuery
	validKeys := make(map[string]bool)
	for _, st := range statementRows {
		validKeys[StatementKey(st.AccountID, st.Year, st.Month)] = true
	}

	log.Info().Msg("Querying existing statements from Notion")
	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return fmt.Errorf("failed to query Notion pages: %w", err)
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	// Map statement key -> Notion page ID for updates
	existingPages := make(map[string]string)
	for _, page := range notionPages {
		key := extractTitle(page, "Statement")
		if key != "" {
			existingPages[key] = string(page.ID)
		}
	}

	// Delete stale statements from Notion
	var deleted int
	for _, page := range notionPages {
		key := extractTitle(page, "Statement")

		if key == "" || !validKeys[key] {
			if dryRun {
				log.Info().
					Str("statement", key).
					Str("page_id", string(page.ID)).
					Msg("[DRY RUN] Would delete stale Notion page")
				deleted++
			} else {
				if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
					log.Warn().
						Err(err).
						Str("statement", key).
						Str("page_id", string(page.ID)).
						Msg("Failed to delete stale Notion page")
					continue
				}
				log.Info().
					Str("statement", key).
					Str("page_id", string(page.ID)).
					Msg("Deleted stale Notion page")
				deleted++
			}
		}
	}

	// Sync statements
	var created, updated int
	for _, st := range statementRows {
		key := StatementKey(st.AccountID, st.Year, st.Month)
		pageID, exists := existingPages[key]

		if dryRun {
			if exists {
				log.Info().
					Str("statement", key).
					Str("page_id", pageID).
					Msg("[DRY RUN] Would update Notion page for statement")
				updated++
			} else {
				log.Info().
					Str("statement", key).
					Msg("[DRY RUN] Would create Notion page for statement")
				created++
			}
			continue
		}

		props := StatementToNotionProperties(st)

		if exists {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().
					Err(err).
					Str("statement", key).
					Str("page_id", pageID).
					Msg("Failed to update Notion page for statement")
				continue
			}
			log.Info().
				Str("statement", key).
				Str("page_id", pageID).
				Msg("Updated Notion page for statement")
			updated++
		} else {
			page, err := notionClient.CreatePage(ctx, notionDBID, props)
			if err != nil {
				log.Warn().
					Err(err).
					Str("statement", key).
					Msg("Failed to create Notion page for statement")
				continue
			}
			log.Info().
				Str("statement", key).
				Str("page_id", string(page.ID)).
				Msg("Created Notion page for statement")
			created++
		}
	}

	log.Info().
		Int("deleted", deleted).
		Int("created", created).
		Int("updated", updated).
		Int("total", len(statementRows)).
		Msg("Statements sync completed")

	return nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractTitle extracts the plain text of a title property from a Notion page.
// Returns empty string if not found.
func extractTitle(page notionapi.Page, name string) string {
	if prop, ok := page.Properties[name]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
