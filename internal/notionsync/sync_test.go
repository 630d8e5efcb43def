package notionsync

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
)

type fakeNotion struct {
	pages   []notionapi.Page
	created []notionapi.Properties
	updated map[string]notionapi.Properties
	deleted []string
	nextID  int
}

func newFakeNotion(pages ...notionapi.Page) *fakeNotion {
	return &fakeNotion{
		pages:   pages,
		updated: make(map[string]notionapi.Properties),
	}
}

func (f *fakeNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	f.created = append(f.created, properties)
	f.nextID++
	return &notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("page_%d", f.nextID))}, nil
}

func (f *fakeNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	f.updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (f *fakeNotion) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return &notionapi.DatabaseQueryResponse{Results: f.pages}, nil
}

func (f *fakeNotion) DeletePage(ctx context.Context, pageID string) error {
	f.deleted = append(f.deleted, pageID)
	return nil
}

type fakeAccounts struct {
	rows []*bq.AccountRow
}

func (f *fakeAccounts) FindAccount(ctx context.Context, nameOrID string) (*bq.AccountRow, error) {
	for _, r := range f.rows {
		if r.AccountID == nameOrID || r.Name == nameOrID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) ListAllAccounts(ctx context.Context) ([]*bq.AccountRow, error) {
	return f.rows, nil
}

func (f *fakeAccounts) UpsertAccount(ctx context.Context, row *bq.AccountRow) (string, error) {
	f.rows = append(f.rows, row)
	return row.AccountID, nil
}

type fakeStatements struct {
	rows []*bq.StatementRow
}

func (f *fakeStatements) UpsertStatement(ctx context.Context, row *bq.StatementRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeStatements) FindStatement(ctx context.Context, accountID string, year, month int) (*bq.StatementRow, error) {
	for _, r := range f.rows {
		if r.AccountID == accountID && r.Year == int64(year) && r.Month == int64(month) {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStatements) ListStatementsByAccount(ctx context.Context, accountID string) ([]*bq.StatementRow, error) {
	var out []*bq.StatementRow
	for _, r := range f.rows {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStatements) MarkReconciled(ctx context.Context, accountID string, year, month int, reconciledBy string) error {
	return nil
}

func titlePage(id, propName, value string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			propName: &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: value}},
			},
		},
	}
}

func testStatement(accountID string, year, month int64) *bq.StatementRow {
	return &bq.StatementRow{
		AccountID:      accountID,
		Year:           year,
		Month:          month,
		PeriodStart:    civil.Date{Year: int(year), Month: 8, Day: 1},
		PeriodEnd:      civil.Date{Year: int(year), Month: 8, Day: 31},
		OpeningBalance: 1000,
		ClosingBalance: 4550,
		TotalCharges:   15000,
	}
}

func TestSyncStatements_CreatesMissingAndUpdatesExisting(t *testing.T) {
	accounts := &fakeAccounts{rows: []*bq.AccountRow{{AccountID: "acct_hk", Name: "HK Studio"}}}
	statements := &fakeStatements{rows: []*bq.StatementRow{
		testStatement("acct_hk", 2025, 7),
		testStatement("acct_hk", 2025, 8),
	}}

	// July already has a page, August does not.
	notion := newFakeNotion(titlePage("page_jul", "Statement", "acct_hk 2025-07"))

	if err := SyncStatements(context.Background(), accounts, statements, notion, "db", false); err != nil {
		t.Fatalf("SyncStatements: %v", err)
	}

	if len(notion.created) != 1 {
		t.Fatalf("created = %d, want 1", len(notion.created))
	}
	if _, ok := notion.updated["page_jul"]; !ok {
		t.Error("expected existing July page to be updated")
	}
	if len(notion.deleted) != 0 {
		t.Errorf("deleted = %v, want none", notion.deleted)
	}
}

func TestSyncStatements_DeletesStalePages(t *testing.T) {
	accounts := &fakeAccounts{rows: []*bq.AccountRow{{AccountID: "acct_hk", Name: "HK Studio"}}}
	statements := &fakeStatements{rows: []*bq.StatementRow{testStatement("acct_hk", 2025, 8)}}

	notion := newFakeNotion(
		titlePage("page_aug", "Statement", "acct_hk 2025-08"),
		titlePage("page_gone", "Statement", "acct_hk 2024-01"),
	)

	if err := SyncStatements(context.Background(), accounts, statements, notion, "db", false); err != nil {
		t.Fatalf("SyncStatements: %v", err)
	}

	if len(notion.deleted) != 1 || notion.deleted[0] != "page_gone" {
		t.Errorf("deleted = %v, want [page_gone]", notion.deleted)
	}
}

func TestSyncStatements_DryRunWritesNothing(t *testing.T) {
	accounts := &fakeAccounts{rows: []*bq.AccountRow{{AccountID: "acct_hk", Name: "HK Studio"}}}
	statements := &fakeStatements{rows: []*bq.StatementRow{testStatement("acct_hk", 2025, 8)}}

	notion := newFakeNotion(titlePage("page_gone", "Statement", "acct_hk 2024-01"))

	if err := SyncStatements(context.Background(), accounts, statements, notion, "db", true); err != nil {
		t.Fatalf("SyncStatements: %v", err)
	}

	if len(notion.created) != 0 || len(notion.updated) != 0 || len(notion.deleted) != 0 {
		t.Errorf("dry run wrote to Notion: created=%d updated=%d deleted=%d",
			len(notion.created), len(notion.updated), len(notion.deleted))
	}
}

func TestSyncAccounts_SkipsExisting(t *testing.T) {
	accounts := &fakeAccounts{rows: []*bq.AccountRow{
		{AccountID: "acct_hk", Name: "HK Studio"},
		{AccountID: "acct_uk", Name: "UK Studio"},
	}}

	notion := newFakeNotion(titlePage("page_hk", "Account ID", "acct_hk"))

	if err := SyncAccounts(context.Background(), accounts, notion, "db", false); err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}

	if len(notion.created) != 1 {
		t.Fatalf("created = %d, want 1", len(notion.created))
	}
}

func TestStatementToNotionProperties_MajorUnits(t *testing.T) {
	props := StatementToNotionProperties(testStatement("acct_hk", 2025, 8))

	closing, ok := props["Closing Balance"].(notionapi.NumberProperty)
	if !ok {
		t.Fatal("missing Closing Balance property")
	}
	if closing.Number != 45.50 {
		t.Errorf("Closing Balance = %v, want 45.50", closing.Number)
	}
}
