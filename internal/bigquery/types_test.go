package bigquery

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/stripe-reconciler/internal/ledger"
)

func TestFromLedger_CarriesMetadata(t *testing.T) {
	txn := &ledger.Transaction{
		StripeID:      "ch_001",
		AccountID:     "acct_1",
		Amount:        4550,
		Fee:           162,
		Currency:      "usd",
		Status:        ledger.StatusSucceeded,
		Type:          ledger.TypeCharge,
		StripeCreated: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Metadata:      map[string]string{"order_id": "ord_42", "source": "checkout"},
	}

	row := FromLedger(txn, time.Now())

	if !row.Metadata.Valid {
		t.Fatal("expected metadata to be set on the stored row")
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(row.Metadata.JSONVal), &m); err != nil {
		t.Fatalf("metadata JSONVal %q: %v", row.Metadata.JSONVal, err)
	}
	if m["order_id"] != "ord_42" || m["source"] != "checkout" {
		t.Errorf("metadata = %v", m)
	}

	back := row.ToLedger()
	if back.Metadata["order_id"] != "ord_42" || back.Metadata["source"] != "checkout" {
		t.Errorf("round-tripped metadata = %v", back.Metadata)
	}
}

func TestFromLedger_EmptyMetadataIsNull(t *testing.T) {
	row := FromLedger(&ledger.Transaction{StripeID: "ch_002", AccountID: "acct_1"}, time.Now())
	if row.Metadata.Valid {
		t.Error("expected NULL metadata for a transaction without any")
	}
}

func TestToLedger_UntypedMetadata(t *testing.T) {
	// Rows read back from the store carry JSON values as map[string]interface{}.
	row := &TransactionRow{
		StripeID:  "ch_003",
		AccountID: "acct_1",
		Metadata: bigquery.NullJSON{
			JSONVal: `{"order_id":"ord_7","attempt":2}`,
			Valid:   true,
		},
	}

	txn := row.ToLedger()
	if txn.Metadata["order_id"] != "ord_7" {
		t.Errorf("metadata = %v, want order_id preserved", txn.Metadata)
	}
	if _, ok := txn.Metadata["attempt"]; ok {
		t.Error("non-string metadata values should be dropped")
	}
}
