package ledger

import (
	"time"
)

// Status is the processor-reported state of a transaction, fixed at ingestion.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCanceled  Status = "canceled"
)

// Type classifies a transaction. It is a closed enum: the type drives which
// fields of a transaction are meaningful and how the ledger treats it.
type Type string

const (
	TypeCharge     Type = "charge"
	TypeRefund     Type = "refund"
	TypePayout     Type = "payout"
	TypeTransfer   Type = "transfer"
	TypeAdjustment Type = "adjustment"
)

// Transaction is one immutable financial event from the payment processor.
// All amounts are in integer minor units (cents). StripeID is the natural key:
// (account, stripe_id) is unique and re-ingestion must be a no-op.
type Transaction struct {
	StripeID  string
	AccountID string

	Amount   int64 // signed, minor units
	Fee      int64 // minor units, 0 for non-charge types
	Currency string

	Status Status
	Type   Type

	// StripeCreated is the transaction time reported by the processor,
	// distinct from our ingestion time.
	StripeCreated time.Time

	CustomerEmail string
	Description   string
	Metadata      map[string]string
}

// Net returns the amount after the processing fee.
func (t *Transaction) Net() int64 {
	return t.Amount - t.Fee
}

// Nature labels one ledger line the way the processor's own statements do.
type Nature string

const (
	NatureOpeningBalance Nature = "Opening Balance"
	NatureGrossPayment   Nature = "Gross Payment"
	NatureProcessingFee  Nature = "Processing Fee"
	NatureRefund         Nature = "Refund"
	NaturePayout         Nature = "Payout"
	NatureAdjustment     Nature = "Adjustment"
	NatureClosingBalance Nature = "Closing Balance"

	// NatureInformational marks lines that carry no balance effect
	// (non-succeeded charges, transfers) in an unfiltered view.
	NatureInformational Nature = "Informational"
)

// Line is one row of a reconstructed statement. Lines are transient: they are
// produced for display and aggregation and never persisted.
type Line struct {
	Date        time.Time
	Nature      Nature
	Party       string
	Debit       int64
	Credit      int64
	Balance     int64
	Description string

	// StripeID of the originating transaction; empty for the opening and
	// closing lines.
	StripeID string
}

// Totals aggregates debits and credits by nature over one period.
type Totals struct {
	Charges     int64
	Fees        int64
	Refunds     int64
	Payouts     int64
	Adjustments int64
}

// Ledger is the reconstructed statement for one account and period.
type Ledger struct {
	Opening int64
	Closing int64
	Lines   []Line
	Totals  Totals
}
