package ledger

import "errors"

var (
	// ErrDuplicateTransaction reports a period containing two transactions
	// with the same stripe_id. This is a data-integrity failure: the run is
	// aborted before any accumulation so nothing is ever summed twice.
	ErrDuplicateTransaction = errors.New("duplicate transaction id in period")

	// ErrLedgerImbalance reports a built ledger whose closing balance does
	// not satisfy the balance identity against its own totals.
	ErrLedgerImbalance = errors.New("ledger totals do not reconcile with closing balance")
)
