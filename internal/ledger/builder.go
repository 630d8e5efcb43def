package ledger

import (
	"fmt"
	"sort"
	"time"
)

// Options controls how Build renders a period.
type Options struct {
	// IncludeInformational emits lines for transactions that have no balance
	// effect (non-succeeded charges, transfers) so callers can show an
	// unfiltered view. Totals are unaffected either way.
	IncludeInformational bool
}

// Build reconstructs the ledger for one account over the closed range
// [start, end]. Transactions outside the range are rejected by the caller's
// query, not here; Build trusts its input set and only orders it.
//
// The sequence is deterministic: ascending by stripe_created, ties broken by
// stripe_id. Duplicate stripe_ids abort the build before any accumulation.
func Build(start, end time.Time, opening int64, txns []*Transaction, opts Options) (*Ledger, error) {
	ordered := make([]*Transaction, len(txns))
	copy(ordered, txns)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].StripeCreated.Equal(ordered[j].StripeCreated) {
			return ordered[i].StripeCreated.Before(ordered[j].StripeCreated)
		}
		return ordered[i].StripeID < ordered[j].StripeID
	})

	seen := make(map[string]bool, len(ordered))
	for _, txn := range ordered {
		if seen[txn.StripeID] {
			return nil, fmt.Errorf("Build: %w: %s", ErrDuplicateTransaction, txn.StripeID)
		}
		seen[txn.StripeID] = true
	}

	led := &Ledger{Opening: opening}
	balance := opening

	led.Lines = append(led.Lines, Line{
		Date:        start,
		Nature:      NatureOpeningBalance,
		Party:       "Brought Forward",
		Balance:     balance,
		Description: fmt.Sprintf("Opening balance for %s", start.Format("January 2006")),
	})

	for _, txn := range ordered {
		switch {
		case txn.Type == TypeCharge && txn.Status == StatusSucceeded:
			balance += txn.Amount
			led.Totals.Charges += txn.Amount
			led.Lines = append(led.Lines, Line{
				Date:        txn.StripeCreated,
				Nature:      NatureGrossPayment,
				Party:       paymentParty(txn),
				Debit:       txn.Amount,
				Balance:     balance,
				Description: txn.Description,
				StripeID:    txn.StripeID,
			})

		case txn.Type == TypeRefund:
			balance -= txn.Amount
			led.Totals.Refunds += txn.Amount
			led.Lines = append(led.Lines, Line{
				Date:        txn.StripeCreated,
				Nature:      NatureRefund,
				Party:       "Stripe",
				Credit:      txn.Amount,
				Balance:     balance,
				Description: txn.Description,
				StripeID:    txn.StripeID,
			})

		case txn.Type == TypePayout:
			balance -= txn.Amount
			led.Totals.Payouts += txn.Amount
			led.Lines = append(led.Lines, Line{
				Date:        txn.StripeCreated,
				Nature:      NaturePayout,
				Party:       "Stripe",
				Credit:      txn.Amount,
				Balance:     balance,
				Description: txn.Description,
				StripeID:    txn.StripeID,
			})

		case txn.Type == TypeAdjustment:
			balance += txn.Amount
			led.Totals.Adjustments += txn.Amount
			line := Line{
				Date:        txn.StripeCreated,
				Nature:      NatureAdjustment,
				Party:       "Stripe",
				Balance:     balance,
				Description: txn.Description,
				StripeID:    txn.StripeID,
			}
			if txn.Amount >= 0 {
				line.Debit = txn.Amount
			} else {
				line.Credit = -txn.Amount
			}
			led.Lines = append(led.Lines, line)

		default:
			// Non-succeeded charges and transfers carry no balance effect.
			if opts.IncludeInformational {
				led.Lines = append(led.Lines, Line{
					Date:        txn.StripeCreated,
					Nature:      NatureInformational,
					Party:       paymentParty(txn),
					Balance:     balance,
					Description: informationalDescription(txn),
					StripeID:    txn.StripeID,
				})
			}
		}

		// The processor reports fees as their own statement entries, so a fee
		// is always a second, distinct line after the primary one. Required
		// for per-line auditability.
		if txn.Fee != 0 {
			balance -= txn.Fee
			led.Totals.Fees += txn.Fee
			led.Lines = append(led.Lines, Line{
				Date:        txn.StripeCreated,
				Nature:      NatureProcessingFee,
				Party:       "Stripe",
				Credit:      txn.Fee,
				Balance:     balance,
				Description: "Stripe processing fee",
				StripeID:    txn.StripeID,
			})
		}
	}

	led.Lines = append(led.Lines, Line{
		Date:        end,
		Nature:      NatureClosingBalance,
		Party:       "Carry Forward",
		Balance:     balance,
		Description: fmt.Sprintf("Closing balance for %s", start.Format("January 2006")),
	})
	led.Closing = balance

	if err := led.checkBalance(); err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	return led, nil
}

// checkBalance verifies the balance identity:
// closing == opening + charges - fees - refunds - payouts + adjustments.
func (l *Ledger) checkBalance() error {
	want := l.Opening + l.Totals.Charges - l.Totals.Fees - l.Totals.Refunds - l.Totals.Payouts + l.Totals.Adjustments
	if l.Closing != want {
		return fmt.Errorf("%w: closing %d, expected %d", ErrLedgerImbalance, l.Closing, want)
	}
	return nil
}

// MonthRange returns the closed statement range [start, end] for a calendar
// month: midnight on the 1st through 23:59:59 on the last day, in UTC.
func MonthRange(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

func paymentParty(txn *Transaction) string {
	if txn.CustomerEmail != "" {
		return txn.CustomerEmail
	}
	return "Unknown"
}

func informationalDescription(txn *Transaction) string {
	if txn.Description != "" {
		return txn.Description
	}
	return fmt.Sprintf("%s (%s)", txn.Type, txn.Status)
}
