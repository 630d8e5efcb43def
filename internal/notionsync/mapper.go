package notionsync

import (
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	bq "github.com/dvloznov/stripe-reconciler/internal/bigquery"
)

// StatementKey builds the stable title used to identify a statement page in
// Notion: "<account_id> <year>-<month>".
func StatementKey(accountID string, year, month int64) string {
	return fmt.Sprintf("%s %04d-%02d", accountID, year, month)
}

// AccountToNotionProperties converts a BigQuery AccountRow to Notion properties
// for the Accounts database.
func AccountToNotionProperties(acc *bq.AccountRow) notionapi.Properties {
	props := notionapi.Properties{
		"Account ID": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: acc.AccountID,
					},
				},
			},
		},
	}

	// Account Name
	if acc.Name != "" {
		props["Account Name"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: acc.Name,
					},
				},
			},
		}
	}

	// Is Active
	if acc.IsActive.Valid {
		props["Is Active"] = notionapi.CheckboxProperty{
			Checkbox: acc.IsActive.Bool,
		}
	} else {
		// Default to true if not specified
		props["Is Active"] = notionapi.CheckboxProperty{
			Checkbox: true,
		}
	}

	// Manager Email
	if acc.ManagerEmail.Valid && acc.ManagerEmail.StringVal != "" {
		props["Manager Email"] = notionapi.EmailProperty{
			Email: acc.ManagerEmail.StringVal,
		}
	}

	return props
}

// StatementToNotionProperties converts a BigQuery StatementRow to Notion
// properties for the Statements database. Balances are stored as INT64 minor
// units in BigQuery; the division to major units happens only here, at the
// presentation edge.
func StatementToNotionProperties(st *bq.StatementRow) notionapi.Properties {
	props := notionapi.Properties{
		"Statement": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: StatementKey(st.AccountID, st.Year, st.Month),
					},
				},
			},
		},
		"Account": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: st.AccountID,
					},
				},
			},
		},
		"Year": notionapi.NumberProperty{
			Number: float64(st.Year),
		},
		"Month": notionapi.NumberProperty{
			Number: float64(st.Month),
		},
		"Opening Balance": notionapi.NumberProperty{
			Number: float64(st.OpeningBalance) / 100,
		},
		"Closing Balance": notionapi.NumberProperty{
			Number: float64(st.ClosingBalance) / 100,
		},
		"Total Charges": notionapi.NumberProperty{
			Number: float64(st.TotalCharges) / 100,
		},
		"Total Refunds": notionapi.NumberProperty{
			Number: float64(st.TotalRefunds) / 100,
		},
		"Total Fees": notionapi.NumberProperty{
			Number: float64(st.TotalFees) / 100,
		},
		"Total Payouts": notionapi.NumberProperty{
			Number: float64(st.TotalPayouts) / 100,
		},
	}

	// Period Start
	props["Period Start"] = notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: func() *notionapi.Date {
				d := notionapi.Date(time.Date(
					st.PeriodStart.Year,
					time.Month(st.PeriodStart.Month),
					st.PeriodStart.Day,
					0, 0, 0, 0, time.UTC,
				))
				return &d
			}(),
		},
	}

	// Period End
	props["Period End"] = notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: func() *notionapi.Date {
				d := notionapi.Date(time.Date(
					st.PeriodEnd.Year,
					time.Month(st.PeriodEnd.Month),
					st.PeriodEnd.Day,
					0, 0, 0, 0, time.UTC,
				))
				return &d
			}(),
		},
	}

	// Reconciled
	if st.IsReconciled.Valid {
		props["Reconciled"] = notionapi.CheckboxProperty{
			Checkbox: st.IsReconciled.Bool,
		}
	} else {
		props["Reconciled"] = notionapi.CheckboxProperty{
			Checkbox: false,
		}
	}

	// Reconciled By
	if st.ReconciledBy.Valid && st.ReconciledBy.StringVal != "" {
		props["Reconciled By"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: st.ReconciledBy.StringVal,
					},
				},
			},
		}
	}

	// Reconciled At
	if st.ReconciledAt.Valid {
		props["Reconciled At"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: (*notionapi.Date)(&st.ReconciledAt.Timestamp),
			},
		}
	}

	// Notes
	if st.Notes.Valid && st.Notes.StringVal != "" {
		props["Notes"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: st.Notes.StringVal,
					},
				},
			},
		}
	}

	return props
}
