package sheets

import (
	"context"
	"time"

	"kakeibo/internal/core"
)

// Mirror keeps a spreadsheet copy of the ledger. Every operation is
// idempotent so the event handler and the reconciler may both apply it.
type Mirror interface {
	// AppendExpense adds e unless a row with its id already exists.
	AppendExpense(ctx context.Context, e core.Expense) (rowRef string, err error)
	// DeleteExpenses removes the rows of ids and reports how many were found.
	DeleteExpenses(ctx context.Context, ids []string) (removed int, err error)
	// UpsertSettlement writes the flag for month (YYYY-MM).
	UpsertSettlement(ctx context.Context, month string, settled bool, at time.Time) error
}
