// Package store defines the expense record store and the live snapshot
// feeds built on top of it.
package store

import (
	"context"

	"kakeibo/internal/core"
)

type (
	// Repository persists expenses and monthly settlement flags.
	Repository interface {
		// ListExpenses returns every expense, most recent date first.
		ListExpenses(ctx context.Context) ([]core.Expense, error)
		// GetExpense returns ErrNotFound for an unknown id.
		GetExpense(ctx context.Context, id string) (core.Expense, error)
		// CreateExpense assigns ID and CreatedAt and returns the stored record.
		CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		// DeleteExpenses removes all ids or none. An unknown id fails the batch.
		DeleteExpenses(ctx context.Context, ids []string) error

		ListSettlements(ctx context.Context) (core.SettlementStatus, error)
		// UpsertSettlement sets the flag for a YYYY-MM key, last write wins.
		UpsertSettlement(ctx context.Context, month string, settled bool) error

		Close() error
	}

	// SyncTracker is implemented by repositories that remember which
	// expenses have been mirrored downstream.
	SyncTracker interface {
		PendingSync(ctx context.Context, limit int) ([]core.Expense, error)
		MarkSynced(ctx context.Context, ids []string) error
	}

	// Subscriber streams full snapshots. Callbacks receive shared, read-only data.
	Subscriber interface {
		SubscribeExpenses(fn func([]core.Expense)) *Subscription
		SubscribeSettlements(fn func(core.SettlementStatus)) *Subscription
	}

	// Writer is the mutating half used by the ledger service.
	Writer interface {
		CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		DeleteExpenses(ctx context.Context, ids []string) error
		MarkSettled(ctx context.Context, month string) error
	}
)
