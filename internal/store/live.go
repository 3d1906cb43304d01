package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/core"
	"kakeibo/internal/log"
)

// Live keeps the latest expense and settlement snapshots of a Repository and
// streams them to subscribers. Every successful write refreshes the
// affected snapshot.
type Live struct {
	repo        Repository
	expenses    Feed[[]core.Expense]
	settlements Feed[core.SettlementStatus]
	logger      *log.Logger
}

var (
	_ Subscriber = (*Live)(nil)
	_ Writer     = (*Live)(nil)
)

// NewLive loads the initial snapshots. A load failure is returned so the
// caller can run degraded.
func NewLive(ctx context.Context, repo Repository, logger *log.Logger) (*Live, error) {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentStore)
	}
	l := &Live{repo: repo, logger: logger}
	if err := l.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load initial snapshot: %w", err)
	}
	return l, nil
}

// Refresh reloads both snapshots concurrently and publishes them.
func (l *Live) Refresh(ctx context.Context) error {
	var (
		expenses []core.Expense
		status   core.SettlementStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = l.repo.ListExpenses(gctx)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		status, err = l.repo.ListSettlements(gctx)
		if err != nil {
			return fmt.Errorf("list settlements: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	l.expenses.Publish(expenses)
	l.settlements.Publish(status)
	return nil
}

func (l *Live) SubscribeExpenses(fn func([]core.Expense)) *Subscription {
	return l.expenses.Subscribe(fn)
}

func (l *Live) SubscribeSettlements(fn func(core.SettlementStatus)) *Subscription {
	return l.settlements.Subscribe(fn)
}

// CreateExpense stores e and publishes the new expense snapshot.
func (l *Live) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	created, err := l.repo.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, NewWriteError("create expense", err)
	}
	l.refreshExpenses(ctx)
	return created, nil
}

// DeleteExpenses removes ids atomically and publishes the new expense snapshot.
func (l *Live) DeleteExpenses(ctx context.Context, ids []string) error {
	if err := l.repo.DeleteExpenses(ctx, ids); err != nil {
		return NewWriteError("delete expenses", err)
	}
	l.refreshExpenses(ctx)
	return nil
}

// MarkSettled upserts {settled: true} for month. There is no way to unset it.
func (l *Live) MarkSettled(ctx context.Context, month string) error {
	if err := l.repo.UpsertSettlement(ctx, month, true); err != nil {
		return NewWriteError("upsert settlement", err)
	}
	status, err := l.repo.ListSettlements(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "Settlement refresh failed after write", log.FieldMonth, month, log.FieldError, err)
		return nil
	}
	l.settlements.Publish(status)
	return nil
}

// Close releases the underlying repository.
func (l *Live) Close() error {
	return l.repo.Close()
}

// The write already succeeded; a failed reload only delays the snapshot.
func (l *Live) refreshExpenses(ctx context.Context) {
	expenses, err := l.repo.ListExpenses(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "Expense refresh failed after write", log.FieldError, err)
		return
	}
	l.expenses.Publish(expenses)
}
