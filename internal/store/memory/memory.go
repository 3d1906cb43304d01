// Package memory is an in-process Repository, used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/core"
	"kakeibo/internal/store"
)

var (
	_ store.Repository  = (*Store)(nil)
	_ store.SyncTracker = (*Store)(nil)
)

type Store struct {
	mu          sync.Mutex
	items       []core.Expense
	settlements core.SettlementStatus
	synced      map[string]struct{}
	now         func() time.Time
}

func New() *Store {
	return &Store{settlements: core.SettlementStatus{}, synced: map[string]struct{}{}, now: time.Now}
}

// NewWithExpenses seeds a store, keeping ids that are already set.
func NewWithExpenses(expenses []core.Expense) *Store {
	s := New()
	for _, e := range expenses {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.items = append(s.items, e)
	}
	return s
}

func (s *Store) ListExpenses(_ context.Context) ([]core.Expense, error) {
	s.mu.Lock()
	out := slices.Clone(s.items)
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b core.Expense) int {
		if c := b.Date.Compare(a.Date.Time); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if out == nil {
		out = []core.Expense{}
	}
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.ID == id {
			return e, nil
		}
	}
	return core.Expense{}, fmt.Errorf("expense %s: %w", id, store.ErrNotFound)
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	e.ID = uuid.NewString()
	e.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, e)
	return e, nil
}

func (s *Store) DeleteExpenses(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]core.Expense, 0, len(s.items))
	for _, e := range s.items {
		if _, ok := drop[e.ID]; ok {
			delete(drop, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	if len(drop) > 0 {
		missing := slices.Sorted(maps.Keys(drop))
		return fmt.Errorf("expenses %v: %w", missing, store.ErrNotFound)
	}
	s.items = kept
	for _, id := range ids {
		delete(s.synced, id)
	}
	return nil
}

func (s *Store) ListSettlements(_ context.Context) (core.SettlementStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.settlements), nil
}

func (s *Store) UpsertSettlement(_ context.Context, month string, settled bool) error {
	if _, err := core.ParseMonthKey(month); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements[month] = settled
	return nil
}

// PendingSync returns up to limit expenses not yet mirrored, oldest first.
func (s *Store) PendingSync(_ context.Context, limit int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.items {
		if _, ok := s.synced[e.ID]; !ok {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b core.Expense) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSynced ignores unknown ids.
func (s *Store) MarkSynced(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if slices.ContainsFunc(s.items, func(e core.Expense) bool { return e.ID == id }) {
			s.synced[id] = struct{}{}
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }
