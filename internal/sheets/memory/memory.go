// Package memory is a process-local sheets.Mirror used when no spreadsheet
// is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/sheets"
)

var _ sheets.Mirror = (*Mirror)(nil)

// Settlement is one row of the settlements table.
type Settlement struct {
	Month     string
	Settled   bool
	UpdatedAt time.Time
}

type Mirror struct {
	mu          sync.Mutex
	rows        []core.Expense
	settlements map[string]Settlement
	appends     int
}

func New() *Mirror {
	return &Mirror{settlements: map[string]Settlement{}}
}

func (m *Mirror) AppendExpense(_ context.Context, e core.Expense) (string, error) {
	if e.ID == "" {
		return "", fmt.Errorf("append expense: missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(e.ID); i >= 0 {
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	m.rows = append(m.rows, e)
	m.appends++
	return fmt.Sprintf("mem:%d", len(m.rows)), nil
}

func (m *Mirror) DeleteExpenses(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.rows)
	m.rows = slices.DeleteFunc(m.rows, func(e core.Expense) bool {
		return slices.Contains(ids, e.ID)
	})
	return before - len(m.rows), nil
}

func (m *Mirror) UpsertSettlement(_ context.Context, month string, settled bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements[month] = Settlement{Month: month, Settled: settled, UpdatedAt: at}
	return nil
}

// IDs returns the mirrored expense ids in row order.
func (m *Mirror) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.rows))
	for i, e := range m.rows {
		out[i] = e.ID
	}
	return out
}

// Appends counts rows actually written, excluding idempotent repeats.
func (m *Mirror) Appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

func (m *Mirror) Settlement(month string) (Settlement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[month]
	return s, ok
}

func (m *Mirror) indexLocked(id string) int {
	return slices.IndexFunc(m.rows, func(e core.Expense) bool { return e.ID == id })
}
