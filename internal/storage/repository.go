// Package storage is the SQLite implementation of the expense record store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"kakeibo/internal/core"
	"kakeibo/internal/store"
)

var (
	_ store.Repository  = (*SQLiteRepository)(nil)
	_ store.SyncTracker = (*SQLiteRepository)(nil)
)

const expenseColumns = `id, payer, date, item, amount, ratio, major_category, sub_category, purpose, created_at`

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite repository ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e              core.Expense
		date, amount   string
		purpose        string
		createdAtNanos int64
	)
	if err := row.Scan(&e.ID, &e.Payer, &date, &e.Item, &amount, &e.Ratio,
		&e.MajorCategory, &e.SubCategory, &purpose, &createdAtNanos); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: %w", e.ID, err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s amount %q: %w", e.ID, amount, err)
	}
	e.Date = d
	e.Amount = amt
	e.Purpose = core.Purpose(purpose)
	e.CreatedAt = time.Unix(0, createdAtNanos).UTC()
	return e, nil
}

func (r *SQLiteRepository) queryExpenses(ctx context.Context, query string, args ...any) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// ListExpenses returns every expense, most recent date first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	expenses, err := r.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY date DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// CreateExpense assigns a UUID and creation time and inserts the record.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	e.ID = uuid.NewString()
	e.CreatedAt = r.now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Payer, e.Date.String(), e.Item, e.Amount.String(), e.Ratio,
		e.MajorCategory, e.SubCategory, string(e.Purpose), e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"date", e.Date.String(),
		"payer", e.Payer,
		"amount", e.Amount.String())
	return e, nil
}

// DeleteExpenses removes every id in one transaction; any unknown id rolls
// the whole batch back.
func (r *SQLiteRepository) DeleteExpenses(ctx context.Context, ids []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]struct{}, len(ids))
	var missing []string
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		res, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete expense %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete expense %s: %w", id, err)
		}
		if n == 0 {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("expenses %s: %w", strings.Join(missing, ","), store.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	slog.InfoContext(ctx, "Expenses deleted from SQLite", "count", len(seen))
	return nil
}

func (r *SQLiteRepository) ListSettlements(ctx context.Context) (core.SettlementStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT month, settled FROM settlements`)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	status := core.SettlementStatus{}
	for rows.Next() {
		var (
			month   string
			settled bool
		)
		if err := rows.Scan(&month, &settled); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		status[month] = settled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return status, nil
}

// UpsertSettlement writes the flag for month; the last write wins.
func (r *SQLiteRepository) UpsertSettlement(ctx context.Context, month string, settled bool) error {
	if _, err := core.ParseMonthKey(month); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlements (month, settled, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(month) DO UPDATE SET settled = excluded.settled, updated_at = excluded.updated_at`,
		month, settled, r.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert settlement: %w", err)
	}
	slog.InfoContext(ctx, "Settlement status saved", "month", month, "settled", settled)
	return nil
}

// PendingSync returns up to limit expenses not yet mirrored, oldest first.
// A limit of zero or less returns all of them.
func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int) ([]core.Expense, error) {
	if limit <= 0 {
		limit = -1
	}
	expenses, err := r.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE synced_at IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync expenses: %w", err)
	}
	return expenses, nil
}

// MarkSynced stamps ids as mirrored. Unknown ids are ignored since they may
// have been deleted meanwhile.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, r.now().UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET synced_at = ? WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("mark expenses synced: %w", err)
	}
	return nil
}
