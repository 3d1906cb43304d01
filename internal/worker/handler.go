// Package worker mirrors ledger changes into the spreadsheet, driven by
// change events and a periodic reconciliation pass.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	"kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/sheets"
	"kakeibo/internal/store"
)

// Source is the read side of the store the worker mirrors from.
type Source interface {
	GetExpense(ctx context.Context, id string) (core.Expense, error)
	ListSettlements(ctx context.Context) (core.SettlementStatus, error)
	store.SyncTracker
}

// Handler applies change events to the mirror. Returning an error asks the
// consumer to requeue the event.
type Handler struct {
	source  Source
	mirror  sheets.Mirror
	metrics *metrics.Recorder
	logger  *log.Logger
}

func NewHandler(source Source, mirror sheets.Mirror, rec *metrics.Recorder, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentWorker)
	}
	return &Handler{source: source, mirror: mirror, metrics: rec, logger: logger}
}

// Handle matches the amqp consumer callback signature.
func (h *Handler) Handle(ctx context.Context, evt *amqp.ChangeEvent) error {
	h.logger.InfoContext(ctx, "Processing change event",
		log.FieldEventType, evt.Type,
		log.FieldCount, len(evt.IDs),
		log.FieldMonth, evt.Month)

	var err error
	switch evt.Type {
	case amqp.EventExpenseCreated:
		err = h.mirrorCreated(ctx, evt.IDs)
	case amqp.EventExpensesDeleted:
		err = h.mirrorDeleted(ctx, evt.IDs)
	case amqp.EventMonthSettled:
		err = h.mirrorSettled(ctx, evt.Month, evt.Timestamp)
	default:
		return fmt.Errorf("%w: unknown type %q", amqp.ErrInvalidEvent, evt.Type)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to mirror change event",
			log.FieldEventType, evt.Type,
			log.FieldError, err)
	}
	return err
}

func (h *Handler) mirrorCreated(ctx context.Context, ids []string) error {
	var synced []string
	for _, id := range ids {
		e, err := h.source.GetExpense(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted before the event was consumed.
			h.logger.WarnContext(ctx, "Expense gone before mirroring", log.FieldExpenseID, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("get expense %s: %w", id, err)
		}
		ref, err := h.mirror.AppendExpense(ctx, e)
		h.metrics.MirrorOperation(opAppend, err)
		if err != nil {
			return fmt.Errorf("append expense %s: %w", id, err)
		}
		h.logger.InfoContext(ctx, "Mirrored expense", log.FieldExpenseID, id, "sheets_ref", ref)
		synced = append(synced, id)
	}
	if err := h.source.MarkSynced(ctx, synced); err != nil {
		// The row exists; the reconciler's repeat append is a no-op.
		h.logger.WarnContext(ctx, "Failed to mark expenses synced", log.FieldError, err)
	}
	return nil
}

func (h *Handler) mirrorDeleted(ctx context.Context, ids []string) error {
	removed, err := h.mirror.DeleteExpenses(ctx, ids)
	h.metrics.MirrorOperation(opDelete, err)
	if err != nil {
		return fmt.Errorf("delete expenses: %w", err)
	}
	if removed < len(ids) {
		h.logger.WarnContext(ctx, "Some expenses were not in the mirror",
			log.FieldCount, len(ids),
			"removed", removed)
	}
	return nil
}

// mirrorSettled copies the flag currently in the store, so a stale event
// cannot overwrite a newer value.
func (h *Handler) mirrorSettled(ctx context.Context, month string, at time.Time) error {
	status, err := h.source.ListSettlements(ctx)
	if err != nil {
		return fmt.Errorf("list settlements: %w", err)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err = h.mirror.UpsertSettlement(ctx, month, status[month], at)
	h.metrics.MirrorOperation(opSettle, err)
	if err != nil {
		return fmt.Errorf("upsert settlement %s: %w", month, err)
	}
	return nil
}

const (
	opAppend = "append"
	opDelete = "delete"
	opSettle = "settle"
)
