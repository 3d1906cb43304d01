package services

import (
	"context"
	"errors"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	"kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/store"
)

// Publisher delivers change events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt *amqp.ChangeEvent) error
}

// LedgerService validates user actions, writes them to the store and
// announces them on the change feed.
type LedgerService struct {
	store     store.Writer
	publisher Publisher
	parties   core.Parties
	taxonomy  *core.Taxonomy
	metrics   *metrics.Recorder
	logger    *log.Logger
}

// NewLedgerService builds the service. A nil writer puts it in degraded
// mode; a nil publisher disables change events.
func NewLedgerService(w store.Writer, pub Publisher, parties core.Parties, tax *core.Taxonomy, rec *metrics.Recorder, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentLedger)
	}
	if tax == nil {
		tax = core.DefaultTaxonomy()
	}
	return &LedgerService{
		store:     w,
		publisher: pub,
		parties:   parties,
		taxonomy:  tax,
		metrics:   rec,
		logger:    logger,
	}
}

// Degraded reports whether the store is unavailable.
func (s *LedgerService) Degraded() bool {
	return s.store == nil
}

func (s *LedgerService) Parties() core.Parties { return s.parties }

func (s *LedgerService) Taxonomy() *core.Taxonomy { return s.taxonomy }

// CreateExpense validates in, snapshots the purpose and stores the expense.
func (s *LedgerService) CreateExpense(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	if s.Degraded() {
		return core.Expense{}, store.ErrUnavailable
	}

	e, err := core.NewExpense(in, s.parties, s.taxonomy)
	if err != nil {
		s.recordValidation(err)
		return core.Expense{}, err
	}

	created, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		s.metrics.StoreWriteFailed(log.OpCreate)
		s.logger.ErrorContext(ctx, "Failed to store expense",
			log.FieldOperation, log.OpCreate,
			log.FieldError, err)
		return core.Expense{}, err
	}
	s.metrics.ExpenseCreated()

	s.logger.InfoContext(ctx, "Expense created",
		log.FieldExpenseID, created.ID,
		log.FieldPayer, created.Payer,
		log.FieldAmount, created.Amount.String(),
		log.FieldMonth, created.Date.MonthKey())

	s.publish(ctx, amqp.NewExpenseCreated(created.ID))
	return created, nil
}

// DeleteExpenses removes all ids or none and returns how many distinct
// expenses were removed.
func (s *LedgerService) DeleteExpenses(ctx context.Context, ids []string) (int, error) {
	if s.Degraded() {
		return 0, store.ErrUnavailable
	}
	if len(ids) == 0 {
		return 0, &core.ValidationError{Field: "ids", Reason: "no expenses selected"}
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return 0, &core.ValidationError{Field: "ids", Reason: "empty id"}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	if err := s.store.DeleteExpenses(ctx, unique); err != nil {
		s.metrics.StoreWriteFailed(log.OpDelete)
		s.logger.ErrorContext(ctx, "Failed to delete expenses",
			log.FieldOperation, log.OpDelete,
			log.FieldCount, len(unique),
			log.FieldError, err)
		return 0, err
	}
	s.metrics.ExpensesDeleted(len(unique))

	s.logger.InfoContext(ctx, "Expenses deleted", log.FieldCount, len(unique))
	s.publish(ctx, amqp.NewExpensesDeleted(unique))
	return len(unique), nil
}

// MarkSettled flags month (YYYY-MM) as settled. Repeating it is harmless.
func (s *LedgerService) MarkSettled(ctx context.Context, month string) error {
	if s.Degraded() {
		return store.ErrUnavailable
	}
	key, err := core.ParseMonthKey(month)
	if err != nil {
		s.recordValidation(err)
		return err
	}

	if err := s.store.MarkSettled(ctx, key); err != nil {
		s.metrics.StoreWriteFailed(log.OpSettle)
		s.logger.ErrorContext(ctx, "Failed to mark month settled",
			log.FieldOperation, log.OpSettle,
			log.FieldMonth, key,
			log.FieldError, err)
		return err
	}
	s.metrics.MonthSettled()

	s.logger.InfoContext(ctx, "Month marked settled", log.FieldMonth, key)
	s.publish(ctx, amqp.NewMonthSettled(key))
	return nil
}

// publish is best effort: the store write already succeeded.
func (s *LedgerService) publish(ctx context.Context, evt *amqp.ChangeEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "Change feed not configured, skipping event", log.FieldEventType, evt.Type)
		return
	}
	err := s.publisher.Publish(ctx, evt)
	s.metrics.ChangeEvent(string(evt.Type), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish change event",
			log.FieldEventType, evt.Type,
			log.FieldError, err)
	}
}

func (s *LedgerService) recordValidation(err error) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		s.metrics.ValidationFailed(ve.Field)
		return
	}
	s.metrics.ValidationFailed("unknown")
}

// Describe renders err for API clients without leaking internals.
func Describe(err error) string {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, store.ErrUnavailable):
		return "expense store is unavailable"
	case errors.Is(err, store.ErrNotFound):
		return "one or more expenses no longer exist"
	case errors.Is(err, store.ErrWrite):
		return "the store rejected the change"
	}
	return "internal error"
}
