package worker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/sheets"
	"kakeibo/internal/store"
)

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	// Interval is how often to look for unmirrored expenses (default: 30s)
	Interval time.Duration

	// BatchSize is the max number of expenses mirrored per pass (default: 10)
	BatchSize int
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:  30 * time.Second,
		BatchSize: 10,
	}
}

// Reconciler mirrors expenses whose change event was lost, for example
// while the broker was down.
type Reconciler struct {
	tracker store.SyncTracker
	mirror  sheets.Mirror
	config  ReconcilerConfig
	metrics *metrics.Recorder
	logger  *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// passMu serializes passes; failures counts failed appends per pending id.
	passMu   sync.Mutex
	failures map[string]int
}

func NewReconciler(tracker store.SyncTracker, mirror sheets.Mirror, cfg ReconcilerConfig, rec *metrics.Recorder, logger *log.Logger) *Reconciler {
	def := DefaultReconcilerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentWorker)
	}
	return &Reconciler{
		tracker:  tracker,
		mirror:   mirror,
		config:   cfg,
		metrics:  rec,
		logger:   logger,
		failures: map[string]int{},
	}
}

// Start begins the loop. Returns an error if already running.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	r.logger.InfoContext(ctx, "Reconciler started",
		"interval", r.config.Interval,
		"batch_size", r.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.running = false
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		r.logger.InfoContext(ctx, "Reconciler stopped gracefully")
		return nil
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Reconciler stop timed out")
		return ctx.Err()
	}
}

func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run blocks until ctx is cancelled. It fits an errgroup.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return r.Stop(stopCtx)
}

func (r *Reconciler) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Catch up immediately on startup
	r.SyncOnce(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SyncOnce(ctx)
		}
	}
}

// SyncOnce mirrors one batch of pending expenses and reports how many
// were marked synced. Expenses that failed before go after fresh ones, fewest
// failures first, so a few broken rows cannot hold the head of the queue.
func (r *Reconciler) SyncOnce(ctx context.Context) int {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	limit := r.config.BatchSize + len(r.failures)
	pending, err := r.tracker.PendingSync(ctx, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to list pending expenses", log.FieldError, err)
		return 0
	}
	if len(pending) < limit {
		r.forgetResolved(pending)
	}
	if len(pending) == 0 {
		return 0
	}
	slices.SortStableFunc(pending, func(a, b core.Expense) int {
		return cmp.Compare(r.failures[a.ID], r.failures[b.ID])
	})
	if len(pending) > r.config.BatchSize {
		pending = pending[:r.config.BatchSize]
	}
	r.logger.DebugContext(ctx, "Reconciling expenses", log.FieldCount, len(pending))

	synced := make([]string, 0, len(pending))
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		_, err := r.mirror.AppendExpense(ctx, e)
		r.metrics.MirrorOperation(opAppend, err)
		if err != nil {
			r.failures[e.ID]++
			r.logger.WarnContext(ctx, "Failed to mirror expense",
				log.FieldExpenseID, e.ID,
				"attempts", r.failures[e.ID],
				log.FieldError, err)
			continue
		}
		synced = append(synced, e.ID)
	}

	if err := r.tracker.MarkSynced(ctx, synced); err != nil {
		r.logger.ErrorContext(ctx, "Failed to mark expenses synced", log.FieldError, err)
		return 0
	}
	for _, id := range synced {
		delete(r.failures, id)
	}
	if len(synced) > 0 {
		r.logger.InfoContext(ctx, "Reconciled expenses", log.FieldCount, len(synced))
	}
	return len(synced)
}

// forgetResolved drops failure counts for ids no longer pending. pending must
// be the complete pending list.
func (r *Reconciler) forgetResolved(pending []core.Expense) {
	still := make(map[string]struct{}, len(pending))
	for _, e := range pending {
		still[e.ID] = struct{}{}
	}
	for id := range r.failures {
		if _, ok := still[id]; !ok {
			delete(r.failures, id)
		}
	}
}
