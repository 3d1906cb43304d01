package services

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kakeibo/internal/core"
	"kakeibo/internal/log"
	"kakeibo/internal/store"
)

type (
	// Breakdown is one grouping of the period's expenses.
	Breakdown struct {
		Key    core.GroupKey `json:"key"`
		Slices []core.Slice  `json:"slices"`
	}

	// Inquiry is the settlement and category summary of a period.
	Inquiry struct {
		Period     core.Period     `json:"period"`
		Count      int             `json:"count"`
		Total      decimal.Decimal `json:"total"`
		Settlement core.Settlement `json:"settlement"`
		Message    string          `json:"message"`
		Breakdowns []Breakdown     `json:"breakdowns"`
	}

	// History lists a period's expenses next to the months still awaiting settlement.
	History struct {
		Period          core.Period     `json:"period"`
		Expenses        []core.Expense  `json:"expenses"`
		Total           decimal.Decimal `json:"total"`
		UnsettledMonths []string        `json:"unsettledMonths"`
		Years           []int           `json:"years"`
	}
)

// LedgerView holds the latest store snapshots for the lifetime between
// Open and Close and answers read queries from them.
type LedgerView struct {
	source  store.Subscriber
	parties core.Parties
	now     func() time.Time
	logger  *log.Logger

	lifecycle sync.Mutex // serializes Open and Close; held while subscribing

	mu             sync.RWMutex
	expenses       []core.Expense
	status         core.SettlementStatus
	expensesLoaded bool
	statusLoaded   bool
	subs           []*store.Subscription
}

// NewLedgerView builds a view over source. A nil source means degraded.
func NewLedgerView(source store.Subscriber, parties core.Parties, logger *log.Logger) *LedgerView {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentView)
	}
	return &LedgerView{
		source:  source,
		parties: parties,
		now:     time.Now,
		logger:  logger,
		status:  core.SettlementStatus{},
	}
}

// Open subscribes to both snapshot streams. It is a no-op when already open.
func (v *LedgerView) Open() error {
	if v.source == nil {
		return store.ErrUnavailable
	}
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.mu.RLock()
	open := len(v.subs) > 0
	v.mu.RUnlock()
	if open {
		return nil
	}

	expSub := v.source.SubscribeExpenses(func(es []core.Expense) {
		v.mu.Lock()
		v.expenses = es
		v.expensesLoaded = true
		v.mu.Unlock()
		v.logger.Debug("Expense snapshot received", log.FieldCount, len(es))
	})
	stSub := v.source.SubscribeSettlements(func(s core.SettlementStatus) {
		v.mu.Lock()
		v.status = s
		v.statusLoaded = true
		v.mu.Unlock()
	})

	v.mu.Lock()
	v.subs = []*store.Subscription{expSub, stSub}
	v.mu.Unlock()
	return nil
}

// Close cancels both subscriptions. Safe to call repeatedly.
func (v *LedgerView) Close() {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.mu.Lock()
	subs := v.subs
	v.subs = nil
	v.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (v *LedgerView) Degraded() bool { return v.source == nil }

// Loaded reports whether both snapshots have arrived.
func (v *LedgerView) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.expensesLoaded && v.statusLoaded
}

func (v *LedgerView) Parties() core.Parties { return v.parties }

// Expenses returns a copy of the latest expense snapshot.
func (v *LedgerView) Expenses() []core.Expense {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.expenses)
}

// Status returns a copy of the latest settlement snapshot.
func (v *LedgerView) Status() core.SettlementStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.status)
}

func (v *LedgerView) snapshot() ([]core.Expense, core.SettlementStatus) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.expenses, v.status
}

// DefaultInquiryPeriod is the current month.
func (v *LedgerView) DefaultInquiryPeriod() core.Period { return core.CurrentMonth(v.now()) }

// DefaultHistoryPeriod is January to December of the current year.
func (v *LedgerView) DefaultHistoryPeriod() core.Period { return core.CalendarYear(v.now()) }

// Inquiry settles and breaks down the expenses of p.
func (v *LedgerView) Inquiry(p core.Period) (Inquiry, error) {
	if v.Degraded() {
		return Inquiry{}, store.ErrUnavailable
	}
	if err := p.Validate(); err != nil {
		return Inquiry{}, err
	}
	all, _ := v.snapshot()
	filtered := core.FilterByPeriod(all, p)

	settlement := core.Settle(filtered, v.parties)
	out := Inquiry{
		Period:     p,
		Count:      len(filtered),
		Total:      core.Total(filtered),
		Settlement: settlement,
		Message:    settlement.Message(),
		Breakdowns: make([]Breakdown, 0, len(core.GroupKeys)),
	}
	for _, key := range core.GroupKeys {
		out.Breakdowns = append(out.Breakdowns, Breakdown{Key: key, Slices: core.AggregateBy(filtered, key)})
	}
	return out, nil
}

// History lists the expenses of p. Unsettled months are derived from the
// full expense list, not the filtered one.
func (v *LedgerView) History(p core.Period) (History, error) {
	if v.Degraded() {
		return History{}, store.ErrUnavailable
	}
	if err := p.Validate(); err != nil {
		return History{}, err
	}
	all, status := v.snapshot()
	filtered := core.FilterByPeriod(all, p)
	return History{
		Period:          p,
		Expenses:        filtered,
		Total:           core.Total(filtered),
		UnsettledMonths: core.UnsettledMonths(all, status),
		Years:           core.AvailableYears(all, v.now()),
	}, nil
}
