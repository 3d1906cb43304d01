// Package metrics exposes Prometheus counters for ledger activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	registry prometheus.Gatherer

	expensesCreated prometheus.Counter
	expensesDeleted prometheus.Counter
	monthsSettled   prometheus.Counter
	storeFailures   *prometheus.CounterVec
	validationFails *prometheus.CounterVec
	changeEvents    *prometheus.CounterVec
	mirrorOps       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpRejected    *prometheus.CounterVec
	degraded        prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves from gatherer.
func NewWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		registry: gatherer,
		expensesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "kakeibo_expenses_created_total",
			Help: "Total number of expenses created",
		}),
		expensesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "kakeibo_expenses_deleted_total",
			Help: "Total number of expenses deleted",
		}),
		monthsSettled: f.NewCounter(prometheus.CounterOpts{
			Name: "kakeibo_months_settled_total",
			Help: "Total number of mark-settled operations",
		}),
		storeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_store_write_failures_total",
			Help: "Store writes rejected, by operation",
		}, []string{"operation"}),
		validationFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_validation_failures_total",
			Help: "Submissions rejected by validation, by field",
		}, []string{"field"}),
		changeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_change_events_total",
			Help: "Change events published, by type and status",
		}, []string{"type", "status"}),
		mirrorOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_sheets_mirror_operations_total",
			Help: "Spreadsheet mirror operations, by operation and status",
		}, []string{"operation", "status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_http_requests_total",
			Help: "HTTP requests, by method, route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kakeibo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_http_rejected_total",
			Help: "HTTP requests rejected or flagged by the security middleware, by reason",
		}, []string{"reason"}),
		degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "kakeibo_store_degraded",
			Help: "1 while the expense store is unavailable",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ExpenseCreated() {
	if r == nil {
		return
	}
	r.expensesCreated.Inc()
}

func (r *Recorder) ExpensesDeleted(n int) {
	if r == nil {
		return
	}
	r.expensesDeleted.Add(float64(n))
}

func (r *Recorder) MonthSettled() {
	if r == nil {
		return
	}
	r.monthsSettled.Inc()
}

func (r *Recorder) StoreWriteFailed(op string) {
	if r == nil {
		return
	}
	r.storeFailures.WithLabelValues(op).Inc()
}

func (r *Recorder) ValidationFailed(field string) {
	if r == nil {
		return
	}
	r.validationFails.WithLabelValues(field).Inc()
}

func (r *Recorder) ChangeEvent(eventType string, err error) {
	if r == nil {
		return
	}
	r.changeEvents.WithLabelValues(eventType, status(err)).Inc()
}

func (r *Recorder) MirrorOperation(op string, err error) {
	if r == nil {
		return
	}
	r.mirrorOps.WithLabelValues(op, status(err)).Inc()
}

func (r *Recorder) ObserveRequest(method, route string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RequestRejected counts a request refused (rate limit) or flagged (suspicious).
func (r *Recorder) RequestRejected(reason string) {
	if r == nil {
		return
	}
	r.httpRejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetDegraded(degraded bool) {
	if r == nil {
		return
	}
	if degraded {
		r.degraded.Set(1)
		return
	}
	r.degraded.Set(0)
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
