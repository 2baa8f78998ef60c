package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger operation counts, latencies and pool balances.
type LedgerMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	entries  *prometheus.CounterVec
	pool     *prometheus.GaugeVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cashbox",
		Name:      "operation_duration_seconds",
		Help:      "Duration of ledger operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashbox",
		Name:      "operation_success_total",
		Help:      "Successful ledger operations.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashbox",
		Name:      "operation_failure_total",
		Help:      "Failed ledger operations by error code.",
	}, []string{"operation", "code"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashbox",
		Name:      "entries_written_total",
		Help:      "Ledger entries written by entry type.",
	}, []string{"type"})
	pool := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cashbox",
		Name:      "pool_balance",
		Help:      "Last observed pool balance per currency.",
	}, []string{"account", "currency"})
	reg.MustRegister(duration, success, failure, entries, pool)
	return &LedgerMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		entries:  entries,
		pool:     pool,
	}
}

// Observe records the outcome of one operation. code labels failures.
func (m *LedgerMetrics) Observe(op string, took time.Duration, code string, err error) {
	if m == nil || m.duration == nil {
		return
	}
	op = normalizeLabel(op)
	m.duration.WithLabelValues(op).Observe(took.Seconds())
	if err != nil {
		if code == "" {
			code = "internal"
		}
		m.failure.WithLabelValues(op, code).Inc()
		return
	}
	m.success.WithLabelValues(op).Inc()
}

// AddEntries counts written entries of the given type.
func (m *LedgerMetrics) AddEntries(entryType string, n int) {
	if m == nil || m.entries == nil || n <= 0 {
		return
	}
	m.entries.WithLabelValues(normalizeLabel(entryType)).Add(float64(n))
}

// SetPool records a pool's balance for one currency.
func (m *LedgerMetrics) SetPool(account, currency string, value float64) {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.WithLabelValues(normalizeLabel(account), normalizeLabel(currency)).Set(value)
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
