// Package metrics exposes the Prometheus instruments of the ledger.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paywall"

type Metrics struct {
	purchasesTotal  *prometheus.CounterVec
	purchasedAmount prometheus.Counter
	depositsTotal   *prometheus.CounterVec
	creditedAmount  prometheus.Counter
	conflictRetries prometheus.Counter
	invalidTokens   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	notifyFailures  *prometheus.CounterVec
	auditFailures   prometheus.Counter
	staleDeposits   prometheus.Gauge
	reconcileDrift  prometheus.Gauge
}

// New registers the instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		purchasesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "total",
			Help:      "Purchases partitioned by outcome.",
		}, []string{"outcome"}),
		purchasedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "debited_minor_units_total",
			Help:      "Sum of amounts debited by purchases.",
		}),
		depositsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "total",
			Help:      "Deposit events partitioned by stage (created, approved, rejected, replayed).",
		}, []string{"stage"}),
		creditedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "credited_minor_units_total",
			Help:      "Sum of amounts credited by approved deposits.",
		}),
		conflictRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conflict_retries_total",
			Help:      "Atomic scopes replayed after a version conflict.",
		}),
		invalidTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "invalid_tokens_total",
			Help:      "Rejected approve/reject callback tokens.",
		}, []string{"action"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "refused_total",
			Help:      "Requests refused by the rate limiter.",
		}, []string{"endpoint"}),
		notifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notification deliveries that failed after retries.",
		}, []string{"sink"}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "append_failures_total",
			Help:      "Audit records that could not be written after retries.",
		}),
		staleDeposits: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "stale_pending",
			Help:      "Pending deposits older than the configured age at the last scan.",
		}),
		reconcileDrift: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "mismatched_accounts",
			Help:      "Accounts whose balance differed from the ledger at the last full reconciliation.",
		}),
	}
}

func (m *Metrics) ObservePurchase(outcome string, debited int64) {
	if m == nil {
		return
	}
	m.purchasesTotal.WithLabelValues(outcome).Inc()
	if debited > 0 {
		m.purchasedAmount.Add(float64(debited))
	}
}

func (m *Metrics) ObserveDeposit(stage string, credited int64) {
	if m == nil {
		return
	}
	m.depositsTotal.WithLabelValues(stage).Inc()
	if credited > 0 {
		m.creditedAmount.Add(float64(credited))
	}
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *Metrics) InvalidToken(action string) {
	if m == nil {
		return
	}
	m.invalidTokens.WithLabelValues(action).Inc()
}

func (m *Metrics) RateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) NotifyFailed(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) SetStaleDeposits(n int) {
	if m == nil {
		return
	}
	m.staleDeposits.Set(float64(n))
}

func (m *Metrics) SetReconcileMismatches(n int) {
	if m == nil {
		return
	}
	m.reconcileDrift.Set(float64(n))
}
