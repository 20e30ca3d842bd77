package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/graphcache/internal/txn"
)

const (
	metricsNamespace = "graphcache"
	metricsSubsystem = "mutation"
)

// Metrics holds the transaction lifecycle collectors.
type Metrics struct {
	dispatched *prometheus.CounterVec
	confirmed  *prometheus.CounterVec
	rolledBack *prometheus.CounterVec
	ignored    prometheus.Counter
	skipped    prometheus.Counter
	pending    prometheus.Gauge
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests so runs do not collide on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatched_total",
			Help:      "Mutations admitted and applied optimistically",
		}, []string{"operation"}),
		confirmed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "confirmed_total",
			Help:      "Mutations confirmed by the server and reconciled",
		}, []string{"operation"}),
		rolledBack: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rolled_back_total",
			Help:      "Mutations rolled back, by reason",
		}, []string{"operation", "reason"}),
		ignored: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "stale_responses_total",
			Help:      "Responses ignored because their transaction was already resolved",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "skipped_configs_total",
			Help:      "Reconciliation configs skipped or rejected during confirmation",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pending",
			Help:      "Transactions applied optimistically and awaiting a response",
		}),
	}
}

// observe records one resolved outcome. A nil receiver is a no-op.
func (m *Metrics) observe(out txn.Outcome) {
	if m == nil {
		return
	}
	switch {
	case out.Ignored:
		m.ignored.Inc()
		return
	case out.Status == txn.StatusConfirmed:
		m.confirmed.WithLabelValues(out.Operation).Inc()
		m.skipped.Add(float64(len(out.Skipped)))
	case out.Status == txn.StatusRolledBack:
		m.rolledBack.WithLabelValues(out.Operation, string(out.Reason)).Inc()
	}
}

func (m *Metrics) admitted(operation string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(operation).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
