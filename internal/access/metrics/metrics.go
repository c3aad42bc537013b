package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for external access provisioning.
// Tracks API call outcomes and reconcile durations.
type Metrics struct {
	Operations        *prometheus.CounterVec
	Untracked         prometheus.Counter
	ReconcileDuration prometheus.Histogram
}

// New creates a new Metrics instance with all access metrics registered.
func New() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_access_operations_total",
			Help: "External permission operations by action and final log status",
		}, []string{"action", "status"}),
		Untracked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "membership_access_untracked_grants_total",
			Help: "External grants seen during reconcile that this system did not create",
		}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "membership_access_reconcile_duration_seconds",
			Help:    "Duration of one resource reconcile",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// IncOperation records one finished log entry.
func (m *Metrics) IncOperation(action, status string) {
	m.Operations.WithLabelValues(action, status).Inc()
}

// AddUntracked records grants reconcile left alone.
func (m *Metrics) AddUntracked(n int) {
	m.Untracked.Add(float64(n))
}

// ObserveReconcile records the duration of a reconcile.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveReconcile(start time.Time) {
	m.ReconcileDuration.Observe(time.Since(start).Seconds())
}
