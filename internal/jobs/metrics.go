package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks task outcomes and durations.
type Metrics struct {
	Tasks     *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Scheduled *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Tasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_jobs_tasks_total",
			Help: "Tasks processed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "membership_jobs_task_duration_seconds",
			Help:    "Task handler duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		Scheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_jobs_scheduled_total",
			Help: "Periodic jobs enqueued by the scheduler",
		}, []string{"kind"}),
	}
}

func (m *Metrics) inc(kind Kind, outcome string) {
	if m != nil {
		m.Tasks.WithLabelValues(string(kind), outcome).Inc()
	}
}

func (m *Metrics) observe(kind Kind, d time.Duration) {
	if m != nil {
		m.Duration.WithLabelValues(string(kind)).Observe(d.Seconds())
	}
}

func (m *Metrics) scheduled(kind Kind) {
	if m != nil {
		m.Scheduled.WithLabelValues(string(kind)).Inc()
	}
}
