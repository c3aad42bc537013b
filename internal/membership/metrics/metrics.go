package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StatusChanges *prometheus.CounterVec
	Expired       prometheus.Counter
	Reminders     *prometheus.CounterVec
	TeamChanges   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_status_changes_total",
			Help: "Derived status changes by target status",
		}, []string{"after"}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "membership_role_assignments_expired_total",
			Help: "Role assignments deactivated by the expiry sweep",
		}),
		Reminders: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_expiry_reminders_total",
			Help: "Expiry reminders sent by days remaining",
		}, []string{"days"}),
		TeamChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_team_changes_total",
			Help: "Team joins and leaves",
		}, []string{"action"}),
	}
}

func (m *Metrics) IncStatusChange(after string) {
	m.StatusChanges.WithLabelValues(after).Inc()
}

func (m *Metrics) AddExpired(n int) {
	m.Expired.Add(float64(n))
}

func (m *Metrics) IncReminder(days string) {
	m.Reminders.WithLabelValues(days).Inc()
}

func (m *Metrics) IncTeamChange(action string) {
	m.TeamChanges.WithLabelValues(action).Inc()
}
