package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reconciliation activity. A nil *Metrics records nothing.
type Metrics struct {
	created       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	transitions   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pix",
			Subsystem: "payments",
			Name:      "created_total",
			Help:      "Payment creation attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pix",
			Subsystem: "payments",
			Name:      "notifications_total",
			Help:      "Webhook notifications by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pix",
			Subsystem: "payments",
			Name:      "status_transitions_total",
			Help:      "Stored status changes by resulting status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.notifications, m.transitions)
	}
	return m
}

func (m *Metrics) observeCreate(method, outcome string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) observeNotification(outcome NotificationOutcome) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) observeTransition(status Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}
