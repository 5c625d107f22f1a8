// Package metrics exposes Prometheus instruments for the claim workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// Transitions by transition name and outcome (ok, conflict, invalid, forbidden, error).
	Transitions *prometheus.CounterVec
	// Notifications by email kind and outcome (sent, failed).
	Notifications *prometheus.CounterVec
	RateLimited   prometheus.Counter
	Evidence      *prometheus.CounterVec
}

// New registers every instrument on a fresh registry along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeclaims_claim_transitions_total",
			Help: "Claim transitions attempted, by transition and outcome",
		}, []string{"transition", "outcome"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeclaims_notifications_total",
			Help: "Claim notification emails, by kind and outcome",
		}, []string{"kind", "outcome"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "rangeclaims_claim_submissions_rate_limited_total",
			Help: "Claim submissions refused by the rate limiter",
		}),
		Evidence: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeclaims_claim_documents_total",
			Help: "Claim evidence uploads, by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) Transition(transition, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(transition, outcome).Inc()
	}
}

func (m *Metrics) Notification(kind string, sent bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if sent {
		outcome = "sent"
	}
	m.Notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RateLimit() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

func (m *Metrics) Document(kind, outcome string) {
	if m != nil {
		m.Evidence.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
