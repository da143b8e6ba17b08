package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the login and logout flows.
type Metrics struct {
	// Login conclusions by outcome: "linked", "oidc_only", "redirect", "error".
	Logins *prometheus.CounterVec

	// Logout conclusions by outcome: "ok", "error".
	Logouts *prometheus.CounterVec

	// Flow errors by kind label.
	FlowErrors *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all flow metrics registered on
// the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekey_logins_total",
			Help: "Login flow conclusions by outcome",
		}, []string{"outcome"}),

		Logouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekey_logouts_total",
			Help: "Logout flow conclusions by outcome",
		}, []string{"outcome"}),

		FlowErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekey_flow_errors_total",
			Help: "Terminal flow errors by kind",
		}, []string{"kind"}),
	}
}

// IncrementLogin records a login conclusion.
func (m *Metrics) IncrementLogin(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

// IncrementLogout records a logout conclusion.
func (m *Metrics) IncrementLogout(outcome string) {
	if m != nil {
		m.Logouts.WithLabelValues(outcome).Inc()
	}
}

// IncrementFlowError records a terminal flow error.
func (m *Metrics) IncrementFlowError(kind string) {
	if m != nil {
		m.FlowErrors.WithLabelValues(kind).Inc()
	}
}
