package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for access decisions.
type Metrics struct {
	// Decision outcomes by decision tag and purpose
	DecisionOutcome *prometheus.CounterVec

	// Request failures before a decision was reached, by error code
	Rejections *prometheus.CounterVec

	// Overall handling latency including policy fetch and credential issuance
	HandleLatency prometheus.Histogram

	// Credential store side-channel failures by operation
	CredentialStoreErrors *prometheus.CounterVec

	// Emergency overrides granted
	EmergencyOverrides prometheus.Counter
}

// New creates a new Metrics instance with all decision metrics registered.
func New() *Metrics {
	return &Metrics{
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_decision_outcomes_total",
			Help: "Total access decisions by outcome and purpose",
		}, []string{"decision", "purpose"}),

		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_access_rejections_total",
			Help: "Access requests that failed before a grant, by error code",
		}, []string{"code"}),

		HandleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentgate_access_handle_duration_seconds",
			Help:    "Duration of full access request handling",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		CredentialStoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_credential_store_errors_total",
			Help: "Credential store failures by operation",
		}, []string{"op"}),

		EmergencyOverrides: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_emergency_overrides_total",
			Help: "Emergency break-glass credentials issued",
		}),
	}
}

// IncrementOutcome records a decision outcome.
func (m *Metrics) IncrementOutcome(decision, purpose string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(decision, purpose).Inc()
	}
}

// IncrementRejection records a request that ended in an error.
func (m *Metrics) IncrementRejection(code string) {
	if m != nil {
		m.Rejections.WithLabelValues(code).Inc()
	}
}

// ObserveHandleLatency records the total handling duration.
func (m *Metrics) ObserveHandleLatency(d time.Duration) {
	if m != nil {
		m.HandleLatency.Observe(d.Seconds())
	}
}

// IncrementCredentialStoreError records a swallowed credential store failure.
func (m *Metrics) IncrementCredentialStoreError(op string) {
	if m != nil {
		m.CredentialStoreErrors.WithLabelValues(op).Inc()
	}
}

// IncrementEmergencyOverride records a break-glass grant.
func (m *Metrics) IncrementEmergencyOverride() {
	if m != nil {
		m.EmergencyOverrides.Inc()
	}
}
