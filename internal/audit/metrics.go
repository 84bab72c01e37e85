package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on the dropped counter.
const (
	dropQueueFull   = "queue_full"
	dropCircuitOpen = "circuit_open"
	dropClosed      = "closed"
)

// Metrics holds Prometheus metrics for audit emission.
type Metrics struct {
	Written      prometheus.Counter
	Dropped      *prometheus.CounterVec
	SinkFailures prometheus.Counter
	CircuitState prometheus.Gauge
}

// NewMetrics registers the audit metrics. Call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		Written: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_audit_events_written_total",
			Help: "Audit events accepted by the sink",
		}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_audit_events_dropped_total",
			Help: "Audit events dropped before reaching the sink, by reason",
		}, []string{"reason"}),
		SinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_audit_sink_failures_total",
			Help: "Audit sink write failures",
		}),
		CircuitState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "consentgate_audit_circuit_breaker_state",
			Help: "Audit sink circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) incWritten() {
	if m == nil {
		return
	}
	m.Written.Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) incSinkFailure() {
	if m == nil {
		return
	}
	m.SinkFailures.Inc()
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitState.Set(1)
	} else {
		m.CircuitState.Set(0)
	}
}
