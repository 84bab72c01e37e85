package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts limiter outcomes.
type Metrics struct {
	Rejected    prometheus.Counter
	StoreErrors prometheus.Counter
}

// NewMetrics registers the limiter metrics. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_ratelimit_rejected_total",
			Help: "Requests rejected because the caller exceeded its window",
		}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_ratelimit_store_errors_total",
			Help: "Limiter store failures; the request is let through",
		}),
	}
}

// IncrementRejected is safe on a nil receiver.
func (m *Metrics) IncrementRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

// IncrementStoreError is safe on a nil receiver.
func (m *Metrics) IncrementStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
