package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics tracks retries and breaker states of calls to the model
// server, the vector store and the broker.
type BackendMetrics struct {
	service      string
	retriesTotal *prometheus.CounterVec
	breakerOpen  *prometheus.GaugeVec
}

func newBackendMetrics(service string, reg prometheus.Registerer) *BackendMetrics {
	m := &BackendMetrics{
		service: service,
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Backend call retries by operation.",
			},
			[]string{"service", "operation"},
		),
		breakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "breaker_open",
				Help:      "1 while the operation's circuit breaker rejects calls, 0.5 while half-open.",
			},
			[]string{"service", "operation"},
		),
	}
	reg.MustRegister(m.retriesTotal, m.breakerOpen)
	return m
}

func (m *BackendMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

// SetBreakerState records a breaker transition. States are the gobreaker names.
func (m *BackendMetrics) SetBreakerState(operation, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 0.5
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(v)
}
