package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the reindex worker: run outcomes, how long requests wait
// on the queue, and the backends the run talks to.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	runs     *prometheus.CounterVec
	runTime  *prometheus.HistogramVec
	running  prometheus.Gauge
	embedded prometheus.Gauge
	lag      prometheus.Histogram
	backend  *BackendMetrics
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	perService := prometheus.Labels{"service": service}
	worker := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "worker", Name: name, Help: help, ConstLabels: perService}
	}

	m := &WorkerMetrics{
		registry: registry,
		service:  service,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts(worker("reindex_total", "Corpus reindex runs by status.")),
			[]string{"status"},
		),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "reindex_duration_seconds",
			Help:        "Corpus reindex duration in seconds by status.",
			Buckets:     prometheus.ExponentialBuckets(1, 2.5, 9),
			ConstLabels: perService,
		}, []string{"status"}),
		running:  prometheus.NewGauge(prometheus.GaugeOpts(worker("reindex_in_flight", "Reindex runs in progress."))),
		embedded: prometheus.NewGauge(prometheus.GaugeOpts(worker("indexed_chunks", "Chunks embedded by the last successful reindex."))),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between a reindex request and the start of its run.",
			Buckets:     prometheus.ExponentialBuckets(0.1, 3, 9),
			ConstLabels: perService,
		}),
	}
	registry.MustRegister(m.runs, m.runTime, m.running, m.embedded, m.lag)
	m.backend = newBackendMetrics(service, registry)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Backend() *BackendMetrics {
	return m.backend
}

func (m *WorkerMetrics) StartReindex() {
	m.running.Inc()
}

// FinishReindex closes a run opened by StartReindex. The chunk gauge keeps the
// last successful value when the run fails.
func (m *WorkerMetrics) FinishReindex(duration time.Duration, chunks int, err error) {
	m.running.Dec()
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.embedded.Set(float64(chunks))
	}
	m.runs.WithLabelValues(status).Inc()
	m.runTime.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag >= 0 {
		m.lag.Observe(lag.Seconds())
	}
}
