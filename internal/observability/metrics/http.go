package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const namespace = "rag"

// HTTPServerMetrics holds the API server registry. It also implements
// ports.PipelineObserver so the answer pipeline reports into the same registry.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalDuration  *prometheus.HistogramVec
	retrievalTopScore  prometheus.Histogram
	gateOutcomesTotal  *prometheus.CounterVec
	cacheHitsTotal     *prometheus.CounterVec
	answersTotal       *prometheus.CounterVec
	answerDuration     *prometheus.HistogramVec
	citationsPerAnswer *prometheus.HistogramVec
	failuresTotal      *prometheus.CounterVec
	ungroundedTotal    prometheus.Counter
	formatRetriesTotal prometheus.Counter
	corpusChunks       prometheus.Gauge
	corpusGeneration   prometheus.Gauge

	backend *BackendMetrics
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Hybrid retrieval duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"service", "cache"},
	)
	retrievalTopScore := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "top_score",
			Help:        "Fused score of the best candidate per retrieval.",
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			ConstLabels: constLabels,
		},
	)
	gateOutcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "gate_outcomes_total",
			Help:      "Evidence gate decisions by reason.",
		},
		[]string{"service", "reason"},
	)
	cacheHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "cache_lookups_total",
			Help:      "Retrieval cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "total",
			Help:      "Completed answers by endpoint and terminal state.",
		},
		[]string{"service", "endpoint", "state", "reason"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "End-to-end answer duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"service", "endpoint"},
	)
	citationsPerAnswer := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "citations",
			Help:      "Distribution of citations per accepted answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"service", "endpoint"},
	)
	failuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "failures_total",
			Help:      "Failed answer requests by error kind.",
		},
		[]string{"service", "endpoint", "kind"},
	)
	ungroundedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "answer",
			Name:        "ungrounded_citations_total",
			Help:        "Citations dropped because they referenced chunks outside the evidence set.",
			ConstLabels: constLabels,
		},
	)
	formatRetriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "generation",
			Name:        "format_retries_total",
			Help:        "Correction retries issued after malformed model output.",
			ConstLabels: constLabels,
		},
	)
	corpusChunks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "corpus",
			Name:        "chunks",
			Help:        "Chunks in the active corpus snapshot.",
			ConstLabels: constLabels,
		},
	)
	corpusGeneration := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "corpus",
			Name:        "generation",
			Help:        "Generation number of the active corpus snapshot.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalDuration,
		retrievalTopScore,
		gateOutcomesTotal,
		cacheHitsTotal,
		answersTotal,
		answerDuration,
		citationsPerAnswer,
		failuresTotal,
		ungroundedTotal,
		formatRetriesTotal,
		corpusChunks,
		corpusGeneration,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		retrievalDuration:  retrievalDuration,
		retrievalTopScore:  retrievalTopScore,
		gateOutcomesTotal:  gateOutcomesTotal,
		cacheHitsTotal:     cacheHitsTotal,
		answersTotal:       answersTotal,
		answerDuration:     answerDuration,
		citationsPerAnswer: citationsPerAnswer,
		failuresTotal:      failuresTotal,
		ungroundedTotal:    ungroundedTotal,
		formatRetriesTotal: formatRetriesTotal,
		corpusChunks:       corpusChunks,
		corpusGeneration:   corpusGeneration,
		backend:            newBackendMetrics(service, registry),
	}
}

// Backend returns the retry and breaker metrics sharing this registry.
func (m *HTTPServerMetrics) Backend() *BackendMetrics {
	return m.backend
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps the path label bounded: unknown paths collapse into one series.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics",
		"/v1/rag/ask", "/v1/rag/ask/stream",
		"/v1/admin/reindex", "/v1/admin/answers/stats":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) ObserveRetrieval(result *domain.RetrievalResult, duration time.Duration) {
	if result == nil {
		return
	}
	cache := "miss"
	if result.CacheHit {
		cache = "hit"
	}
	m.cacheHitsTotal.WithLabelValues(m.service, cache).Inc()
	m.retrievalDuration.WithLabelValues(m.service, cache).Observe(duration.Seconds())
	if result.CacheHit {
		return
	}
	reason := string(result.GateReason)
	if reason == "" {
		reason = "unknown"
	}
	m.gateOutcomesTotal.WithLabelValues(m.service, reason).Inc()
	if len(result.Candidates) > 0 {
		m.retrievalTopScore.Observe(result.TopScore)
	}
}

func (m *HTTPServerMetrics) ObserveAnswer(endpoint string, answer *domain.AnswerResult, duration time.Duration) {
	if answer == nil {
		return
	}
	m.answersTotal.WithLabelValues(m.service, endpoint, string(answer.State), answer.Reason).Inc()
	m.answerDuration.WithLabelValues(m.service, endpoint).Observe(duration.Seconds())
	if answer.State == domain.StateAccepted {
		m.citationsPerAnswer.WithLabelValues(m.service, endpoint).Observe(float64(len(answer.Citations)))
	}
}

func (m *HTTPServerMetrics) ObserveFailure(endpoint string, err error) {
	kind := domain.ErrorKind(err)
	if kind == "" {
		kind = "unknown"
	}
	m.failuresTotal.WithLabelValues(m.service, endpoint, kind).Inc()
}

func (m *HTTPServerMetrics) ObserveUngroundedCitations(count int) {
	if count <= 0 {
		return
	}
	m.ungroundedTotal.Add(float64(count))
}

func (m *HTTPServerMetrics) ObserveFormatRetry() {
	m.formatRetriesTotal.Inc()
}

func (m *HTTPServerMetrics) ObserveCorpusReload(chunks int, generation uint64) {
	m.corpusChunks.Set(float64(chunks))
	m.corpusGeneration.Set(float64(generation))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
