package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/observability/metrics"
)

// ReindexRequester asks the worker fleet to rebuild the corpus.
type ReindexRequester interface {
	PublishReindexRequested(ctx context.Context, reason string) error
}

// AnswerStats reports answer outcomes recorded in the audit log.
type AnswerStats interface {
	StateCounts(ctx context.Context, since time.Time) (map[domain.AnswerState]int, error)
}

type Dependencies struct {
	Answers ports.AnswerService
	Ready   ports.ReadinessProbe
	Reindex ReindexRequester
	Stats   AnswerStats
	Metrics *metrics.HTTPServerMetrics
	Logger  *slog.Logger
}

type Router struct {
	answers ports.AnswerService
	ready   ports.ReadinessProbe
	reindex ReindexRequester
	stats   AnswerStats
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger

	validator *requestValidator

	adminAPIKey       string
	rateLimitRPS      float64
	rateLimitBurst    int
	maxInFlight       int
	backpressureWait  time.Duration
	requestMaxBytes   int64
	defaultStatsRange time.Duration
}

func NewRouter(cfg config.Config, deps Dependencies) (*Router, error) {
	if deps.Answers == nil {
		return nil, errors.New("answer service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := newRequestValidator(context.Background())
	if err != nil {
		return nil, err
	}
	return &Router{
		answers:           deps.Answers,
		ready:             deps.Ready,
		reindex:           deps.Reindex,
		stats:             deps.Stats,
		metrics:           deps.Metrics,
		logger:            logger,
		validator:         validator,
		adminAPIKey:       cfg.AdminAPIKey,
		rateLimitRPS:      cfg.APIRateLimitRPS,
		rateLimitBurst:    cfg.APIRateLimitBurst,
		maxInFlight:       cfg.APIBackpressureMaxInFlight,
		backpressureWait:  cfg.APIBackpressureWait,
		requestMaxBytes:   cfg.APIRequestMaxBytes,
		defaultStatsRange: 24 * time.Hour,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /readyz", rt.readyz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/rag/ask", rt.ask)
	mux.HandleFunc("POST /v1/rag/ask/stream", rt.askStream)
	mux.HandleFunc("POST /v1/admin/reindex", rt.adminAuth(rt.requestReindex))
	mux.HandleFunc("GET /v1/admin/answers/stats", rt.adminAuth(rt.answerStats))

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = maxBytesMiddleware(handler, rt.requestMaxBytes)
	handler = newAdmission(rt.rateLimitRPS, rt.rateLimitBurst, rt.maxInFlight, rt.backpressureWait).middleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.ready != nil {
		if err := rt.ready.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorPayload{
				Error: err.Error(),
				Kind:  domain.ErrorKind(err),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeAsk(w, r)
	if !ok {
		return
	}
	result, err := rt.answers.Ask(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnswerPayload(result))
}

func (rt *Router) decodeAsk(w http.ResponseWriter, r *http.Request) (askRequest, bool) {
	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err)))
		return askRequest{}, false
	}
	return req, true
}

type reindexRequest struct {
	Reason string `json:"reason"`
}

func (rt *Router) requestReindex(w http.ResponseWriter, r *http.Request) {
	if rt.reindex == nil {
		writeError(w, r, domain.WrapError(domain.ErrBackendUnavailable, "request reindex", errors.New("corpus events are not configured")))
		return
	}
	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err)))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "admin_api"
	}
	if err := rt.reindex.PublishReindexRequested(r.Context(), reason); err != nil {
		writeError(w, r, err)
		return
	}
	rt.logger.Info("reindex_requested",
		"request_id", requestIDFromContext(r.Context()),
		"reason", reason,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "reason": reason})
}

func (rt *Router) answerStats(w http.ResponseWriter, r *http.Request) {
	if rt.stats == nil {
		writeError(w, r, domain.WrapError(domain.ErrBackendUnavailable, "answer stats", errors.New("answer log is not configured")))
		return
	}
	since := time.Now().Add(-rt.defaultStatsRange)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "answer stats", fmt.Errorf("since must be RFC3339: %w", err)))
			return
		}
		since = parsed
	}
	counts, err := rt.stats.StateCounts(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since.UTC().Format(time.RFC3339),
		"total":  total,
		"states": counts,
	})
}
