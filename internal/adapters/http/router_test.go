package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type answerServiceFake struct {
	mu      sync.Mutex
	result  *domain.AnswerResult
	err     error
	events  []domain.StreamEvent
	calls   int
	lastReq domain.AskRequest
}

func (f *answerServiceFake) Ask(_ context.Context, req domain.AskRequest) (*domain.AnswerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *answerServiceFake) AskStream(_ context.Context, req domain.AskRequest) (iter.Seq[domain.StreamEvent], error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	err := f.err
	events := f.events
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return func(yield func(domain.StreamEvent) bool) {
		for _, event := range events {
			if !yield(event) {
				return
			}
		}
	}, nil
}

func (f *answerServiceFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type readyFake struct {
	err error
}

func (f readyFake) Ready(context.Context) error { return f.err }

type reindexFake struct {
	reasons []string
	err     error
}

func (f *reindexFake) PublishReindexRequested(_ context.Context, reason string) error {
	f.reasons = append(f.reasons, reason)
	return f.err
}

type statsFake struct {
	since  time.Time
	counts map[domain.AnswerState]int
}

func (f *statsFake) StateCounts(_ context.Context, since time.Time) (map[domain.AnswerState]int, error) {
	f.since = since
	return f.counts, nil
}

func newTestHandler(t *testing.T, cfg config.Config, deps Dependencies) http.Handler {
	t.Helper()
	rt, err := NewRouter(cfg, deps)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return rt.Handler()
}

func sampleRetrieval() *domain.RetrievalResult {
	refunds := domain.ScoredCandidate{
		Chunk: domain.Chunk{
			ChunkID:     "refund_policy::c0001",
			DocID:       "refund_policy",
			SectionPath: "Refund Policy > Annual plans",
			Text:        "Annual plans can be refunded within 30 days.",
			Metadata:    domain.ChunkMetadata{Category: "billing"},
		},
		VectorScore:  0.9,
		LexicalScore: 1,
		FusedScore:   0.935,
	}
	pricing := domain.ScoredCandidate{
		Chunk: domain.Chunk{
			ChunkID:     "pricing::c0000",
			DocID:       "pricing",
			SectionPath: "Pricing",
			Metadata:    domain.ChunkMetadata{Category: "billing"},
		},
		FusedScore: 0.41,
	}
	return &domain.RetrievalResult{
		Query:      "Can I get a refund on an annual plan?",
		TopK:       5,
		Filter:     domain.SearchFilter{Category: "billing"},
		Candidates: []domain.ScoredCandidate{refunds, pricing},
		Evidence:   []domain.ScoredCandidate{refunds},
		TopScore:   0.935,
		GatePassed: true,
		GateReason: domain.GateAdmitted,
		Generation: 3,
	}
}

func acceptedAnswer() *domain.AnswerResult {
	return &domain.AnswerResult{
		TraceID:     "trace-1",
		Question:    "Can I get a refund on an annual plan?",
		FinalAnswer: "Yes, within 30 days.",
		Citations: []domain.Citation{{
			ChunkID:     "refund_policy::c0001",
			DocID:       "refund_policy",
			SectionPath: "Refund Policy > Annual plans",
			Score:       0.935,
			Snippet:     "Annual plans can be refunded within 30 days.",
		}},
		State:     domain.StateAccepted,
		Retrieval: sampleRetrieval(),
		Timings:   domain.Timings{RetrieveMs: 12, GenerateMs: 340, TotalMs: 352},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskReturnsAnswerPayload(t *testing.T) {
	answers := &answerServiceFake{result: acceptedAnswer()}
	handler := newTestHandler(t, config.Config{}, Dependencies{Answers: answers})

	res := postJSON(t, handler, "/v1/rag/ask", map[string]any{
		"question":   "Can I get a refund on an annual plan?",
		"top_k":      5,
		"applies_to": []string{"pro"},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if answers.lastReq.TopK != 5 || len(answers.lastReq.AppliesTo) != 1 {
		t.Fatalf("request not forwarded: %#v", answers.lastReq)
	}

	var body struct {
		FinalAnswer    string            `json:"final_answer"`
		Citations      []domain.Citation `json:"citations"`
		State          string            `json:"state"`
		RetrievalDebug struct {
			TopK       int     `json:"top_k"`
			TopScore   float64 `json:"top_score"`
			GatePassed bool    `json:"gate_passed"`
			Reason     string  `json:"reason"`
			TraceID    string  `json:"trace_id"`
			Category   string  `json:"category"`
			Results    []struct {
				ChunkID  string `json:"chunk_id"`
				Evidence bool   `json:"evidence"`
			} `json:"results"`
			Timings map[string]int64 `json:"timings_ms"`
		} `json:"retrieval_debug"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FinalAnswer != "Yes, within 30 days." || body.State != "accepted" {
		t.Fatalf("unexpected answer: %+v", body)
	}
	if len(body.Citations) != 1 || body.Citations[0].ChunkID != "refund_policy::c0001" {
		t.Fatalf("unexpected citations: %+v", body.Citations)
	}
	debug := body.RetrievalDebug
	if debug.TraceID != "trace-1" || debug.TopK != 5 || !debug.GatePassed || debug.Reason != "ok" || debug.Category != "billing" {
		t.Fatalf("unexpected retrieval debug: %+v", debug)
	}
	if len(debug.Results) != 2 || !debug.Results[0].Evidence || debug.Results[1].Evidence {
		t.Fatalf("expected fused order with evidence marker, got %+v", debug.Results)
	}
	if debug.Timings["total"] != 352 {
		t.Fatalf("expected timings, got %+v", debug.Timings)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestAskRefusalSerializesEmptyCitations(t *testing.T) {
	refusal := domain.NewRefusal("What is the weather?", domain.StateRefused, domain.ReasonInsufficientEvidence)
	refusal.Retrieval = &domain.RetrievalResult{TopK: 5, GateReason: domain.GateNoCandidates}
	handler := newTestHandler(t, config.Config{}, Dependencies{Answers: &answerServiceFake{result: refusal}})

	res := postJSON(t, handler, "/v1/rag/ask", map[string]any{"question": "What is the weather?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body["citations"]) != "[]" {
		t.Fatalf("expected empty citations array, got %s", body["citations"])
	}
	var answer string
	_ = json.Unmarshal(body["final_answer"], &answer)
	if answer != domain.RefusalAnswer {
		t.Fatalf("expected refusal text, got %q", answer)
	}
}

func TestAskMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		kind       string
		retryAfter bool
	}{
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "validate", errors.New("bad")), http.StatusBadRequest, "invalid_input", false},
		{"index not built", domain.WrapError(domain.ErrIndexNotBuilt, "retrieve", errors.New("no snapshot")), http.StatusServiceUnavailable, "index_not_built", false},
		{"empty corpus", domain.WrapError(domain.ErrEmptyCorpus, "retrieve", errors.New("zero chunks")), http.StatusServiceUnavailable, "empty_corpus", false},
		{"backend timeout", domain.WrapError(domain.ErrBackendTimeout, "generate", errors.New("deadline")), http.StatusGatewayTimeout, "backend_timeout", false},
		{"backend unavailable", domain.WrapError(domain.ErrBackendUnavailable, "generate", errors.New("refused")), http.StatusServiceUnavailable, "backend_unavailable", true},
		{"generation format", &domain.GenerationFormatError{Attempts: 2, Err: errors.New("not json")}, http.StatusBadGateway, "generation_format", false},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(t, config.Config{}, Dependencies{Answers: &answerServiceFake{err: tc.err}})
			res := postJSON(t, handler, "/v1/rag/ask", map[string]any{"question": "refund?"})
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			var body errorPayload
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Kind != tc.kind || body.Error == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
			if got := res.Header().Get("Retry-After") != ""; got != tc.retryAfter {
				t.Fatalf("Retry-After presence = %v, want %v", got, tc.retryAfter)
			}
		})
	}
}

func TestAskRejectsRequestsOutsideSchema(t *testing.T) {
	cases := map[string]map[string]any{
		"missing question": {"top_k": 3},
		"top_k too large":  {"question": "refund?", "top_k": 11},
		"top_k negative":   {"question": "refund?", "top_k": -1},
		"unknown field":    {"question": "refund?", "mode": "agent"},
		"empty question":   {"question": ""},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			answers := &answerServiceFake{result: acceptedAnswer()}
			handler := newTestHandler(t, config.Config{}, Dependencies{Answers: answers})

			res := postJSON(t, handler, "/v1/rag/ask", body)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
			if answers.callCount() != 0 {
				t.Fatalf("answer service must not be called for invalid requests")
			}
		})
	}
}

func TestAskRejectsMalformedJSON(t *testing.T) {
	answers := &answerServiceFake{result: acceptedAnswer()}
	handler := newTestHandler(t, config.Config{}, Dependencies{Answers: answers})

	req := httptest.NewRequest(http.MethodPost, "/v1/rag/ask", bytes.NewReader([]byte(`{"question":`)))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestReadyzReflectsCorpusState(t *testing.T) {
	notBuilt := domain.WrapError(domain.ErrIndexNotBuilt, "ready", errors.New("no snapshot"))
	handler := newTestHandler(t, config.Config{}, Dependencies{
		Answers: &answerServiceFake{},
		Ready:   readyFake{err: notBuilt},
	})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}

	handler = newTestHandler(t, config.Config{}, Dependencies{Answers: &answerServiceFake{}, Ready: readyFake{}})
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestAdminReindexRequiresBearerKey(t *testing.T) {
	reindex := &reindexFake{}
	handler := newTestHandler(t, config.Config{AdminAPIKey: "s3cret"}, Dependencies{
		Answers: &answerServiceFake{},
		Reindex: reindex,
	})

	res := postJSON(t, handler, "/v1/admin/reindex", map[string]string{"reason": "docs changed"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reindex", bytes.NewReader([]byte(`{"reason":"docs changed"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(reindex.reasons) != 1 || reindex.reasons[0] != "docs changed" {
		t.Fatalf("unexpected published reasons: %v", reindex.reasons)
	}
}

func TestAdminReindexWithoutConfiguredKeyIsRejected(t *testing.T) {
	reindex := &reindexFake{}
	handler := newTestHandler(t, config.Config{}, Dependencies{Answers: &answerServiceFake{}, Reindex: reindex})

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reindex", nil)
	req.Header.Set("Authorization", "Bearer ")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if len(reindex.reasons) != 0 {
		t.Fatalf("reindex must not be published")
	}
}

func TestAdminAnswerStats(t *testing.T) {
	stats := &statsFake{counts: map[domain.AnswerState]int{
		domain.StateAccepted: 7,
		domain.StateRefused:  3,
	}}
	handler := newTestHandler(t, config.Config{AdminAPIKey: "s3cret"}, Dependencies{
		Answers: &answerServiceFake{},
		Stats:   stats,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/answers/stats?since=2026-10-01T00:00:00Z", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Total  int            `json:"total"`
		States map[string]int `json:"states"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 10 || body.States["accepted"] != 7 {
		t.Fatalf("unexpected stats: %+v", body)
	}
	if !stats.since.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since not forwarded: %v", stats.since)
	}
}
