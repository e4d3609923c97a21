package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

func newTestClient(url string) *Client {
	return New(url, Options{GenModel: "gen", EmbedModel: "embed"}, nil, nil)
}

func TestGenerateSendsChatRequestInJSONMode(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" {\"final_answer\":\"ok\"} "},"done":true}`))
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL))
	got, err := gen.Generate(context.Background(), ports.GenerationRequest{System: "sys", User: "question?", JSON: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `{"final_answer":"ok"}` {
		t.Fatalf("unexpected content: %q", got)
	}
	if captured["format"] != "json" || captured["stream"] != false || captured["model"] != "gen" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", captured["messages"])
	}
}

func TestGenerateStreamYieldsFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range []string{`{"final`, `_answer":`, `"hi"}`} {
			data, _ := json.Marshal(chatChunk{Message: chatMessage{Role: "assistant", Content: part}})
			_, _ = fmt.Fprintf(w, "%s\n", data)
		}
		_, _ = fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL))
	var sb strings.Builder
	for fragment, err := range gen.GenerateStream(context.Background(), ports.GenerationRequest{User: "q"}) {
		if err != nil {
			t.Fatalf("stream error = %v", err)
		}
		sb.WriteString(fragment)
	}
	if sb.String() != `{"final_answer":"hi"}` {
		t.Fatalf("unexpected stream content: %q", sb.String())
	}
}

func TestGenerateStreamStopsOnBreak(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			_, _ = fmt.Fprintf(w, `{"message":{"role":"assistant","content":"t%d"}}`+"\n", i)
		}
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL))
	count := 0
	for _, err := range gen.GenerateStream(context.Background(), ports.GenerationRequest{User: "q"}) {
		if err != nil {
			t.Fatalf("stream error = %v", err)
		}
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected to stop after 2 fragments, got %d", count)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable kind, got %v", err)
	}
	var statusErr *resilience.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	if _, err := embedder.Embed(context.Background(), []string{"a", "b"}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable for count mismatch, got %v", err)
	}
}

func TestGenerateRetriesTransientStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer server.Close()

	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	client := New(server.URL, Options{GenModel: "gen"}, resilience.NewExecutor(cfg, nil), nil)
	got, err := NewGenerator(client).Generate(context.Background(), ports.GenerationRequest{User: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected retry to succeed, got %q after %d calls", got, calls)
	}
}
