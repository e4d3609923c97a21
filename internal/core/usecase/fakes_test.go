package usecase

import (
	"context"
	"errors"
	"hash/fnv"
	"iter"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/text"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/lexical"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector/memory"
)

const hashDims = 256

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct {
	err error
}

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedQuery(ctx context.Context, t string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{t})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func hashVector(s string) []float32 {
	v := make([]float32, hashDims)
	for _, token := range text.Tokenize(s) {
		if text.IsStopword(token) {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		v[h.Sum32()%hashDims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

type backendFake struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []ports.GenerationRequest

	fragments  []string
	streamErr  error
	streamCall int
	stopped    bool
}

func (f *backendFake) Generate(_ context.Context, req ports.GenerationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("backendFake: no response left")
	}
	out := f.responses[0]
	f.responses = f.responses[1:]
	return out, nil
}

func (f *backendFake) GenerateStream(_ context.Context, req ports.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		f.streamCall++
		f.requests = append(f.requests, req)
		fragments := f.fragments
		streamErr := f.streamErr
		f.mu.Unlock()

		for _, fragment := range fragments {
			if !yield(fragment, nil) {
				f.mu.Lock()
				f.stopped = true
				f.mu.Unlock()
				return
			}
		}
		if streamErr != nil {
			yield("", streamErr)
		}
	}
}

func (f *backendFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type answerLogFake struct {
	mu      sync.Mutex
	entries []*domain.AnswerResult
}

func (f *answerLogFake) Append(_ context.Context, answer *domain.AnswerResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, answer)
	return nil
}

type observerFake struct {
	ports.NopObserver
	mu         sync.Mutex
	ungrounded int
	retries    int
	failures   int
	answers    int
	retrievals int
}

func (o *observerFake) ObserveRetrieval(*domain.RetrievalResult, time.Duration) {
	o.mu.Lock()
	o.retrievals++
	o.mu.Unlock()
}

func (o *observerFake) ObserveAnswer(string, *domain.AnswerResult, time.Duration) {
	o.mu.Lock()
	o.answers++
	o.mu.Unlock()
}

func (o *observerFake) ObserveFailure(string, error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *observerFake) ObserveUngroundedCitations(n int) {
	o.mu.Lock()
	o.ungrounded += n
	o.mu.Unlock()
}

func (o *observerFake) ObserveFormatRetry() {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}

func policyCorpus() []domain.Chunk {
	billing := domain.ChunkMetadata{Category: "billing", AppliesTo: []string{"Pro", "Team"}}
	return []domain.Chunk{
		{
			ChunkID:     "refund-policy::c0000",
			DocID:       "refund-policy",
			SectionPath: "Refund Policy > Eligibility",
			Text:        "Pro and Team customers can request a full refund within 14 days of purchase. Requests after 14 days are not eligible.",
			Metadata:    billing,
		},
		{
			ChunkID:     "refund-policy::c0001",
			DocID:       "refund-policy",
			SectionPath: "Refund Policy > Processing",
			Text:        "Refunds are issued to the original payment method within 5 business days.",
			Metadata:    billing,
		},
		{
			ChunkID:     "privacy-policy::c0000",
			DocID:       "privacy-policy",
			SectionPath: "Privacy Policy > Retention",
			Text:        "We retain account data for 30 days after account deletion.",
			Metadata:    domain.ChunkMetadata{Category: "privacy"},
		},
		{
			ChunkID:     "support::c0000",
			DocID:       "support",
			SectionPath: "Support > Response Times",
			Text:        "Support tickets receive a first response within 24 hours on the Pro plan.",
			Metadata:    domain.ChunkMetadata{Category: "support"},
		},
	}
}

type testPipeline struct {
	holder    *CorpusHolder
	retriever *Retriever
	answers   *AnswerUseCase
	backend   *backendFake
	log       *answerLogFake
	observer  *observerFake
	embedder  *hashEmbedder
}

func newTestPipeline(t *testing.T, chunks []domain.Chunk, backend *backendFake, cfg domain.PipelineConfig) *testPipeline {
	t.Helper()

	embedder := &hashEmbedder{}
	store := memory.New()
	vectors, err := embedder.Embed(context.Background(), chunkTexts(chunks))
	if err != nil {
		t.Fatalf("embed corpus: %v", err)
	}
	if err := store.Upsert(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("upsert corpus: %v", err)
	}

	holder := NewCorpusHolder(lexical.Builder(lexical.DefaultParams()))
	if _, err := holder.Rebuild(chunks); err != nil {
		t.Fatalf("rebuild corpus: %v", err)
	}

	observer := &observerFake{}
	log := &answerLogFake{}
	retriever := NewRetriever(holder, embedder, store, nil, cfg, observer, nil)
	return &testPipeline{
		holder:    holder,
		retriever: retriever,
		answers:   NewAnswerUseCase(retriever, backend, log, cfg, observer, nil),
		backend:   backend,
		log:       log,
		observer:  observer,
		embedder:  embedder,
	}
}

func chunkTexts(chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
