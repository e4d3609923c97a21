package ports

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// LexicalIndex is an immutable keyword index over one corpus snapshot.
type LexicalIndex interface {
	Search(query string, n int) []domain.LexicalHit
	Len() int
}

// LexicalBuilder builds a fresh lexical index for a chunk set.
type LexicalBuilder func(chunks []domain.Chunk) LexicalIndex

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs similarity search over chunk embeddings. Scores are in [0,1],
// higher is more similar, and hits are ordered by score then chunk id.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Query(ctx context.Context, embedding []float32, topN int, filter domain.SearchFilter) ([]domain.VectorHit, error)
	Count(ctx context.Context) (int, error)
	// Prune removes every vector whose chunk id is not in keep. An empty keep set
	// removes nothing.
	Prune(ctx context.Context, keep []string) error
}

// AnswerBackend is the generation model.
type AnswerBackend interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// GenerateStream yields text fragments as they are produced. Stopping the
	// iteration early releases the underlying connection.
	GenerateStream(ctx context.Context, req GenerationRequest) iter.Seq2[string, error]
}

// RetrievalCache memoizes retrieval results for one corpus generation.
type RetrievalCache interface {
	Get(key string, generation uint64) (*domain.RetrievalResult, bool)
	Put(key string, generation uint64, result *domain.RetrievalResult)
}

// ChunkSource loads the chunk artifact produced by ingestion.
type ChunkSource interface {
	LoadChunks(ctx context.Context) ([]domain.Chunk, error)
}

// ChunkSink persists the chunk artifact produced by ingestion.
type ChunkSink interface {
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
}

// DocumentLoader parses the raw corpus into documents.
type DocumentLoader interface {
	LoadDocuments(ctx context.Context) ([]domain.SourceDocument, error)
}

// Chunker splits documents into retrievable chunks.
type Chunker interface {
	ChunkDocument(doc domain.SourceDocument) []domain.Chunk
}

// ObjectStorage stores corpus artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// CorpusEvents publishes and consumes corpus lifecycle events.
type CorpusEvents interface {
	PublishReindexRequested(ctx context.Context, reason string) error
	SubscribeReindexRequested(ctx context.Context, handler func(context.Context, ReindexRequest) error) error
	PublishCorpusUpdated(ctx context.Context, revision uint64) error
	SubscribeCorpusUpdated(ctx context.Context, handler func(context.Context, uint64) error) error
}

// AnswerLog records every answered question for audit.
type AnswerLog interface {
	Append(ctx context.Context, answer *domain.AnswerResult) error
}

// PipelineObserver receives pipeline outcomes for metrics.
type PipelineObserver interface {
	ObserveRetrieval(result *domain.RetrievalResult, duration time.Duration)
	ObserveAnswer(endpoint string, answer *domain.AnswerResult, duration time.Duration)
	ObserveFailure(endpoint string, err error)
	ObserveUngroundedCitations(count int)
	ObserveFormatRetry()
	ObserveCorpusReload(chunks int, generation uint64)
}

type NopObserver struct{}

func (NopObserver) ObserveRetrieval(*domain.RetrievalResult, time.Duration) {}
func (NopObserver) ObserveAnswer(string, *domain.AnswerResult, time.Duration) {}
func (NopObserver) ObserveFailure(string, error) {}
func (NopObserver) ObserveUngroundedCitations(int) {}
func (NopObserver) ObserveFormatRetry() {}
func (NopObserver) ObserveCorpusReload(int, uint64) {}
