package ports

import (
	"context"
	"iter"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// AnswerService is the inbound contract for grounded question answering.
type AnswerService interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.AnswerResult, error)
	AskStream(ctx context.Context, req domain.AskRequest) (iter.Seq[domain.StreamEvent], error)
}

// ReadinessProbe reports whether the service can answer queries.
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// CorpusIndexer rebuilds the searchable corpus from the configured sources.
type CorpusIndexer interface {
	Reindex(ctx context.Context) (IndexReport, error)
}

// CorpusReloader swaps the in-memory corpus snapshot after an external reindex.
type CorpusReloader interface {
	Reload(ctx context.Context) (uint64, error)
}
