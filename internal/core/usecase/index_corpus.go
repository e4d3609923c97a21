package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

const defaultEmbedBatch = 32

// IndexCorpusUseCase ingests the corpus, embeds every chunk into the vector index and
// announces the new corpus revision.
type IndexCorpusUseCase struct {
	ingest    *IngestCorpusUseCase
	embedder  ports.Embedder
	vectors   ports.VectorIndex
	events    ports.CorpusEvents
	batchSize int
	logger    *slog.Logger

	// OnProgress, when set, is called after each embedded batch.
	OnProgress func(done, total int)
}

func NewIndexCorpusUseCase(
	ingest *IngestCorpusUseCase,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	events ports.CorpusEvents,
	batchSize int,
	logger *slog.Logger,
) *IndexCorpusUseCase {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexCorpusUseCase{
		ingest:    ingest,
		embedder:  embedder,
		vectors:   vectors,
		events:    events,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (uc *IndexCorpusUseCase) Reindex(ctx context.Context) (ports.IndexReport, error) {
	chunks, docs, err := uc.ingest.Ingest(ctx)
	if err != nil {
		return ports.IndexReport{Documents: docs}, err
	}
	report := ports.IndexReport{Documents: docs, Chunks: len(chunks)}

	for start := 0; start < len(chunks); start += uc.batchSize {
		end := min(start+uc.batchSize, len(chunks))
		batch := chunks[start:end]

		vectors, err := uc.embed(ctx, batch)
		if err != nil {
			return report, err
		}
		if err := uc.vectors.Upsert(ctx, batch, vectors); err != nil {
			return report, fmt.Errorf("upsert chunks in vector index: %w", err)
		}
		report.Embedded += len(batch)
		if uc.OnProgress != nil {
			uc.OnProgress(report.Embedded, len(chunks))
		}
	}

	keep := make([]string, len(chunks))
	for i, chunk := range chunks {
		keep[i] = chunk.ChunkID
	}
	if err := uc.vectors.Prune(ctx, keep); err != nil {
		return report, fmt.Errorf("prune vector index: %w", err)
	}

	report.Revision = uint64(time.Now().UnixMilli())
	if uc.events != nil {
		if err := uc.events.PublishCorpusUpdated(ctx, report.Revision); err != nil {
			return report, fmt.Errorf("publish corpus updated: %w", err)
		}
	}
	uc.logger.Info("corpus_indexed",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"revision", report.Revision,
	)
	return report, nil
}

func (uc *IndexCorpusUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}
