package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

// IngestCorpusUseCase turns raw corpus files into the chunk artifact.
type IngestCorpusUseCase struct {
	loader  ports.DocumentLoader
	chunker ports.Chunker
	sink    ports.ChunkSink
}

func NewIngestCorpusUseCase(loader ports.DocumentLoader, chunker ports.Chunker, sink ports.ChunkSink) *IngestCorpusUseCase {
	return &IngestCorpusUseCase{
		loader:  loader,
		chunker: chunker,
		sink:    sink,
	}
}

// Ingest parses every document, chunks it and saves the chunk artifact. It fails with
// ErrEmptyCorpus when nothing chunkable was found.
func (uc *IngestCorpusUseCase) Ingest(ctx context.Context) ([]domain.Chunk, int, error) {
	docs, err := uc.loader.LoadDocuments(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load documents: %w", err)
	}

	chunks, err := uc.chunk(docs)
	if err != nil {
		return nil, len(docs), err
	}

	if err := uc.sink.SaveChunks(ctx, chunks); err != nil {
		return nil, len(docs), fmt.Errorf("save chunks: %w", err)
	}
	return chunks, len(docs), nil
}

func (uc *IngestCorpusUseCase) chunk(docs []domain.SourceDocument) ([]domain.Chunk, error) {
	seen := make(map[string]string, len(docs)*4)
	var chunks []domain.Chunk
	for _, doc := range docs {
		if doc.DocID == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "chunk documents", fmt.Errorf("document %s has no doc_id", doc.SourceFile))
		}
		for _, chunk := range uc.chunker.ChunkDocument(doc) {
			if prev, dup := seen[chunk.ChunkID]; dup {
				return nil, domain.WrapError(
					domain.ErrInvalidInput,
					"chunk documents",
					fmt.Errorf("duplicate chunk_id %q from %s and %s", chunk.ChunkID, prev, doc.SourceFile),
				)
			}
			seen[chunk.ChunkID] = doc.SourceFile
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "chunk documents", errors.New("chunking produced zero chunks"))
	}
	return chunks, nil
}
