package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

// CorpusSnapshot is one immutable build of the corpus: the ordered chunk set, an id
// lookup and the lexical index built over exactly those chunks.
type CorpusSnapshot struct {
	Generation uint64
	Chunks     []domain.Chunk
	Lexical    ports.LexicalIndex
	BuiltAt    time.Time

	byID map[string]int
}

func (s *CorpusSnapshot) Chunk(id string) (domain.Chunk, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Chunk{}, false
	}
	return s.Chunks[i], true
}

func (s *CorpusSnapshot) Len() int {
	return len(s.Chunks)
}

// CorpusHolder publishes the current snapshot. Readers load the pointer once per query
// and keep using that snapshot even if a rebuild swaps in a newer one meanwhile.
type CorpusHolder struct {
	current    atomic.Pointer[CorpusSnapshot]
	generation atomic.Uint64
	build      ports.LexicalBuilder
}

func NewCorpusHolder(build ports.LexicalBuilder) *CorpusHolder {
	return &CorpusHolder{build: build}
}

func (h *CorpusHolder) Load() (*CorpusSnapshot, error) {
	snap := h.current.Load()
	if snap == nil {
		return nil, domain.WrapError(domain.ErrIndexNotBuilt, "load corpus snapshot", fmt.Errorf("no snapshot published"))
	}
	return snap, nil
}

// Rebuild builds a fresh snapshot from chunks and swaps it in atomically. Duplicate
// chunk ids are rejected.
func (h *CorpusHolder) Rebuild(chunks []domain.Chunk) (*CorpusSnapshot, error) {
	owned := make([]domain.Chunk, len(chunks))
	copy(owned, chunks)

	byID := make(map[string]int, len(owned))
	for i, chunk := range owned {
		if chunk.ChunkID == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "rebuild corpus", fmt.Errorf("chunk %d has empty chunk_id", i))
		}
		if _, dup := byID[chunk.ChunkID]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "rebuild corpus", fmt.Errorf("duplicate chunk_id %q", chunk.ChunkID))
		}
		byID[chunk.ChunkID] = i
	}

	snap := &CorpusSnapshot{
		Generation: h.generation.Add(1),
		Chunks:     owned,
		Lexical:    h.build(owned),
		BuiltAt:    time.Now().UTC(),
		byID:       byID,
	}
	h.current.Store(snap)
	return snap, nil
}

// Ready reports ErrIndexNotBuilt before the first build and ErrEmptyCorpus when the
// published snapshot holds no chunks.
func (h *CorpusHolder) Ready(context.Context) error {
	snap, err := h.Load()
	if err != nil {
		return err
	}
	if snap.Len() == 0 {
		return domain.WrapError(domain.ErrEmptyCorpus, "corpus readiness", fmt.Errorf("snapshot %d has no chunks", snap.Generation))
	}
	return nil
}

// CorpusLoader reloads the chunk artifact into the holder.
type CorpusLoader struct {
	source   ports.ChunkSource
	holder   *CorpusHolder
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewCorpusLoader(source ports.ChunkSource, holder *CorpusHolder, observer ports.PipelineObserver, logger *slog.Logger) *CorpusLoader {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CorpusLoader{source: source, holder: holder, observer: observer, logger: logger}
}

func (l *CorpusLoader) Reload(ctx context.Context) (uint64, error) {
	chunks, err := l.source.LoadChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("load chunks: %w", err)
	}
	snap, err := l.holder.Rebuild(chunks)
	if err != nil {
		return 0, err
	}
	l.observer.ObserveCorpusReload(snap.Len(), snap.Generation)
	l.logger.Info("corpus_reloaded", "generation", snap.Generation, "chunks", snap.Len())
	return snap.Generation, nil
}
