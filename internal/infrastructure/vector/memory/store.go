// Package memory is an in-process vector index with brute-force cosine search.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector"
)

type entry struct {
	chunk  domain.Chunk
	vector []float32
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	dim     int
}

func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

func (s *Store) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "memory upsert", fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "memory upsert", fmt.Errorf("empty vector for %s", chunk.ChunkID))
		}
		if s.dim == 0 {
			s.dim = len(vectors[i])
		}
		if len(vectors[i]) != s.dim {
			return domain.WrapError(domain.ErrInvalidInput, "memory upsert", fmt.Errorf("vector size %d, index uses %d", len(vectors[i]), s.dim))
		}
		v := make([]float32, len(vectors[i]))
		copy(v, vectors[i])
		s.entries[chunk.ChunkID] = entry{chunk: chunk, vector: v}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, embedding []float32, topN int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]domain.VectorHit, 0, len(s.entries))
	for id, e := range s.entries {
		if !filter.Matches(e.chunk.Metadata) {
			continue
		}
		hits = append(hits, domain.VectorHit{ChunkID: id, Score: vector.SimilarityScore(vector.Cosine(embedding, e.vector))})
	}
	return vector.SortHits(hits, topN), nil
}

func (s *Store) Prune(_ context.Context, keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	live := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		live[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		if _, ok := live[id]; !ok {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
