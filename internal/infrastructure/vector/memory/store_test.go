package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func TestStoreQueryOrdersAndFilters(t *testing.T) {
	store := New()
	chunks := []domain.Chunk{
		{ChunkID: "a", Metadata: domain.ChunkMetadata{Category: "billing"}},
		{ChunkID: "b", Metadata: domain.ChunkMetadata{Category: "privacy"}},
		{ChunkID: "c", Metadata: domain.ChunkMetadata{Category: "billing"}},
	}
	vectors := [][]float32{{1, 0}, {0.9, 0.1}, {-1, 0}}
	if err := store.Upsert(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	hits, err := store.Query(context.Background(), []float32{1, 0}, 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 3 || hits[0].ChunkID != "a" || hits[1].ChunkID != "b" {
		t.Fatalf("unexpected order: %+v", hits)
	}
	if hits[2].Score != 0 {
		t.Fatalf("opposite vector must score zero, got %v", hits[2].Score)
	}

	hits, err = store.Query(context.Background(), []float32{1, 0}, 10, domain.SearchFilter{Category: "billing"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "a" || hits[1].ChunkID != "c" {
		t.Fatalf("unexpected filtered hits: %+v", hits)
	}

	n, _ := store.Count(context.Background())
	if n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}
}

func TestStoreUpsertRejectsDimensionMismatch(t *testing.T) {
	store := New()
	err := store.Upsert(context.Background(), []domain.Chunk{{ChunkID: "a"}, {ChunkID: "b"}}, [][]float32{{1, 0}, {1, 0, 0}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStorePruneKeepsOnlyListedChunks(t *testing.T) {
	store := New()
	chunks := []domain.Chunk{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	if err := store.Upsert(context.Background(), chunks, [][]float32{{1, 0}, {0, 1}, {1, 1}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := store.Prune(context.Background(), nil); err != nil {
		t.Fatalf("Prune(nil) error = %v", err)
	}
	if n, _ := store.Count(context.Background()); n != 3 {
		t.Fatalf("empty keep set must not remove entries, got %d", n)
	}

	if err := store.Prune(context.Background(), []string{"a", "c", "unknown"}); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	hits, _ := store.Query(context.Background(), []float32{0, 1}, 10, domain.SearchFilter{})
	if len(hits) != 2 || hits[0].ChunkID != "c" || hits[1].ChunkID != "a" {
		t.Fatalf("unexpected hits after prune: %+v", hits)
	}
}
