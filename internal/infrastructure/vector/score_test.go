package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func TestSimilarityScore(t *testing.T) {
	assert.Equal(t, 0.0, SimilarityScore(-0.4))
	assert.Equal(t, 0.7, SimilarityScore(0.7))
	assert.Equal(t, 1.0, SimilarityScore(1.0000001))
	assert.InDelta(t, 0.75, DistanceScore(0.25), 1e-12)
	assert.Equal(t, 0.0, DistanceScore(1.6))
}

func TestSortHits(t *testing.T) {
	hits := []domain.VectorHit{
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "c", Score: 0.9},
		{ChunkID: "a", Score: 0.5},
	}
	got := SortHits(hits, 2)
	assert.Equal(t, []domain.VectorHit{{ChunkID: "c", Score: 0.9}, {ChunkID: "a", Score: 0.5}}, got)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}
