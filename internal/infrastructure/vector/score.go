// Package vector holds score-scale helpers shared by the vector index adapters.
package vector

import (
	"math"
	"sort"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// SimilarityScore maps a cosine similarity in [-1,1] onto [0,1]. Negative similarity
// carries no evidence and becomes zero.
func SimilarityScore(cosine float64) float64 {
	if math.IsNaN(cosine) || cosine <= 0 {
		return 0
	}
	return min(cosine, 1)
}

// DistanceScore converts a cosine distance (1 - similarity) into a similarity score.
func DistanceScore(distance float64) float64 {
	return SimilarityScore(1 - distance)
}

// SortHits orders hits by score descending, then chunk id ascending, and truncates to
// topN when topN is positive.
func SortHits(hits []domain.VectorHit, topN int) []domain.VectorHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits
}

func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
