// Package lexical implements the in-memory BM25 keyword index.
package lexical

import (
	"math"
	"sort"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/text"
)

type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: 1.2, B: 0.75}
}

type posting struct {
	doc int
	tf  int
}

// Index is built once and never mutated, so concurrent Search calls need no locking.
type Index struct {
	params   Params
	chunkIDs []string
	lengths  []int
	avgLen   float64
	postings map[string][]posting
}

func BuildIndex(chunks []domain.Chunk, params Params) *Index {
	if params.K1 <= 0 {
		params.K1 = DefaultParams().K1
	}
	if params.B < 0 || params.B > 1 {
		params.B = DefaultParams().B
	}

	idx := &Index{
		params:   params,
		chunkIDs: make([]string, len(chunks)),
		lengths:  make([]int, len(chunks)),
		postings: make(map[string][]posting),
	}

	total := 0
	for i, chunk := range chunks {
		idx.chunkIDs[i] = chunk.ChunkID
		tokens := text.Tokenize(chunk.SectionPath + " " + chunk.Text)
		idx.lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		for term, freq := range tf {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, tf: freq})
		}
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(total) / float64(len(chunks))
	}
	return idx
}

// Builder adapts BuildIndex to the ports.LexicalBuilder signature.
func Builder(params Params) ports.LexicalBuilder {
	return func(chunks []domain.Chunk) ports.LexicalIndex {
		return BuildIndex(chunks, params)
	}
}

func (idx *Index) Len() int {
	return len(idx.chunkIDs)
}

// Score returns the BM25 score of every chunk matching at least one query term.
func (idx *Index) Score(query string) map[string]float64 {
	n := len(idx.chunkIDs)
	if n == 0 {
		return map[string]float64{}
	}

	scores := make(map[int]float64)
	N := float64(n)
	for _, term := range text.QueryTerms(query) {
		plist := idx.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log((N-df+0.5)/(df+0.5) + 1)
		for _, p := range plist {
			tf := float64(p.tf)
			dl := float64(idx.lengths[p.doc])
			norm := 1 - idx.params.B
			if idx.avgLen > 0 {
				norm += idx.params.B * dl / idx.avgLen
			}
			scores[p.doc] += idf * (tf * (idx.params.K1 + 1)) / (tf + idx.params.K1*norm)
		}
	}

	out := make(map[string]float64, len(scores))
	for doc, score := range scores {
		if score > 0 {
			out[idx.chunkIDs[doc]] = score
		}
	}
	return out
}

// Search returns at most limit hits ordered by score descending, ties broken by chunk id.
// A non-positive limit returns every matching chunk.
func (idx *Index) Search(query string, limit int) []domain.LexicalHit {
	scores := idx.Score(query)
	hits := make([]domain.LexicalHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, domain.LexicalHit{ChunkID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
