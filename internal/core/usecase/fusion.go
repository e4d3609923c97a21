package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/text"
)

type chunkLookup interface {
	Chunk(id string) (domain.Chunk, bool)
}

type fusedSignals struct {
	lexical float64
	vector  float64
}

// fuseCandidates merges both retrieval signals into one ranked list. A chunk found by
// only one signal stays a candidate; the missing signal contributes zero. Hits whose
// chunk is unknown to the snapshot are returned as stale ids and skipped.
func fuseCandidates(
	question string,
	lexical []domain.LexicalHit,
	vector []domain.VectorHit,
	lookup chunkLookup,
	cfg domain.PipelineConfig,
) ([]domain.ScoredCandidate, []string) {
	acc := make(map[string]fusedSignals, len(lexical)+len(vector))
	maxLexical, maxVector := 0.0, 0.0
	for _, hit := range lexical {
		s := acc[hit.ChunkID]
		s.lexical = max(s.lexical, hit.Score)
		acc[hit.ChunkID] = s
		maxLexical = max(maxLexical, hit.Score)
	}
	for _, hit := range vector {
		s := acc[hit.ChunkID]
		s.vector = max(s.vector, hit.Score)
		acc[hit.ChunkID] = s
		maxVector = max(maxVector, hit.Score)
	}

	lexicalScale := max(maxLexical, cfg.LexicalReference)
	vectorScale := max(maxVector, 1.0)
	terms := boostTerms(question, cfg.MinKeywordLength)

	out := make([]domain.ScoredCandidate, 0, len(acc))
	var stale []string
	for id, s := range acc {
		chunk, ok := lookup.Chunk(id)
		if !ok {
			stale = append(stale, id)
			continue
		}

		normLexical := normalizeSignal(s.lexical, lexicalScale)
		normVector := normalizeSignal(s.vector, vectorScale)
		boost := keywordBoost(terms, chunk, cfg.MaxKeywordBoost)

		out = append(out, domain.ScoredCandidate{
			Chunk:        chunk,
			LexicalScore: normLexical,
			VectorScore:  normVector,
			KeywordBoost: boost,
			FusedScore: cfg.VectorWeight*normVector +
				cfg.LexicalWeight*normLexical +
				boost +
				sectionBoost(chunk.SectionPath, cfg.SectionBoosts),
		})
	}

	sortCandidates(out)
	sort.Strings(stale)
	return out, stale
}

func sortCandidates(candidates []domain.ScoredCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		return candidates[i].Chunk.ChunkID < candidates[j].Chunk.ChunkID
	})
}

func normalizeSignal(v, scale float64) float64 {
	if v <= 0 || scale <= 0 {
		return 0
	}
	return min(v/scale, 1)
}

func boostTerms(question string, minLen int) []string {
	terms := text.Keywords(question, minLen)
	if len(terms) == 0 {
		terms = text.QueryTerms(question)
	}
	return terms
}

// keywordBoost rewards chunks whose text contains the query's meaningful terms,
// scaled to at most maxBoost when every term is present. Section headings are
// scored by sectionBoost only.
func keywordBoost(terms []string, chunk domain.Chunk, maxBoost float64) float64 {
	if len(terms) == 0 || maxBoost <= 0 {
		return 0
	}
	tokens := text.TokenSet(chunk.Text)
	return maxBoost * float64(text.Overlap(terms, tokens)) / float64(len(terms))
}

func sectionBoost(sectionPath string, boosts map[string]float64) float64 {
	if len(boosts) == 0 || sectionPath == "" {
		return 0
	}
	section := strings.ToLower(sectionPath)
	best := 0.0
	for term, boost := range boosts {
		if term != "" && strings.Contains(section, strings.ToLower(term)) {
			best = max(best, boost)
		}
	}
	return best
}

func trimCandidates(candidates []domain.ScoredCandidate, limit int) []domain.ScoredCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func filterCandidates(candidates []domain.ScoredCandidate, filter domain.SearchFilter) []domain.ScoredCandidate {
	if filter.IsZero() {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if filter.Matches(c.Chunk.Metadata) {
			out = append(out, c)
		}
	}
	return out
}
