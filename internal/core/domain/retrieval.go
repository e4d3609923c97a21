package domain

import "strings"

type SearchFilter struct {
	Category  string   `json:"category,omitempty"`
	AppliesTo []string `json:"applies_to,omitempty"`
}

func (f SearchFilter) IsZero() bool {
	return f.Category == "" && len(f.AppliesTo) == 0
}

// Matches reports whether chunk metadata satisfies the filter. Category is an exact
// (case-insensitive) match; every applies_to value must occur in one of the chunk's
// applies_to entries.
func (f SearchFilter) Matches(meta ChunkMetadata) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, meta.Category) {
		return false
	}
	for _, want := range f.AppliesTo {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		found := false
		for _, have := range meta.AppliesTo {
			if strings.Contains(strings.ToLower(have), want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type LexicalHit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type VectorHit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type ScoredCandidate struct {
	Chunk        Chunk   `json:"chunk"`
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`
	KeywordBoost float64 `json:"keyword_boost"`
	FusedScore   float64 `json:"fused_score"`
}

type GateReason string

const (
	GateAdmitted      GateReason = "ok"
	GateNoCandidates  GateReason = "no_candidates"
	GateLowConfidence GateReason = "low_retrieval_confidence"
	GateTopicMismatch GateReason = "topic_mismatch"
)

// RetrievalResult is the ordered candidate list for one query. Candidates are sorted
// by fused score descending, ties broken by chunk id ascending. Evidence holds the
// reranked subset handed to generation and is empty when the gate rejected.
type RetrievalResult struct {
	Query      string            `json:"query"`
	TopK       int               `json:"top_k"`
	Filter     SearchFilter      `json:"filter"`
	Candidates []ScoredCandidate `json:"candidates"`
	Evidence   []ScoredCandidate `json:"evidence"`
	TopScore   float64           `json:"top_score"`
	GatePassed bool              `json:"gate_passed"`
	GateReason GateReason        `json:"gate_reason"`
	Generation uint64            `json:"generation"`
	CacheHit   bool              `json:"cache_hit"`
}

func (r *RetrievalResult) Top() (ScoredCandidate, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return ScoredCandidate{}, false
	}
	return r.Candidates[0], true
}
