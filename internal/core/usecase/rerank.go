package usecase

import (
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/text"
)

// selectEvidence picks the passages handed to generation. It is a stable filter over
// fused order: weak candidates relative to the top are dropped, near-duplicate
// passages of one section are skipped, and the rest is capped.
func selectEvidence(candidates []domain.ScoredCandidate, topK int, cfg domain.PipelineConfig) []domain.ScoredCandidate {
	if len(candidates) == 0 {
		return []domain.ScoredCandidate{}
	}

	limit := cfg.MaxEvidence
	if topK > 0 && topK < limit {
		limit = topK
	}
	floor := max(cfg.RerankMinScore, cfg.RerankRelativeFloor*candidates[0].FusedScore)

	out := make([]domain.ScoredCandidate, 0, limit)
	selectedTokens := make([]map[string]struct{}, 0, limit)
	for i, c := range candidates {
		if len(out) == limit {
			break
		}
		// The top candidate already passed the gate and is always kept.
		if i > 0 && c.FusedScore < floor {
			continue
		}

		tokens := text.TokenSet(c.Chunk.Text)
		if cfg.SectionDiversity && isNearDuplicate(c, tokens, out, selectedTokens, cfg.NearDuplicateJaccard) {
			continue
		}
		out = append(out, c)
		selectedTokens = append(selectedTokens, tokens)
	}
	return out
}

func isNearDuplicate(
	c domain.ScoredCandidate,
	tokens map[string]struct{},
	selected []domain.ScoredCandidate,
	selectedTokens []map[string]struct{},
	threshold float64,
) bool {
	for i, s := range selected {
		if s.Chunk.DocID != c.Chunk.DocID || s.Chunk.SectionPath != c.Chunk.SectionPath {
			continue
		}
		if text.Jaccard(tokens, selectedTokens[i]) >= threshold {
			return true
		}
	}
	return false
}
