package usecase

import (
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/text"
)

// EvidenceGate decides whether retrieval found enough support to attempt generation.
type EvidenceGate struct {
	minScore      float64
	minTopicTerms int
	minKeywordLen int
}

func NewEvidenceGate(cfg domain.PipelineConfig) EvidenceGate {
	return EvidenceGate{
		minScore:      cfg.MinEvidenceScore,
		minTopicTerms: cfg.MinTopicTerms,
		minKeywordLen: cfg.MinKeywordLength,
	}
}

// Admits rejects an empty result, a top fused score at or below the threshold, and a
// top candidate that shares too few meaningful terms with the question. A question
// with no meaningful terms skips the topic check.
func (g EvidenceGate) Admits(question string, candidates []domain.ScoredCandidate) (bool, domain.GateReason) {
	if len(candidates) == 0 {
		return false, domain.GateNoCandidates
	}
	top := candidates[0]
	if top.FusedScore <= g.minScore {
		return false, domain.GateLowConfidence
	}

	keywords := text.Keywords(question, g.minKeywordLen)
	if len(keywords) == 0 || g.minTopicTerms == 0 {
		return true, domain.GateAdmitted
	}
	need := min(g.minTopicTerms, len(keywords))
	tokens := text.TokenSet(top.Chunk.SectionPath + " " + top.Chunk.Text)
	if text.Overlap(keywords, tokens) < need {
		return false, domain.GateTopicMismatch
	}
	return true, domain.GateAdmitted
}
