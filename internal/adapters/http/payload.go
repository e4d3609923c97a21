package httpadapter

import (
	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type askRequest struct {
	Question  string   `json:"question"`
	TopK      int      `json:"top_k"`
	Category  string   `json:"category"`
	AppliesTo []string `json:"applies_to"`
}

func (r askRequest) toDomain() domain.AskRequest {
	return domain.AskRequest{
		Question:  r.Question,
		TopK:      r.TopK,
		Category:  r.Category,
		AppliesTo: r.AppliesTo,
	}
}

type candidateSummary struct {
	ChunkID      string  `json:"chunk_id"`
	DocID        string  `json:"doc_id"`
	SectionPath  string  `json:"section_path"`
	Category     string  `json:"category,omitempty"`
	FusedScore   float64 `json:"score"`
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
	KeywordBoost float64 `json:"keyword_boost"`
	Evidence     bool    `json:"evidence"`
}

type retrievalDebug struct {
	TopK       int                `json:"top_k"`
	TopScore   float64            `json:"top_score"`
	GatePassed bool               `json:"gate_passed"`
	Reason     string             `json:"reason"`
	Results    []candidateSummary `json:"results"`
	TraceID    string             `json:"trace_id,omitempty"`
	Timings    *domain.Timings    `json:"timings_ms,omitempty"`
	Category   string             `json:"category,omitempty"`
	AppliesTo  []string           `json:"applies_to,omitempty"`
	CacheHit   bool               `json:"cache_hit"`
	Generation uint64             `json:"generation"`
}

type answerPayload struct {
	Question       string             `json:"question"`
	FinalAnswer    string             `json:"final_answer"`
	Citations      []domain.Citation  `json:"citations"`
	State          domain.AnswerState `json:"state"`
	Reason         string             `json:"reason,omitempty"`
	RetrievalDebug retrievalDebug     `json:"retrieval_debug"`
}

func toAnswerPayload(result *domain.AnswerResult) answerPayload {
	citations := result.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	debug := toRetrievalDebug(result.Retrieval)
	debug.TraceID = result.TraceID
	timings := result.Timings
	debug.Timings = &timings
	return answerPayload{
		Question:       result.Question,
		FinalAnswer:    result.FinalAnswer,
		Citations:      citations,
		State:          result.State,
		Reason:         result.Reason,
		RetrievalDebug: debug,
	}
}

// toRetrievalDebug summarises candidates in fused order and marks the reranked evidence.
func toRetrievalDebug(retrieval *domain.RetrievalResult) retrievalDebug {
	if retrieval == nil {
		return retrievalDebug{Results: []candidateSummary{}}
	}
	evidence := make(map[string]struct{}, len(retrieval.Evidence))
	for _, c := range retrieval.Evidence {
		evidence[c.Chunk.ChunkID] = struct{}{}
	}
	results := make([]candidateSummary, 0, len(retrieval.Candidates))
	for _, c := range retrieval.Candidates {
		_, isEvidence := evidence[c.Chunk.ChunkID]
		results = append(results, candidateSummary{
			ChunkID:      c.Chunk.ChunkID,
			DocID:        c.Chunk.DocID,
			SectionPath:  c.Chunk.SectionPath,
			Category:     c.Chunk.Metadata.Category,
			FusedScore:   c.FusedScore,
			VectorScore:  c.VectorScore,
			LexicalScore: c.LexicalScore,
			KeywordBoost: c.KeywordBoost,
			Evidence:     isEvidence,
		})
	}
	return retrievalDebug{
		TopK:       retrieval.TopK,
		TopScore:   retrieval.TopScore,
		GatePassed: retrieval.GatePassed,
		Reason:     string(retrieval.GateReason),
		Results:    results,
		Category:   retrieval.Filter.Category,
		AppliesTo:  retrieval.Filter.AppliesTo,
		CacheHit:   retrieval.CacheHit,
		Generation: retrieval.Generation,
	}
}

type errorPayload struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}
