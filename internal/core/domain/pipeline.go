package domain

import (
	"fmt"
	"time"
)

// PipelineConfig holds every tunable threshold and weight of the retrieval and
// answering pipeline.
type PipelineConfig struct {
	VectorWeight     float64            `yaml:"vector_weight"`
	LexicalWeight    float64            `yaml:"lexical_weight"`
	MaxKeywordBoost  float64            `yaml:"max_keyword_boost"`
	LexicalReference float64            `yaml:"lexical_reference"`
	SectionBoosts    map[string]float64 `yaml:"section_boosts"`
	CandidatePool    int                `yaml:"candidate_pool"`

	MinEvidenceScore float64 `yaml:"min_evidence_score"`
	MinTopicTerms    int     `yaml:"min_topic_terms"`
	MinKeywordLength int     `yaml:"min_keyword_length"`

	RerankMinScore       float64 `yaml:"rerank_min_score"`
	RerankRelativeFloor  float64 `yaml:"rerank_relative_floor"`
	MaxEvidence          int     `yaml:"max_evidence"`
	SectionDiversity     bool    `yaml:"section_diversity"`
	NearDuplicateJaccard float64 `yaml:"near_duplicate_jaccard"`

	FormatRetries     int           `yaml:"format_retries"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`

	InferCategory bool           `yaml:"infer_category"`
	CategoryRules []CategoryRule `yaml:"category_rules"`
}

// CategoryRule maps question phrases to a corpus category. Rules are tried in order.
type CategoryRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		VectorWeight:         0.65,
		LexicalWeight:        0.35,
		MaxKeywordBoost:      0.20,
		LexicalReference:     0,
		CandidatePool:        20,
		MinEvidenceScore:     0.30,
		MinTopicTerms:        1,
		MinKeywordLength:     4,
		RerankMinScore:       0.25,
		RerankRelativeFloor:  0.50,
		MaxEvidence:          5,
		SectionDiversity:     true,
		NearDuplicateJaccard: 0.80,
		FormatRetries:        1,
		GenerationTimeout:    180 * time.Second,
		DefaultTopK:          5,
		MaxTopK:              10,
		InferCategory:        true,
		CategoryRules: []CategoryRule{
			{Category: "billing", Keywords: []string{"refund", "billing", "plan", "pricing", "downgrade", "upgrade", "past due"}},
			{Category: "privacy", Keywords: []string{"privacy", "retention", "delete", "gdpr", "data"}},
			{Category: "support", Keywords: []string{"support", "response time", "sla", "ticket"}},
			{Category: "operations", Keywords: []string{"incident", "outage", "status", "downtime"}},
		},
	}
}

func (c PipelineConfig) Validate() error {
	unit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
		return nil
	}
	checks := []error{
		unit("vector_weight", c.VectorWeight),
		unit("lexical_weight", c.LexicalWeight),
		unit("max_keyword_boost", c.MaxKeywordBoost),
		unit("min_evidence_score", c.MinEvidenceScore),
		unit("rerank_min_score", c.RerankMinScore),
		unit("rerank_relative_floor", c.RerankRelativeFloor),
		unit("near_duplicate_jaccard", c.NearDuplicateJaccard),
	}
	for _, err := range checks {
		if err != nil {
			return WrapError(ErrInvalidInput, "validate pipeline config", err)
		}
	}
	for section, boost := range c.SectionBoosts {
		if err := unit("section_boosts["+section+"]", boost); err != nil {
			return WrapError(ErrInvalidInput, "validate pipeline config", err)
		}
	}

	switch {
	case c.VectorWeight+c.LexicalWeight <= 0:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("fusion weights must not both be zero"))
	case c.LexicalReference < 0:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("lexical_reference must be >= 0"))
	case c.CandidatePool <= 0:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("candidate_pool must be > 0"))
	case c.MinTopicTerms < 0:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("min_topic_terms must be >= 0"))
	case c.MinKeywordLength < 1:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("min_keyword_length must be >= 1"))
	case c.MaxEvidence <= 0:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("max_evidence must be > 0"))
	case c.FormatRetries < 0 || c.FormatRetries > 1:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("format_retries must be 0 or 1"))
	case c.GenerationTimeout <= 0:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("generation_timeout must be > 0"))
	case c.DefaultTopK <= 0 || c.MaxTopK < c.DefaultTopK:
		return WrapError(ErrInvalidInput, "validate pipeline config", fmt.Errorf("top_k bounds invalid: default=%d max=%d", c.DefaultTopK, c.MaxTopK))
	}
	return nil
}
