package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/text"
)

const maxQuestionRunes = 2000

// Retriever runs lexical and vector retrieval in parallel, fuses them and applies the
// evidence gate and reranker.
type Retriever struct {
	holder   *CorpusHolder
	embedder ports.Embedder
	vectors  ports.VectorIndex
	cache    ports.RetrievalCache
	cfg      domain.PipelineConfig
	gate     EvidenceGate
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewRetriever(
	holder *CorpusHolder,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	cache ports.RetrievalCache,
	cfg domain.PipelineConfig,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *Retriever {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		holder:   holder,
		embedder: embedder,
		vectors:  vectors,
		cache:    cache,
		cfg:      cfg,
		gate:     NewEvidenceGate(cfg),
		observer: observer,
		logger:   logger,
	}
}

// normalizeRequest trims the question and resolves the default top_k.
func (r *Retriever) normalizeRequest(req domain.AskRequest) (domain.AskRequest, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "validate request", fmt.Errorf("question is required"))
	}
	if utf8.RuneCountInString(req.Question) > maxQuestionRunes {
		return req, domain.WrapError(domain.ErrInvalidInput, "validate request", fmt.Errorf("question exceeds %d characters", maxQuestionRunes))
	}
	if req.TopK == 0 {
		req.TopK = r.cfg.DefaultTopK
	}
	if req.TopK < 1 || req.TopK > r.cfg.MaxTopK {
		return req, domain.WrapError(domain.ErrInvalidInput, "validate request", fmt.Errorf("top_k must be within [1,%d]", r.cfg.MaxTopK))
	}
	req.Category = strings.TrimSpace(req.Category)
	return req, nil
}

func (r *Retriever) Retrieve(ctx context.Context, req domain.AskRequest) (*domain.RetrievalResult, error) {
	start := time.Now()
	req, err := r.normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	snap, err := r.holder.Load()
	if err != nil {
		return nil, err
	}

	filter := r.resolveFilter(req)
	key := cacheKey(req, filter)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key, snap.Generation); ok {
			hit := *cached
			hit.Query = req.Question
			hit.CacheHit = true
			r.observer.ObserveRetrieval(&hit, time.Since(start))
			return &hit, nil
		}
	}

	pool := max(r.cfg.CandidatePool, req.TopK)
	var (
		lexicalHits []domain.LexicalHit
		vectorHits  []domain.VectorHit
	)
	if snap.Len() > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			lexicalHits = snap.Lexical.Search(req.Question, pool)
			return nil
		})
		g.Go(func() error {
			embedding, err := r.embedder.EmbedQuery(gctx, req.Question)
			if err != nil {
				return classifyBackendError("embed query", err)
			}
			hits, err := r.vectors.Query(gctx, embedding, pool, filter)
			if err != nil {
				return classifyBackendError("query vector index", err)
			}
			vectorHits = hits
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	fused, stale := fuseCandidates(req.Question, lexicalHits, vectorHits, snap, r.cfg)
	if len(stale) > 0 {
		r.logger.Warn("stale_vector_hits", "generation", snap.Generation, "chunk_ids", stale)
	}
	candidates := trimCandidates(filterCandidates(fused, filter), req.TopK)

	result := &domain.RetrievalResult{
		Query:      req.Question,
		TopK:       req.TopK,
		Filter:     filter,
		Candidates: candidates,
		Evidence:   []domain.ScoredCandidate{},
		Generation: snap.Generation,
	}
	if top, ok := result.Top(); ok {
		result.TopScore = top.FusedScore
	}
	result.GatePassed, result.GateReason = r.gate.Admits(req.Question, candidates)
	if result.GatePassed {
		result.Evidence = selectEvidence(candidates, req.TopK, r.cfg)
	}

	if r.cache != nil {
		r.cache.Put(key, snap.Generation, result)
	}
	r.observer.ObserveRetrieval(result, time.Since(start))
	return result, nil
}

// resolveFilter prefers the caller's category and falls back to inferring one from
// the question.
func (r *Retriever) resolveFilter(req domain.AskRequest) domain.SearchFilter {
	filter := domain.SearchFilter{Category: req.Category}
	for _, v := range req.AppliesTo {
		if v = strings.TrimSpace(v); v != "" {
			filter.AppliesTo = append(filter.AppliesTo, v)
		}
	}
	if filter.Category == "" && r.cfg.InferCategory {
		filter.Category = inferCategory(req.Question, r.cfg.CategoryRules)
	}
	return filter
}

// inferCategory returns the first rule with a keyword present in the question.
// Keywords match whole tokens, and multi-word keywords match a run of adjacent
// tokens, so "data" does not fire on "database".
func inferCategory(question string, rules []domain.CategoryRule) string {
	tokens := text.Tokenize(question)
	if len(tokens) == 0 {
		return ""
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			phrase := text.Tokenize(keyword)
			if len(phrase) == 0 {
				continue
			}
			if strings.Contains(joined, " "+strings.Join(phrase, " ")+" ") {
				return rule.Category
			}
		}
	}
	return ""
}

func cacheKey(req domain.AskRequest, filter domain.SearchFilter) string {
	return strings.Join([]string{
		text.NormalizeQuery(req.Question),
		strconv.Itoa(req.TopK),
		strings.ToLower(filter.Category),
		strings.ToLower(strings.Join(filter.AppliesTo, ",")),
	}, "\x1f")
}
