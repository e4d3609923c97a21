package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

const (
	endpointAsk    = "ask"
	endpointStream = "ask_stream"
)

// AnswerUseCase answers a question from the corpus or refuses. It is the single entry
// point shared by the batch and streaming transports.
type AnswerUseCase struct {
	retriever *Retriever
	generator *GroundedGenerator
	backend   ports.AnswerBackend
	answers   ports.AnswerLog
	timeout   time.Duration
	observer  ports.PipelineObserver
	logger    *slog.Logger
}

func NewAnswerUseCase(
	retriever *Retriever,
	backend ports.AnswerBackend,
	answers ports.AnswerLog,
	cfg domain.PipelineConfig,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *AnswerUseCase {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		retriever: retriever,
		generator: NewGroundedGenerator(backend, cfg, observer, logger),
		backend:   backend,
		answers:   answers,
		timeout:   cfg.GenerationTimeout,
		observer:  observer,
		logger:    logger,
	}
}

func (uc *AnswerUseCase) Ask(ctx context.Context, req domain.AskRequest) (*domain.AnswerResult, error) {
	start := time.Now()
	traceID := uuid.NewString()

	retrieval, err := uc.retriever.Retrieve(ctx, req)
	if err != nil {
		uc.fail(ctx, endpointAsk, traceID, req.Question, nil, err)
		return nil, err
	}
	retrieved := time.Now()

	var result *domain.AnswerResult
	if !retrieval.GatePassed {
		result = uc.refuseAtGate(traceID, retrieval)
	} else {
		result, err = uc.generator.Answer(ctx, retrieval.Query, retrieval.Evidence)
		if err != nil {
			uc.fail(ctx, endpointAsk, traceID, retrieval.Query, retrieval, err)
			return nil, err
		}
	}

	uc.complete(ctx, endpointAsk, traceID, result, retrieval, start, retrieved)
	return result, nil
}

func (uc *AnswerUseCase) refuseAtGate(traceID string, retrieval *domain.RetrievalResult) *domain.AnswerResult {
	uc.logger.Info("gate_rejected",
		"trace_id", traceID,
		"reason", retrieval.GateReason,
		"top_score", retrieval.TopScore,
		"candidates", len(retrieval.Candidates),
	)
	return domain.NewRefusal(retrieval.Query, domain.StateRefused, domain.ReasonInsufficientEvidence)
}

// complete stamps trace data on a terminal result, enforces the citation invariant
// and records the outcome.
func (uc *AnswerUseCase) complete(
	ctx context.Context,
	endpoint string,
	traceID string,
	result *domain.AnswerResult,
	retrieval *domain.RetrievalResult,
	start, retrieved time.Time,
) {
	enforceCitationInvariant(result)

	finished := time.Now()
	result.TraceID = traceID
	result.Question = retrieval.Query
	result.Retrieval = retrieval
	result.Timings = domain.Timings{
		RetrieveMs: retrieved.Sub(start).Milliseconds(),
		GenerateMs: finished.Sub(retrieved).Milliseconds(),
		TotalMs:    finished.Sub(start).Milliseconds(),
	}

	uc.observer.ObserveAnswer(endpoint, result, finished.Sub(start))
	uc.logger.Info("rag_request",
		"trace_id", traceID,
		"endpoint", endpoint,
		"state", result.State,
		"reason", result.Reason,
		"top_score", retrieval.TopScore,
		"gate_reason", retrieval.GateReason,
		"citations", len(result.Citations),
		"cache_hit", retrieval.CacheHit,
		"retrieve_ms", result.Timings.RetrieveMs,
		"generate_ms", result.Timings.GenerateMs,
		"total_ms", result.Timings.TotalMs,
	)
	uc.appendLog(ctx, result)
}

func (uc *AnswerUseCase) fail(ctx context.Context, endpoint, traceID, question string, retrieval *domain.RetrievalResult, err error) {
	uc.observer.ObserveFailure(endpoint, err)
	uc.logger.Error("rag_request_failed",
		"trace_id", traceID,
		"endpoint", endpoint,
		"kind", domain.ErrorKind(err),
		"error", err.Error(),
	)
	if retrieval == nil {
		return
	}
	uc.appendLog(ctx, &domain.AnswerResult{
		TraceID:   traceID,
		Question:  question,
		State:     domain.StateFailed,
		Reason:    domain.ErrorKind(err),
		Retrieval: retrieval,
	})
}

func (uc *AnswerUseCase) appendLog(ctx context.Context, result *domain.AnswerResult) {
	if uc.answers == nil {
		return
	}
	if err := uc.answers.Append(context.WithoutCancel(ctx), result); err != nil {
		uc.logger.Warn("answer_log_append_failed", "trace_id", result.TraceID, "error", err.Error())
	}
}

// enforceCitationInvariant guarantees citations are empty exactly when the answer is
// the refusal.
func enforceCitationInvariant(result *domain.AnswerResult) {
	if result.FinalAnswer == domain.RefusalAnswer {
		result.Citations = []domain.Citation{}
		if result.State != domain.StateDowngraded {
			result.State = domain.StateRefused
		}
		return
	}
	if len(result.Citations) == 0 {
		*result = *domain.NewRefusal(result.Question, domain.StateDowngraded, domain.ReasonUngroundedCitation)
	}
}
