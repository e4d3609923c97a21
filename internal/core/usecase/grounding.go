package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/text"
)

const citationSnippetRunes = 220

const groundedSystemPrompt = `You answer questions using ONLY the document chunks provided by the user.
Rules:
- Use only facts stated in the chunks. Never use outside knowledge.
- Cite the chunk_id of every chunk you used.
- If the chunks do not contain the answer, set final_answer to exactly "` + domain.RefusalAnswer + `" and citations to [].
- Reply with exactly one JSON object and nothing else, no markdown:
{"final_answer": "<answer>", "citations": ["<chunk_id>", ...]}`

// modelAnswer is the parsed shape of the backend's structured output.
type modelAnswer struct {
	FinalAnswer string
	Citations   []string
}

func buildGroundedRequest(question string, evidence []domain.ScoredCandidate) ports.GenerationRequest {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nChunks:\n")
	for _, c := range evidence {
		fmt.Fprintf(&b, "[%s] (%s)\n%s\n\n", c.Chunk.ChunkID, c.Chunk.SectionPath, strings.TrimSpace(c.Chunk.Text))
	}
	b.WriteString("Return the JSON object now.")
	return ports.GenerationRequest{System: groundedSystemPrompt, User: b.String(), JSON: true}
}

func buildCorrectionRequest(original ports.GenerationRequest, invalid string, cause error) ports.GenerationRequest {
	const maxEcho = 2000
	if len(invalid) > maxEcho {
		invalid = invalid[:maxEcho]
	}
	var b strings.Builder
	b.WriteString(original.User)
	b.WriteString("\n\nYour previous reply was rejected: ")
	b.WriteString(cause.Error())
	b.WriteString("\nPrevious reply:\n")
	b.WriteString(invalid)
	b.WriteString("\n\nReply again with exactly one JSON object of the form ")
	b.WriteString(`{"final_answer": "<answer>", "citations": ["<chunk_id>", ...]}`)
	b.WriteString(" and nothing else.")
	return ports.GenerationRequest{System: original.System, User: b.String(), JSON: true}
}

// parseModelAnswer accepts exactly one JSON object, optionally wrapped in a markdown
// code fence, with a non-empty string final_answer and an optional array of string
// citations.
func parseModelAnswer(raw string) (modelAnswer, error) {
	body := strings.TrimSpace(stripCodeFence(raw))
	start := strings.Index(body, "{")
	if start < 0 {
		return modelAnswer{}, fmt.Errorf("no JSON object in output")
	}
	if strings.TrimSpace(body[:start]) != "" {
		return modelAnswer{}, fmt.Errorf("unexpected text before JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(body[start:]))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return modelAnswer{}, fmt.Errorf("decode JSON object: %w", err)
	}
	if rest := strings.TrimSpace(body[start+int(dec.InputOffset()):]); rest != "" {
		return modelAnswer{}, fmt.Errorf("unexpected text after JSON object")
	}

	var out modelAnswer
	rawAnswer, ok := fields["final_answer"]
	if !ok {
		return modelAnswer{}, fmt.Errorf("missing final_answer")
	}
	if err := json.Unmarshal(rawAnswer, &out.FinalAnswer); err != nil {
		return modelAnswer{}, fmt.Errorf("final_answer must be a string")
	}
	out.FinalAnswer = strings.TrimSpace(out.FinalAnswer)
	if out.FinalAnswer == "" {
		return modelAnswer{}, fmt.Errorf("final_answer is empty")
	}

	if rawCitations, ok := fields["citations"]; ok && string(rawCitations) != "null" {
		if err := json.Unmarshal(rawCitations, &out.Citations); err != nil {
			return modelAnswer{}, fmt.Errorf("citations must be an array of strings")
		}
	}
	return out, nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func isRefusalText(answer string) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.ReplaceAll(normalized, "’", "'")
	if normalized == strings.ToLower(domain.RefusalAnswer) {
		return true
	}
	return strings.Contains(normalized, "don't know") || strings.Contains(normalized, "do not know")
}

// validateAnswer enforces the citation contract on a parsed model answer. Citations
// outside the evidence set are dropped; an answer left without citations becomes the
// refusal. It returns the result and the dropped citation ids.
func validateAnswer(question string, parsed modelAnswer, evidence []domain.ScoredCandidate) (*domain.AnswerResult, []string) {
	if isRefusalText(parsed.FinalAnswer) {
		return domain.NewRefusal(question, domain.StateRefused, domain.ReasonModelRefused), nil
	}

	byID := make(map[string]domain.ScoredCandidate, len(evidence))
	for _, c := range evidence {
		byID[c.Chunk.ChunkID] = c
	}

	citations := make([]domain.Citation, 0, len(parsed.Citations))
	seen := make(map[string]struct{}, len(parsed.Citations))
	var dropped []string
	for _, id := range parsed.Citations {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, ok := byID[id]
		if !ok {
			dropped = append(dropped, id)
			continue
		}
		citations = append(citations, domain.Citation{
			ChunkID:     c.Chunk.ChunkID,
			DocID:       c.Chunk.DocID,
			SectionPath: c.Chunk.SectionPath,
			Score:       c.FusedScore,
			Snippet:     text.Snippet(c.Chunk.Text, citationSnippetRunes),
		})
	}

	if len(citations) == 0 {
		return domain.NewRefusal(question, domain.StateDowngraded, domain.ReasonUngroundedCitation), dropped
	}
	return &domain.AnswerResult{
		Question:    question,
		FinalAnswer: parsed.FinalAnswer,
		Citations:   citations,
		State:       domain.StateAccepted,
	}, dropped
}

// GroundedGenerator runs the generation backend under the answer contract: a bounded
// call, at most one corrective retry on malformed output, then citation validation.
type GroundedGenerator struct {
	backend  ports.AnswerBackend
	retries  int
	timeout  time.Duration
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewGroundedGenerator(backend ports.AnswerBackend, cfg domain.PipelineConfig, observer ports.PipelineObserver, logger *slog.Logger) *GroundedGenerator {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GroundedGenerator{
		backend:  backend,
		retries:  min(max(cfg.FormatRetries, 0), 1),
		timeout:  cfg.GenerationTimeout,
		observer: observer,
		logger:   logger,
	}
}

// Answer generates and validates an answer from evidence.
func (g *GroundedGenerator) Answer(ctx context.Context, question string, evidence []domain.ScoredCandidate) (*domain.AnswerResult, error) {
	req := buildGroundedRequest(question, evidence)
	raw, err := g.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return g.finish(ctx, question, req, raw, evidence)
}

// finish parses raw output from a first attempt, retrying once with a corrective
// prompt when the contract allows it, and validates the citations.
func (g *GroundedGenerator) finish(
	ctx context.Context,
	question string,
	req ports.GenerationRequest,
	raw string,
	evidence []domain.ScoredCandidate,
) (*domain.AnswerResult, error) {
	attempts := 1
	parsed, parseErr := parseModelAnswer(raw)
	if parseErr != nil && g.retries > 0 {
		g.observer.ObserveFormatRetry()
		g.logger.Warn("generation_format_retry", "attempt", attempts, "error", parseErr.Error())

		retried, err := g.call(ctx, buildCorrectionRequest(req, raw, parseErr))
		if err != nil {
			return nil, err
		}
		attempts++
		raw = retried
		parsed, parseErr = parseModelAnswer(raw)
	}
	if parseErr != nil {
		return nil, &domain.GenerationFormatError{Attempts: attempts, Raw: raw, Err: parseErr}
	}

	result, dropped := validateAnswer(question, parsed, evidence)
	if len(dropped) > 0 {
		g.observer.ObserveUngroundedCitations(len(dropped))
		g.logger.Warn("ungrounded_citation", "chunk_ids", dropped, "state", result.State)
	}
	return result, nil
}

func (g *GroundedGenerator) call(ctx context.Context, req ports.GenerationRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.backend.Generate(callCtx, req)
	if err != nil {
		return "", classifyBackendError("generate answer", err)
	}
	return raw, nil
}

// classifyBackendError maps backend failures onto the timeout and unavailable kinds.
// Caller cancellation is returned unchanged.
func classifyBackendError(op string, err error) error {
	switch {
	case domain.IsKind(err, domain.ErrBackendTimeout), domain.IsKind(err, domain.ErrBackendUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	}
}
