package usecase

import (
	"context"
	"iter"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// AskStream runs retrieval synchronously, so request and retrieval errors are returned
// before any event, then yields meta, answer deltas and exactly one done or error
// event. Stopping the iteration stops generation and releases the backend connection.
func (uc *AnswerUseCase) AskStream(ctx context.Context, req domain.AskRequest) (iter.Seq[domain.StreamEvent], error) {
	start := time.Now()
	traceID := uuid.NewString()

	retrieval, err := uc.retriever.Retrieve(ctx, req)
	if err != nil {
		uc.fail(ctx, endpointStream, traceID, req.Question, nil, err)
		return nil, err
	}
	retrieved := time.Now()

	return func(yield func(domain.StreamEvent) bool) {
		if !yield(domain.StreamEvent{Kind: domain.StreamEventMeta, Retrieval: retrieval}) {
			return
		}

		if !retrieval.GatePassed {
			result := uc.refuseAtGate(traceID, retrieval)
			uc.complete(ctx, endpointStream, traceID, result, retrieval, start, retrieved)
			yield(domain.StreamEvent{Kind: domain.StreamEventDone, Result: result})
			return
		}

		genReq := buildGroundedRequest(retrieval.Query, retrieval.Evidence)
		callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
		defer cancel()

		var extractor answerDeltaExtractor
		for fragment, err := range uc.backend.GenerateStream(callCtx, genReq) {
			if err != nil {
				err = classifyBackendError("stream answer", err)
				uc.fail(ctx, endpointStream, traceID, retrieval.Query, retrieval, err)
				yield(domain.StreamEvent{Kind: domain.StreamEventError, Err: err})
				return
			}
			delta := extractor.Feed(fragment)
			if delta == "" {
				continue
			}
			if !yield(domain.StreamEvent{Kind: domain.StreamEventDelta, Delta: delta}) {
				return
			}
		}

		result, err := uc.generator.finish(ctx, retrieval.Query, genReq, extractor.Raw(), retrieval.Evidence)
		if err != nil {
			uc.fail(ctx, endpointStream, traceID, retrieval.Query, retrieval, err)
			yield(domain.StreamEvent{Kind: domain.StreamEventError, Err: err})
			return
		}
		uc.complete(ctx, endpointStream, traceID, result, retrieval, start, retrieved)
		yield(domain.StreamEvent{Kind: domain.StreamEventDone, Result: result})
	}, nil
}

type extractorState int

const (
	seekingKey extractorState = iota
	seekingValue
	inValue
	finished
)

const answerKey = `"final_answer"`

// answerDeltaExtractor pulls the final_answer string out of a JSON object that arrives
// in arbitrary fragments, returning newly decoded answer text on each Feed.
type answerDeltaExtractor struct {
	raw   strings.Builder
	pos   int
	state extractorState
}

func (e *answerDeltaExtractor) Raw() string {
	return e.raw.String()
}

func (e *answerDeltaExtractor) Feed(fragment string) string {
	e.raw.WriteString(fragment)
	raw := e.raw.String()

	var out strings.Builder
	for e.pos < len(raw) && e.state != finished {
		switch e.state {
		case seekingKey:
			idx := strings.Index(raw[e.pos:], answerKey)
			if idx < 0 {
				e.pos = max(e.pos, len(raw)-len(answerKey)+1)
				return out.String()
			}
			e.pos += idx + len(answerKey)
			e.state = seekingValue
		case seekingValue:
			switch raw[e.pos] {
			case ' ', '\t', '\n', '\r', ':':
				e.pos++
			case '"':
				e.pos++
				e.state = inValue
			default:
				e.state = finished
			}
		case inValue:
			if !e.decodeValue(raw, &out) {
				return out.String()
			}
		}
	}
	return out.String()
}

// decodeValue consumes string content from raw into out. It returns false when it
// needs more input to make progress.
func (e *answerDeltaExtractor) decodeValue(raw string, out *strings.Builder) bool {
	for e.pos < len(raw) {
		c := raw[e.pos]
		switch {
		case c == '"':
			e.pos++
			e.state = finished
			return true
		case c == '\\':
			if e.pos+1 >= len(raw) {
				return false
			}
			switch esc := raw[e.pos+1]; esc {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case 'b', 'f':
			case 'u':
				if e.pos+6 > len(raw) {
					return false
				}
				code, err := strconv.ParseUint(raw[e.pos+2:e.pos+6], 16, 32)
				if err == nil {
					out.WriteRune(rune(code))
				}
				e.pos += 6
				continue
			default:
				out.WriteByte(esc)
			}
			e.pos += 2
		default:
			if !utf8.FullRuneInString(raw[e.pos:]) {
				return false
			}
			r, size := utf8.DecodeRuneInString(raw[e.pos:])
			out.WriteRune(r)
			e.pos += size
		}
	}
	return false
}
