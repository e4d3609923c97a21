package domain

// RefusalAnswer is the fixed answer returned whenever the corpus does not support a
// grounded answer.
const RefusalAnswer = "I don't know based on the provided documents."

type AnswerState string

const (
	StatePending    AnswerState = "pending"
	StateRefused    AnswerState = "refused"
	StateGenerated  AnswerState = "generated"
	StateValidated  AnswerState = "validated"
	StateAccepted   AnswerState = "accepted"
	StateDowngraded AnswerState = "downgraded"
	StateFailed     AnswerState = "failed"
)

func (s AnswerState) IsTerminal() bool {
	switch s {
	case StateRefused, StateAccepted, StateDowngraded, StateFailed:
		return true
	default:
		return false
	}
}

// Reasons attached to refusals.
const (
	ReasonInsufficientEvidence = "insufficient_evidence"
	ReasonModelRefused         = "model_refused"
	ReasonUngroundedCitation   = "ungrounded_citation"
)

type Citation struct {
	ChunkID     string  `json:"chunk_id"`
	DocID       string  `json:"doc_id"`
	SectionPath string  `json:"section_path"`
	Score       float64 `json:"score"`
	Snippet     string  `json:"snippet"`
}

type Timings struct {
	RetrieveMs int64 `json:"retrieve"`
	GenerateMs int64 `json:"generate"`
	TotalMs    int64 `json:"total"`
}

// AnswerResult is either a grounded answer with a non-empty citation list or the
// refusal answer with no citations.
type AnswerResult struct {
	TraceID     string           `json:"trace_id"`
	Question    string           `json:"question"`
	FinalAnswer string           `json:"final_answer"`
	Citations   []Citation       `json:"citations"`
	State       AnswerState      `json:"state"`
	Reason      string           `json:"reason,omitempty"`
	Retrieval   *RetrievalResult `json:"-"`
	Timings     Timings          `json:"timings_ms"`
}

func (a *AnswerResult) IsRefusal() bool {
	return a != nil && a.FinalAnswer == RefusalAnswer && len(a.Citations) == 0
}

// NewRefusal builds the refusal answer for question.
func NewRefusal(question string, state AnswerState, reason string) *AnswerResult {
	return &AnswerResult{
		Question:    question,
		FinalAnswer: RefusalAnswer,
		Citations:   []Citation{},
		State:       state,
		Reason:      reason,
	}
}

type AskRequest struct {
	Question  string   `json:"question"`
	TopK      int      `json:"top_k,omitempty"`
	Category  string   `json:"category,omitempty"`
	AppliesTo []string `json:"applies_to,omitempty"`
}

type StreamEventKind string

const (
	StreamEventMeta  StreamEventKind = "meta"
	StreamEventDelta StreamEventKind = "delta"
	StreamEventDone  StreamEventKind = "done"
	StreamEventError StreamEventKind = "error"
)

// StreamEvent is one element of a streamed answer. A stream ends with exactly one
// done or error event; the done event carries the validated result.
type StreamEvent struct {
	Kind      StreamEventKind
	Delta     string
	Retrieval *RetrievalResult
	Result    *AnswerResult
	Err       error
}
