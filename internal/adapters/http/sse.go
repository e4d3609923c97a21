package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	// Streams outlive the server-wide write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type tokenEvent struct {
	Text string `json:"text"`
}

// askStream validates and retrieves before the first byte, so request errors keep
// their HTTP status. Once the stream is open, failures arrive as an error event.
func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeAsk(w, r)
	if !ok {
		return
	}

	events, err := rt.answers.AskStream(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: err.Error(), Kind: "internal"})
		return
	}

	for event := range events {
		var sendErr error
		switch event.Kind {
		case domain.StreamEventMeta:
			sendErr = stream.send("meta", toRetrievalDebug(event.Retrieval))
		case domain.StreamEventDelta:
			sendErr = stream.send("token", tokenEvent{Text: event.Delta})
		case domain.StreamEventDone:
			sendErr = stream.send("done", toAnswerPayload(event.Result))
		case domain.StreamEventError:
			sendErr = stream.send("error", errorPayload{
				Error:     event.Err.Error(),
				Kind:      domain.ErrorKind(event.Err),
				RequestID: requestIDFromContext(r.Context()),
			})
		}
		if sendErr != nil {
			rt.logger.Warn("sse_client_gone",
				"request_id", requestIDFromContext(r.Context()),
				"error", sendErr.Error(),
			)
			return
		}
	}
}
