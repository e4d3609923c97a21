package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

func (g *Generator) chatRequest(req ports.GenerationRequest, stream bool) map[string]any {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := map[string]any{
		"model":    g.client.opts.GenModel,
		"messages": messages,
		"stream":   stream,
		"options": map[string]any{
			"temperature": g.client.opts.Temperature,
			"num_predict": g.client.opts.NumPredict,
		},
	}
	if req.JSON {
		body["format"] = "json"
	}
	return body
}

func (g *Generator) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	var response chatChunk
	if err := g.client.postJSON(ctx, "/api/chat", g.chatRequest(req, false), &response, "chat"); err != nil {
		return "", err
	}
	if response.Error != "" {
		return "", resilience.BackendError("ollama chat", errors.New(response.Error))
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// GenerateStream reads the NDJSON chat stream. Breaking out of the loop closes
// the response body.
func (g *Generator) GenerateStream(ctx context.Context, req ports.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := g.client.open(ctx, "/api/chat", g.chatRequest(req, true), "chat_stream")
		if err != nil {
			yield("", resilience.BackendError("ollama chat stream", err))
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				yield("", resilience.BackendError("ollama chat stream", fmt.Errorf("decode stream chunk: %w", err)))
				return
			}
			if chunk.Error != "" {
				yield("", resilience.BackendError("ollama chat stream", errors.New(chunk.Error)))
				return
			}
			if chunk.Message.Content != "" && !yield(chunk.Message.Content, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", resilience.BackendError("ollama chat stream", err))
			return
		}
		if err := ctx.Err(); err != nil {
			yield("", resilience.BackendError("ollama chat stream", err))
		}
	}
}
