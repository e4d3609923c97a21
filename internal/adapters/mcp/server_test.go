package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type answerServiceFake struct {
	result  *domain.AnswerResult
	err     error
	lastReq domain.AskRequest
}

func (f *answerServiceFake) Ask(_ context.Context, req domain.AskRequest) (*domain.AnswerResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *answerServiceFake) AskStream(context.Context, domain.AskRequest) (iter.Seq[domain.StreamEvent], error) {
	return nil, errors.New("not used")
}

func callAsk(t *testing.T, s *Server, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var request mcp.CallToolRequest
	request.Params.Name = askToolName
	request.Params.Arguments = args
	result, err := s.handleAsk(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestAskToolReturnsAnswerJSON(t *testing.T) {
	answers := &answerServiceFake{result: &domain.AnswerResult{
		TraceID:     "trace-9",
		Question:    "How long is data retained?",
		FinalAnswer: "Thirty days after account closure.",
		Citations:   []domain.Citation{{ChunkID: "privacy::c0002", DocID: "privacy"}},
		State:       domain.StateAccepted,
	}}
	s := NewServer(answers, nil)

	result := callAsk(t, s, map[string]any{
		"question":   "How long is data retained?",
		"top_k":      float64(4),
		"category":   "privacy",
		"applies_to": []any{"enterprise"},
	})

	assert.False(t, result.IsError)
	assert.Equal(t, 4, answers.lastReq.TopK)
	assert.Equal(t, "privacy", answers.lastReq.Category)
	assert.Equal(t, []string{"enterprise"}, answers.lastReq.AppliesTo)

	var body toolAnswer
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	assert.Equal(t, "Thirty days after account closure.", body.FinalAnswer)
	assert.Equal(t, "accepted", body.State)
	require.Len(t, body.Citations, 1)
	assert.Equal(t, "privacy::c0002", body.Citations[0].ChunkID)
}

func TestAskToolRefusalKeepsEmptyCitations(t *testing.T) {
	refusal := domain.NewRefusal("weather?", domain.StateRefused, domain.ReasonInsufficientEvidence)
	s := NewServer(&answerServiceFake{result: refusal}, nil)

	result := callAsk(t, s, map[string]any{"question": "weather?"})

	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"citations":[]`)
	assert.Contains(t, resultText(t, result), domain.RefusalAnswer)
}

func TestAskToolReportsFailuresAsToolErrors(t *testing.T) {
	s := NewServer(&answerServiceFake{err: domain.WrapError(domain.ErrBackendTimeout, "generate", errors.New("deadline"))}, nil)

	result := callAsk(t, s, map[string]any{"question": "refund?"})

	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "backend_timeout")
}

func TestAskToolRequiresQuestion(t *testing.T) {
	answers := &answerServiceFake{}
	s := NewServer(answers, nil)

	result := callAsk(t, s, map[string]any{"top_k": float64(3)})

	assert.True(t, result.IsError)
	assert.Empty(t, answers.lastReq.Question)
}
