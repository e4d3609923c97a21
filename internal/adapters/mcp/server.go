// Package mcpadapter exposes the answer pipeline as a Model Context Protocol tool.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

const (
	serverName     = "grounded-rag"
	serverVersion  = "1.0.0"
	askToolName    = "ask_documents"
	askDescription = "Answer a question strictly from the indexed policy documents. " +
		"Returns the answer with citations, or a refusal when the documents do not cover the question."
)

type Server struct {
	answers ports.AnswerService
	logger  *slog.Logger
	mcp     *server.MCPServer
}

func NewServer(answers ports.AnswerService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		answers: answers,
		logger:  logger,
		mcp:     server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
	}
	s.mcp.AddTool(askTool(), s.handleAsk)
	return s
}

func askTool() mcp.Tool {
	return mcp.NewTool(askToolName,
		mcp.WithDescription(askDescription),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of candidates to retrieve, 1 to 10."),
		),
		mcp.WithString("category",
			mcp.Description("Restrict retrieval to one document category, e.g. billing or privacy."),
		),
		mcp.WithArray("applies_to",
			mcp.Description("Restrict retrieval to documents that apply to all of these plans or products."),
			mcp.WithStringItems(),
		),
	)
}

// ServeStdio blocks serving the tool over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type toolAnswer struct {
	Question    string            `json:"question"`
	FinalAnswer string            `json:"final_answer"`
	Citations   []domain.Citation `json:"citations"`
	State       string            `json:"state"`
	Reason      string            `json:"reason,omitempty"`
	TraceID     string            `json:"trace_id"`
}

// handleAsk reports pipeline failures as tool errors so the calling model sees them.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := domain.AskRequest{
		Question:  question,
		TopK:      request.GetInt("top_k", 0),
		Category:  request.GetString("category", ""),
		AppliesTo: request.GetStringSlice("applies_to", nil),
	}

	result, err := s.answers.Ask(ctx, req)
	if err != nil {
		s.logger.Warn("mcp_tool_failed", "tool", askToolName, "kind", domain.ErrorKind(err), "error", err.Error())
		return mcp.NewToolResultError(domain.ErrorKind(err) + ": " + err.Error()), nil
	}

	citations := result.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	payload, err := json.Marshal(toolAnswer{
		Question:    result.Question,
		FinalAnswer: result.FinalAnswer,
		Citations:   citations,
		State:       string(result.State),
		Reason:      result.Reason,
		TraceID:     result.TraceID,
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(payload)), nil
}
