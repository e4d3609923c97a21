// Package openaicompat adapts OpenAI-compatible chat and embedding endpoints to the
// answer backend and embedder ports.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL     string
	APIKey      string
	GenModel    string
	EmbedModel  string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	api      openai.Client
	opts     Options
	executor *resilience.Executor
}

func New(opts Options, executor *resilience.Executor, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.NoRetryConfig(), logger)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Retries go through the shared executor.
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	return &Client{
		api:      openai.NewClient(reqOpts...),
		opts:     opts,
		executor: executor,
	}
}

// classify treats SDK status errors like any other HTTP status reply.
func classify(err error) resilience.ErrorClassification {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if resilience.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyHTTPError(err)
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) params(req ports.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.client.opts.GenModel),
		Messages:    messages,
		Temperature: openai.Float(g.client.opts.Temperature),
		MaxTokens:   openai.Int(int64(g.client.opts.MaxTokens)),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (g *Generator) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.client.opts.Timeout)
	defer cancel()

	params := g.params(req)
	completion, err := resilience.Call(ctx, g.client.executor, "openai_chat", func(ctx context.Context) (*openai.ChatCompletion, error) {
		return g.client.api.Chat.Completions.New(ctx, params)
	}, classify)
	if err != nil {
		return "", resilience.BackendError("openai chat", err)
	}
	if len(completion.Choices) == 0 {
		return "", domain.WrapError(domain.ErrBackendUnavailable, "openai chat", errors.New("completion has no choices"))
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func (g *Generator) GenerateStream(ctx context.Context, req ports.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := g.client.api.Chat.Completions.NewStreaming(ctx, g.params(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" && !yield(delta, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", resilience.BackendError("openai chat stream", err))
		}
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.client.opts.Timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.client.opts.EmbedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	resp, err := resilience.Call(ctx, e.client.executor, "openai_embed", func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		return e.client.api.Embeddings.New(ctx, params)
	}, classify)
	if err != nil {
		return nil, resilience.BackendError("openai embed", err)
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(out) {
			continue
		}
		v := make([]float32, len(item.Embedding))
		for i, x := range item.Embedding {
			v[i] = float32(x)
		}
		out[item.Index] = v
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "openai embed", fmt.Errorf("missing embedding for input %d", i))
		}
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
