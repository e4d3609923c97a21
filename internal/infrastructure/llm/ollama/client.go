package ollama

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

const backendName = "ollama"

type Options struct {
	GenModel    string
	EmbedModel  string
	Temperature float64
	NumPredict  int
	Timeout     time.Duration
}

type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, opts Options, executor *resilience.Executor, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.NumPredict <= 0 {
		opts.NumPredict = 512
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.NoRetryConfig(), logger)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		// Streaming replies are bounded by the caller's context, not a client timeout.
		httpClient: &http.Client{},
		executor:   executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}
