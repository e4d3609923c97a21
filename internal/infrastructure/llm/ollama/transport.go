package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

// open sends one JSON request and returns the response on a 2xx status. The
// caller owns the body.
func (c *Client) open(ctx context.Context, path string, payload any, operation string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}

	return resilience.Call(ctx, c.executor, backendName+"_"+operation, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("ollama %s request: %w", operation, err)
		}
		if resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return nil, resilience.NewHTTPStatusError(backendName, operation, resp)
		}
		return resp, nil
	}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.open(ctx, path, payload, operation)
	if err != nil {
		return resilience.BackendError("ollama "+operation, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.BackendError("ollama "+operation, fmt.Errorf("decode %s response: %w", operation, err))
	}
	return nil
}
