package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector"
)

const backendName = "qdrant"

// chunkNamespace derives stable point ids so re-indexing a chunk overwrites it.
var chunkNamespace = uuid.MustParse("6f1c7a52-3f0e-4b59-9a55-2d1f7c4e8b10")

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, executor *resilience.Executor, logger *slog.Logger) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.NoRetryConfig(), logger)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

func PointID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors)))
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:     PointID(chunk.ChunkID),
			Vector: vectors[i],
			Payload: map[string]any{
				"chunk_id":     chunk.ChunkID,
				"doc_id":       chunk.DocID,
				"section_path": chunk.SectionPath,
				"category":     strings.ToLower(chunk.Metadata.Category),
				"applies_to":   chunk.Metadata.AppliesTo,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
}

// Query over-fetches when applies_to is set because substring matching happens
// client side.
func (c *Client) Query(ctx context.Context, embedding []float32, topN int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	if topN <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	limit := topN
	if len(filter.AppliesTo) > 0 {
		limit = topN * 4
	}
	reqBody := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
	}
	if filter.Category != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "category",
					"match": map[string]any{
						"value": strings.ToLower(filter.Category),
					},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	hits := make([]domain.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		meta := domain.ChunkMetadata{
			Category:  getStringPayload(r.Payload, "category"),
			AppliesTo: getStringSlicePayload(r.Payload, "applies_to"),
		}
		if !filter.Matches(meta) {
			continue
		}
		id := getStringPayload(r.Payload, "chunk_id")
		if id == "" {
			continue
		}
		hits = append(hits, domain.VectorHit{ChunkID: id, Score: vector.SimilarityScore(r.Score)})
	}
	return vector.SortHits(hits, topN), nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPost, url, map[string]any{"exact": true}, &countResp, "count")
	if status, ok := statusCode(err); ok && status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return countResp.Result.Count, nil
}

// Prune deletes points whose chunk_id payload is not in keep. A missing
// collection has nothing to prune.
func (c *Client) Prune(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	reqBody := map[string]any{
		"filter": map[string]any{
			"must_not": []map[string]any{
				{"key": "chunk_id", "match": map[string]any{"any": keep}},
			},
		},
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPost, url, reqBody, nil, "delete")
	if status, ok := statusCode(err); ok && status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPut, url, reqBody, nil, "ensure_collection")
	// 409 if the collection already exists (depends on version/config).
	if status, ok := statusCode(err); ok && status == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}
