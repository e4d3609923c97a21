package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

const DefaultChunksKey = "chunks.jsonl"

// ChunkStore keeps the chunk artifact as JSON lines in object storage.
type ChunkStore struct {
	storage ports.ObjectStorage
	key     string
}

func NewChunkStore(storage ports.ObjectStorage, key string) *ChunkStore {
	if key == "" {
		key = DefaultChunksKey
	}
	return &ChunkStore{storage: storage, key: key}
}

func (s *ChunkStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, chunk := range chunks {
		if err := enc.Encode(chunk); err != nil {
			return fmt.Errorf("encode chunk %s: %w", chunk.ChunkID, err)
		}
	}
	return s.storage.Save(ctx, s.key, &buf)
}

func (s *ChunkStore) LoadChunks(ctx context.Context) ([]domain.Chunk, error) {
	r, err := s.storage.Open(ctx, s.key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var chunks []domain.Chunk
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var chunk domain.Chunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load chunks", fmt.Errorf("%s line %d: %w", s.key, line, err))
		}
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.key, err)
	}
	return chunks, nil
}
