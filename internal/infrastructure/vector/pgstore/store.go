// Package pgstore keeps chunk embeddings in Postgres with the pgvector extension.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector"
)

const schemaLockKey = int64(2026101901)

type Store struct {
	db  *sql.DB
	dim int
}

func New(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dim <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "pgvector schema", fmt.Errorf("embedding dimension must be positive, got %d", s.dim))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_vectors (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	section_path TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	applies_to JSONB NOT NULL DEFAULT '[]'::jsonb,
	embedding vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_vectors_category ON chunk_vectors(category);
CREATE INDEX IF NOT EXISTS idx_chunk_vectors_embedding ON chunk_vectors USING hnsw (embedding vector_cosine_ops);
`, s.dim)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "pgvector upsert", fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors)))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "pgvector upsert", fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for i, chunk := range chunks {
		if s.dim > 0 && len(vectors[i]) != s.dim {
			return domain.WrapError(domain.ErrInvalidInput, "pgvector upsert", fmt.Errorf("vector size %d, index uses %d", len(vectors[i]), s.dim))
		}
		appliesTo, err := json.Marshal(nonNil(chunk.Metadata.AppliesTo))
		if err != nil {
			return fmt.Errorf("marshal applies_to: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO chunk_vectors (chunk_id, doc_id, section_path, category, applies_to, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (chunk_id) DO UPDATE SET
	doc_id = EXCLUDED.doc_id,
	section_path = EXCLUDED.section_path,
	category = EXCLUDED.category,
	applies_to = EXCLUDED.applies_to,
	embedding = EXCLUDED.embedding,
	updated_at = EXCLUDED.updated_at
`,
			chunk.ChunkID, chunk.DocID, chunk.SectionPath, strings.ToLower(chunk.Metadata.Category),
			appliesTo, pgvector.NewVector(vectors[i]), now,
		)
		if err != nil {
			return domain.WrapError(domain.ErrBackendUnavailable, "pgvector upsert", fmt.Errorf("upsert %s: %w", chunk.ChunkID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "pgvector upsert", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Query ranks by cosine distance. applies_to is matched client side because it
// uses case-insensitive substring semantics.
func (s *Store) Query(ctx context.Context, embedding []float32, topN int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	if topN <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	limit := topN
	if len(filter.AppliesTo) > 0 {
		limit = topN * 4
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, applies_to, embedding <=> $1 AS distance
FROM chunk_vectors
WHERE ($2 = '' OR category = $2)
ORDER BY distance ASC, chunk_id ASC
LIMIT $3
`, pgvector.NewVector(embedding), strings.ToLower(filter.Category), limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "pgvector query", err)
	}
	defer rows.Close()

	hits := make([]domain.VectorHit, 0, limit)
	for rows.Next() {
		var (
			id        string
			rawApply  []byte
			distance  float64
			appliesTo []string
		)
		if err := rows.Scan(&id, &rawApply, &distance); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "pgvector query", fmt.Errorf("scan: %w", err))
		}
		if len(rawApply) > 0 {
			if err := json.Unmarshal(rawApply, &appliesTo); err != nil {
				return nil, fmt.Errorf("unmarshal applies_to for %s: %w", id, err)
			}
		}
		if !filter.Matches(domain.ChunkMetadata{Category: filter.Category, AppliesTo: appliesTo}) {
			continue
		}
		hits = append(hits, domain.VectorHit{ChunkID: id, Score: vector.DistanceScore(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "pgvector query", err)
	}
	return vector.SortHits(hits, topN), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_vectors`).Scan(&n); err != nil {
		return 0, domain.WrapError(domain.ErrBackendUnavailable, "pgvector count", err)
	}
	return n, nil
}

// Prune deletes rows for chunks that left the corpus. The id list travels as one
// JSON array parameter.
func (s *Store) Prune(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	ids, err := json.Marshal(keep)
	if err != nil {
		return fmt.Errorf("marshal kept chunk ids: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM chunk_vectors
WHERE chunk_id NOT IN (SELECT jsonb_array_elements_text($1::jsonb))
`, ids); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "pgvector prune", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
