// Package embedcache persists embeddings on disk so re-indexing an unchanged
// corpus does not call the embedding backend again.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"go.etcd.io/bbolt"

	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

type Embedder struct {
	inner  ports.Embedder
	db     *bbolt.DB
	bucket []byte
}

// New wraps inner with a cache bucket scoped to the embedding model so a model
// switch never serves stale vectors.
func New(db *bbolt.DB, model string, inner ports.Embedder) (*Embedder, error) {
	bucket := []byte("embeddings:" + model)
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding bucket: %w", err)
	}
	return &Embedder{inner: inner, db: db, bucket: bucket}, nil
}

func Open(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache %s: %w", path, err)
	}
	return db, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	err := e.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(e.bucket)
		for i, t := range texts {
			if raw := b.Get(key(t)); raw != nil {
				out[i] = decode(raw)
				continue
			}
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missTexts))
	}

	err = e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(e.bucket)
		for j, i := range missIdx {
			out[i] = vectors[j]
			if err := b.Put(key(missTexts[j]), encode(vectors[j])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write embedding cache: %w", err)
	}
	return out, nil
}

// EmbedQuery bypasses the cache.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.inner.EmbedQuery(ctx, text)
}

func key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decode(raw []byte) []float32 {
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v
}
