package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		"GENERATION_BACKEND", "VECTOR_STORE", "RAG_TUNING_FILE", "RAG_TOP_K",
		"RAG_MIN_EVIDENCE_SCORE", "CHUNK_SIZE", "CHUNK_OVERLAP", "CORPUS_INCLUDE",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "RETRIEVAL_CACHE_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GenerationBackend != BackendOllama {
		t.Fatalf("expected default backend ollama, got %q", cfg.GenerationBackend)
	}
	if cfg.VectorStore != VectorStoreQdrant {
		t.Fatalf("expected default vector store qdrant, got %q", cfg.VectorStore)
	}
	if cfg.ChunkSize != 900 || cfg.ChunkOverlap != 120 {
		t.Fatalf("expected chunking 900/120, got %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.Pipeline.MinEvidenceScore != 0.30 {
		t.Fatalf("expected evidence threshold 0.30, got %v", cfg.Pipeline.MinEvidenceScore)
	}
	if cfg.RetrievalCacheTTL != 5*time.Minute {
		t.Fatalf("expected cache ttl 5m, got %v", cfg.RetrievalCacheTTL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GENERATION_BACKEND", "OpenAI")
	t.Setenv("OPENAI_BASE_URL", "http://llm.local/v1")
	t.Setenv("VECTOR_STORE", "memory")
	t.Setenv("RAG_TOP_K", "7")
	t.Setenv("RAG_MIN_EVIDENCE_SCORE", "0.45")
	t.Setenv("CORPUS_INCLUDE", "**/*.md, docs/**/*.pdf ,")
	t.Setenv("RETRIEVAL_CACHE_TTL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GenerationBackend != BackendOpenAI {
		t.Fatalf("expected backend openai, got %q", cfg.GenerationBackend)
	}
	if cfg.Pipeline.DefaultTopK != 7 {
		t.Fatalf("expected top_k 7, got %d", cfg.Pipeline.DefaultTopK)
	}
	if cfg.Pipeline.MinEvidenceScore != 0.45 {
		t.Fatalf("expected threshold 0.45, got %v", cfg.Pipeline.MinEvidenceScore)
	}
	if len(cfg.CorpusIncludes) != 2 || cfg.CorpusIncludes[1] != "docs/**/*.pdf" {
		t.Fatalf("unexpected includes: %#v", cfg.CorpusIncludes)
	}
	if cfg.RetrievalCacheTTL != 90*time.Second {
		t.Fatalf("expected ttl 90s, got %v", cfg.RetrievalCacheTTL)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown backend":       {"GENERATION_BACKEND": "bard"},
		"unknown vector store":  {"VECTOR_STORE": "faiss"},
		"openai without target": {"GENERATION_BACKEND": "openai"},
		"overlap too large":     {"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"},
		"threshold out of unit": {"RAG_MIN_EVIDENCE_SCORE": "1.5"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestLoadAppliesTuningFileOverlay(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	content := []byte(`
vector_weight: 0.5
lexical_weight: 0.5
generation_timeout: 45s
section_boosts:
  refunds: 0.1
category_rules:
  - category: billing
    keywords: [invoice]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	t.Setenv("RAG_TUNING_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.VectorWeight != 0.5 || cfg.Pipeline.LexicalWeight != 0.5 {
		t.Fatalf("expected overlay weights, got %v/%v", cfg.Pipeline.VectorWeight, cfg.Pipeline.LexicalWeight)
	}
	if cfg.Pipeline.GenerationTimeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", cfg.Pipeline.GenerationTimeout)
	}
	if len(cfg.Pipeline.CategoryRules) != 1 || cfg.Pipeline.CategoryRules[0].Keywords[0] != "invoice" {
		t.Fatalf("unexpected category rules: %#v", cfg.Pipeline.CategoryRules)
	}
	if cfg.Pipeline.MaxEvidence != 5 {
		t.Fatalf("expected untouched keys to keep defaults, got max_evidence=%d", cfg.Pipeline.MaxEvidence)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("QDRANT_COLLECTION=from_env_file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("QDRANT_COLLECTION", "")
	os.Unsetenv("QDRANT_COLLECTION")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QdrantCollection != "from_env_file" {
		t.Fatalf("expected collection from env file, got %q", cfg.QdrantCollection)
	}
	os.Unsetenv("QDRANT_COLLECTION")
}
