package localfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func TestSaveReplacesArtifact(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		if err := storage.Save(ctx, "nested/chunks.jsonl", strings.NewReader(content)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	r, err := storage.Open(ctx, "nested/chunks.jsonl")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "second" {
		t.Fatalf("expected replaced content, got %q", got)
	}
}

func TestOpenMissingKeepsNotExist(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = storage.Open(context.Background(), "missing.jsonl")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../outside", "/etc/passwd", ""} {
		if err := storage.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Save(%q) error = %v, want invalid input", key, err)
		}
	}
}
