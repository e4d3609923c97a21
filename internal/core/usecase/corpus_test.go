package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/lexical"
)

type chunkSourceFake struct {
	chunks []domain.Chunk
	err    error
}

func (f *chunkSourceFake) LoadChunks(context.Context) ([]domain.Chunk, error) {
	return f.chunks, f.err
}

func TestCorpusHolderLifecycle(t *testing.T) {
	holder := NewCorpusHolder(lexical.Builder(lexical.DefaultParams()))
	if _, err := holder.Load(); !errors.Is(err, domain.ErrIndexNotBuilt) {
		t.Fatalf("expected ErrIndexNotBuilt before first build, got %v", err)
	}
	if err := holder.Ready(context.Background()); !errors.Is(err, domain.ErrIndexNotBuilt) {
		t.Fatalf("expected not ready before first build, got %v", err)
	}

	empty, err := holder.Rebuild(nil)
	if err != nil {
		t.Fatalf("Rebuild(nil) error = %v", err)
	}
	if err := holder.Ready(context.Background()); !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Fatalf("expected empty corpus readiness error, got %v", err)
	}

	first, err := holder.Rebuild(policyCorpus())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if first.Generation <= empty.Generation {
		t.Fatalf("generation must increase, got %d after %d", first.Generation, empty.Generation)
	}
	if err := holder.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if c, ok := first.Chunk("refund-policy::c0000"); !ok || c.DocID != "refund-policy" {
		t.Fatalf("expected chunk lookup to work, got %+v", c)
	}
}

func TestCorpusHolderSwapKeepsOldSnapshotUsable(t *testing.T) {
	holder := NewCorpusHolder(lexical.Builder(lexical.DefaultParams()))
	old, err := holder.Rebuild(policyCorpus())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	if _, err := holder.Rebuild(policyCorpus()[:1]); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if old.Len() != 4 || len(old.Lexical.Search("privacy retention", 10)) == 0 {
		t.Fatalf("an in-flight snapshot must stay intact after a swap")
	}
	current, _ := holder.Load()
	if current.Len() != 1 {
		t.Fatalf("expected new snapshot with 1 chunk, got %d", current.Len())
	}
}

func TestCorpusHolderRejectsDuplicateIDs(t *testing.T) {
	holder := NewCorpusHolder(lexical.Builder(lexical.DefaultParams()))
	chunks := append(policyCorpus(), policyCorpus()[0])
	if _, err := holder.Rebuild(chunks); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for duplicate ids, got %v", err)
	}
	if _, err := holder.Load(); !errors.Is(err, domain.ErrIndexNotBuilt) {
		t.Fatalf("a failed rebuild must not publish a snapshot")
	}
}

func TestCorpusLoaderReload(t *testing.T) {
	holder := NewCorpusHolder(lexical.Builder(lexical.DefaultParams()))
	loader := NewCorpusLoader(&chunkSourceFake{chunks: policyCorpus()}, holder, nil, nil)

	gen, err := loader.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	snap, _ := holder.Load()
	if snap.Generation != gen || snap.Len() != 4 {
		t.Fatalf("unexpected snapshot gen=%d len=%d", snap.Generation, snap.Len())
	}

	failing := NewCorpusLoader(&chunkSourceFake{err: errors.New("missing file")}, holder, nil, nil)
	if _, err := failing.Reload(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if again, _ := holder.Load(); again.Generation != gen {
		t.Fatalf("failed reload must keep the previous snapshot")
	}
}
