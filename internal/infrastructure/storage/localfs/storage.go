// Package localfs stores corpus artifacts under a base directory.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const defaultBasePath = "./data/processed"

type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		root = defaultBasePath
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", root, err)
	}
	return &Storage{root: root}, nil
}

// Save replaces the artifact at key. Readers opening key concurrently see either
// the previous artifact or the complete new one, never a partial write.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	staged := tmp.Name()
	defer os.Remove(staged)

	if err := copyAndSync(tmp, data); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	if err := os.Rename(staged, path); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func copyAndSync(f *os.File, data io.Reader) error {
	_, err := io.Copy(f, data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Open returns the artifact at key. A missing artifact keeps fs.ErrNotExist in
// the chain so callers can tell "not built yet" from I/O failures.
func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", key, err)
	}
	return f, nil
}

// path maps a slash separated key inside the root. Keys that are empty, absolute
// or climb out of the root are rejected.
func (s *Storage) path(key string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(key))
	escapes := rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
	if key == "" || rel == "." || filepath.IsAbs(rel) || escapes {
		return "", domain.WrapError(domain.ErrInvalidInput, "artifact key", fmt.Errorf("key %q is outside the artifact root", key))
	}
	return filepath.Join(s.root, rel), nil
}
