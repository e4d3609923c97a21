package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

var DefaultIncludes = []string{"**/*.md", "**/*.pdf", "**/*.txt"}

// DirLoader reads every matching corpus file under a root directory.
type DirLoader struct {
	root     string
	includes []string
	excludes []string
	logger   *slog.Logger
}

func NewDirLoader(root string, includes, excludes []string, logger *slog.Logger) *DirLoader {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirLoader{root: root, includes: includes, excludes: excludes, logger: logger}
}

func (l *DirLoader) LoadDocuments(ctx context.Context) ([]domain.SourceDocument, error) {
	paths, err := l.walk()
	if err != nil {
		return nil, err
	}

	docs := make([]domain.SourceDocument, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.parse(path)
		if err != nil {
			return nil, err
		}
		if len(doc.Sections) == 0 {
			l.logger.Warn("corpus_file_empty", "file", path)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *DirLoader) parse(path string) (domain.SourceDocument, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return ParsePDF(path)
	case ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.SourceDocument{}, fmt.Errorf("read %s: %w", path, err)
		}
		return ParseMarkdown(path, data)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.SourceDocument{}, fmt.Errorf("read %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			return domain.SourceDocument{}, domain.WrapError(domain.ErrInvalidInput, "parse corpus file", fmt.Errorf("unsupported binary format: %s", path))
		}
		return singleSectionDocument(path, string(data)), nil
	}
}

func (l *DirLoader) walk() ([]string, error) {
	root, err := filepath.Abs(l.root)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus dir: %w", err)
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && l.matches(l.excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if l.matches(l.includes, rel) && !l.matches(l.excludes, rel) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus dir %s: %w", l.root, err)
	}
	sort.Strings(out)
	return out, nil
}

func (l *DirLoader) matches(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
