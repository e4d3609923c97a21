// Package ingest parses the raw corpus (markdown with frontmatter, PDF, plain text)
// into source documents and persists the chunk artifact.
package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const (
	rootSection    = "(root)"
	pathSeparator  = " > "
	defaultVersion = "1.0"
	defaultCat     = "unknown"
)

var headingRE = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)

type frontmatter struct {
	DocID       string `yaml:"doc_id"`
	Title       string `yaml:"title"`
	Category    string `yaml:"category"`
	Version     any    `yaml:"version"`
	LastUpdated any    `yaml:"last_updated"`
	AppliesTo   any    `yaml:"applies_to"`
}

// ParseMarkdown reads optional YAML frontmatter and splits the body into heading
// sections. Missing metadata falls back to the file stem and defaults.
func ParseMarkdown(sourceFile string, data []byte) (domain.SourceDocument, error) {
	meta, body, err := splitFrontmatter(data)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("parse frontmatter of %s: %w", sourceFile, err)
	}

	stem := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	doc := domain.SourceDocument{
		DocID:       firstNonEmpty(meta.DocID, stem),
		Title:       firstNonEmpty(meta.Title, stem),
		Category:    firstNonEmpty(meta.Category, defaultCat),
		Version:     firstNonEmpty(scalarString(meta.Version), defaultVersion),
		LastUpdated: scalarString(meta.LastUpdated),
		AppliesTo:   stringList(meta.AppliesTo),
		SourceFile:  filepath.Base(sourceFile),
		Sections:    splitSections(body),
	}
	return doc, nil
}

func splitFrontmatter(data []byte) (frontmatter, string, error) {
	var meta frontmatter
	text := strings.ReplaceAll(string(bytes.TrimPrefix(data, []byte("\ufeff"))), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return meta, text, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, text, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return meta, "", err
	}
	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return meta, body, nil
}

type heading struct {
	level int
	title string
}

// splitSections tracks a heading stack; text before the first heading belongs to
// the (root) section. Line numbers are 1-based within the body.
func splitSections(body string) []domain.Section {
	lines := strings.Split(body, "\n")
	var (
		out   []domain.Section
		stack []heading
		buf   []string
		path  = rootSection
		start = 1
	)

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			out = append(out, domain.Section{
				Path:      path,
				Text:      text,
				StartLine: start,
				EndLine:   start + max(0, len(buf)-1),
			})
		}
		buf = buf[:0]
	}

	for i, line := range lines {
		m := headingRE.FindStringSubmatch(line)
		if m == nil {
			buf = append(buf, line)
			continue
		}
		flush()
		level := len(m[1])
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, heading{level: level, title: strings.Join(strings.Fields(m[2]), " ")})

		titles := make([]string, len(stack))
		for j, h := range stack {
			titles[j] = h.title
		}
		path = strings.Join(titles, pathSeparator)
		start = i + 2
	}
	flush()
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.Format(time.DateOnly)
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := scalarString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := scalarString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
