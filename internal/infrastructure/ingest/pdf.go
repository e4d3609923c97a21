package ingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// ParsePDF extracts plain text into a single (root) section. The pdf library
// works with file paths, so callers pass the on-disk location.
func ParsePDF(path string) (domain.SourceDocument, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := rdr.GetPlainText()
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("read pdf text %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return domain.SourceDocument{}, fmt.Errorf("copy pdf text %s: %w", path, err)
	}
	return singleSectionDocument(path, buf.String()), nil
}

func singleSectionDocument(path, text string) domain.SourceDocument {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := domain.SourceDocument{
		DocID:      stem,
		Title:      stem,
		Category:   defaultCat,
		Version:    defaultVersion,
		SourceFile: filepath.Base(path),
	}
	text = strings.TrimSpace(text)
	if text != "" {
		doc.Sections = []domain.Section{{
			Path:      rootSection,
			Text:      text,
			StartLine: 1,
			EndLine:   strings.Count(text, "\n") + 1,
		}}
	}
	return doc
}
