// Package chunking cuts document sections into overlapping character windows.
package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const (
	DefaultChunkSize       = 900
	DefaultOverlap         = 120
	DefaultMinSectionChars = 40
)

type Splitter struct {
	ChunkSize int
	Overlap   int
	// Sections with less trimmed text than this are skipped entirely.
	MinSectionChars int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize:       chunkSize,
		Overlap:         overlap,
		MinSectionChars: DefaultMinSectionChars,
	}
}

// Split windows text by runes; each window after the first starts Overlap runes
// before the previous one ended.
func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ChunkDocument numbers chunks per document across all of its sections, so ids stay
// stable as long as the document text does.
func (s *Splitter) ChunkDocument(doc domain.SourceDocument) []domain.Chunk {
	var out []domain.Chunk
	for _, section := range doc.Sections {
		if utf8.RuneCountInString(strings.TrimSpace(section.Text)) < s.MinSectionChars {
			continue
		}
		for _, piece := range s.Split(section.Text) {
			out = append(out, domain.Chunk{
				ChunkID:     domain.ChunkID(doc.DocID, len(out)),
				DocID:       doc.DocID,
				SectionPath: section.Path,
				Text:        piece,
				Metadata: domain.ChunkMetadata{
					Title:       doc.Title,
					Category:    doc.Category,
					AppliesTo:   doc.AppliesTo,
					Version:     doc.Version,
					LastUpdated: doc.LastUpdated,
					SourceFile:  doc.SourceFile,
					StartLine:   section.StartLine,
					EndLine:     section.EndLine,
				},
			})
		}
	}
	return out
}
