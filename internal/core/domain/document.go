package domain

import "fmt"

// SourceDocument is a parsed corpus file before chunking.
type SourceDocument struct {
	DocID       string    `json:"doc_id" yaml:"doc_id"`
	Title       string    `json:"title" yaml:"title"`
	Category    string    `json:"category" yaml:"category"`
	Version     string    `json:"version" yaml:"version"`
	LastUpdated string    `json:"last_updated" yaml:"last_updated"`
	AppliesTo   []string  `json:"applies_to" yaml:"applies_to"`
	SourceFile  string    `json:"source_file" yaml:"-"`
	Sections    []Section `json:"sections" yaml:"-"`
}

type Section struct {
	Path      string `json:"section_path"`
	Text      string `json:"text"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type ChunkMetadata struct {
	Title       string   `json:"title,omitempty"`
	Category    string   `json:"category,omitempty"`
	AppliesTo   []string `json:"applies_to,omitempty"`
	Version     string   `json:"version,omitempty"`
	LastUpdated string   `json:"last_updated,omitempty"`
	SourceFile  string   `json:"source_file,omitempty"`
	StartLine   int      `json:"start_line,omitempty"`
	EndLine     int      `json:"end_line,omitempty"`
}

// Chunk is the unit of retrieval and citation. Immutable once indexed.
type Chunk struct {
	ChunkID     string        `json:"chunk_id"`
	DocID       string        `json:"doc_id"`
	SectionPath string        `json:"section_path"`
	Text        string        `json:"text"`
	Metadata    ChunkMetadata `json:"metadata"`
}

// ChunkID formats the stable identifier of the index-th chunk of a document.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s::c%04d", docID, index)
}
