package ports

import "time"

// GenerationRequest is a single prompt exchange sent to the answer backend.
type GenerationRequest struct {
	System string
	User   string
	// JSON asks the backend to constrain its output to a JSON object when it supports it.
	JSON bool
}

// IndexReport summarises one corpus indexing run.
type IndexReport struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Embedded  int    `json:"embedded"`
	Revision  uint64 `json:"revision"`
}

// ReindexRequest is a queued request to rebuild the corpus.
type ReindexRequest struct {
	Reason      string
	RequestedAt time.Time
}
