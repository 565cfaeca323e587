package http

import (
	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/registry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Documents map[registry.State]int `json:"documents"`
}

// IngestRequest is the request body for POST /api/v1/documents.
// Page offsets count characters; result start/end are byte offsets.
type IngestRequest struct {
	DocumentID string             `json:"document_id"`
	Filename   string             `json:"filename"`
	Text       string             `json:"text"`
	Pages      []domain.PageStart `json:"pages,omitempty"`
}

// IndexRequest is the optional request body for
// POST /api/v1/documents/:id/index. Zero values select the configured
// defaults.
type IndexRequest struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}

// DocumentList is the response body for GET /api/v1/documents.
type DocumentList struct {
	Documents []registry.Entry `json:"documents"`
	Total     int              `json:"total"`
}

// DeleteResponse is the response body for DELETE /api/v1/documents/:id.
type DeleteResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// countStates tallies entries per state. Every state is present.
func countStates(entries []registry.Entry) map[registry.State]int {
	out := make(map[registry.State]int, len(registry.States()))
	for _, s := range registry.States() {
		out[s] = 0
	}
	for _, e := range entries {
		out[e.State]++
	}
	return out
}
