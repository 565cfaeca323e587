package domain

import (
	"fmt"
	"sort"
	"time"
)

// PageStart marks the character (rune) offset at which a page begins.
type PageStart struct {
	Offset int `json:"offset"`
	Page   int `json:"page"`
}

// Document is extracted text submitted for indexing.
//
// Text is immutable once a build has snapshotted it; registering new text
// under the same ID produces a new Version.
type Document struct {
	ID       string      `json:"document_id"`
	Filename string      `json:"filename"`
	Text     string      `json:"-"`
	Pages    []PageStart `json:"pages,omitempty"`
	Version  int         `json:"version"`
	AddedAt  time.Time   `json:"added_at"`
}

// Validate checks the document can be chunked.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: document id required", ErrValidation)
	}
	if d.Text == "" {
		return fmt.Errorf("%w: document text required", ErrValidation)
	}
	for i, p := range d.Pages {
		if p.Offset < 0 || p.Page <= 0 {
			return fmt.Errorf("%w: page mapping entry %d is invalid", ErrValidation, i)
		}
		if i > 0 && p.Offset <= d.Pages[i-1].Offset {
			return fmt.Errorf("%w: page mapping offsets must be strictly increasing", ErrValidation)
		}
	}
	return nil
}

// PageAt returns the page containing the given character offset.
// Documents without a page mapping are treated as a single page.
func (d *Document) PageAt(offset int) int {
	if len(d.Pages) == 0 {
		return 1
	}
	i := sort.Search(len(d.Pages), func(i int) bool {
		return d.Pages[i].Offset > offset
	})
	if i == 0 {
		return d.Pages[0].Page
	}
	return d.Pages[i-1].Page
}

// Chunk is a contiguous span of a document used as the unit of retrieval.
// Start and End are byte offsets into the document text.
type Chunk struct {
	ID         int    `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	WordStart  int    `json:"word_start"`
	WordEnd    int    `json:"word_end"`
	WordCount  int    `json:"word_count"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
}

// IndexType tags how a vector index answers searches.
type IndexType string

const (
	// IndexTypeExact is a full-scan inner-product index.
	IndexTypeExact IndexType = "exact"
	// IndexTypeApproximate is reserved for bounded-recall structures.
	IndexTypeApproximate IndexType = "approximate"
)

// IndexRecord describes one committed version of a document's index.
type IndexRecord struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Version    int       `json:"version"`
	IndexPath  string    `json:"index_path"`
	ChunksPath string    `json:"chunks_path"`
	BuiltAt    time.Time `json:"built_at"`
	ChunkCount int       `json:"chunk_count"`
	Dimension  int       `json:"embedding_dimension"`
	IndexType  IndexType `json:"index_type"`
	Checksum   string    `json:"checksum"`
	Current    bool      `json:"current"`
}

// Confidence is a discrete band derived from a similarity score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// QueryResult is one ranked retrieval hit. It lives for a single response.
// Start and End are byte offsets into the document text.
type QueryResult struct {
	DocumentID string     `json:"document_id"`
	ChunkID    int        `json:"chunk_id"`
	Filename   string     `json:"filename"`
	Text       string     `json:"text"`
	Score      float64    `json:"similarity_score"`
	Confidence Confidence `json:"confidence"`
	Page       int        `json:"page_number"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
}

// Citation identifies the source backing a result.
type Citation struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkID    int    `json:"chunk_id"`
	Page       int    `json:"page_number"`
}
