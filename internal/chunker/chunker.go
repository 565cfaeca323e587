// Package chunker splits document text into overlapping word windows.
//
// Windows are measured in words but every chunk records its character span,
// so page lookup and citation text are exact. Chunking is a pure function:
// the same text and parameters always yield the same boundaries and ids.
package chunker

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

// Defaults match the window the ingestion workflow has always used.
const (
	DefaultChunkSize = 250
	DefaultOverlap   = 50
)

// span is a half-open byte range.
type span struct {
	start, end int
}

// Chunk splits text into windows of chunkSize words, each starting
// chunkSize-overlap words after the previous one.
//
// The first chunk starts at offset 0 and the last ends at len(text). An
// interior chunk ends where the word after its last word begins, so with
// overlap 0 consecutive chunks are contiguous.
func Chunk(text string, chunkSize, overlap int) ([]domain.Chunk, error) {
	if err := ValidateParams(chunkSize, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", domain.ErrValidation)
	}

	words := wordSpans(text)
	n := len(words)

	if n <= chunkSize {
		return []domain.Chunk{{
			ID:        0,
			Start:     0,
			End:       len(text),
			WordStart: 0,
			WordEnd:   n,
			WordCount: n,
			Text:      text,
		}}, nil
	}

	step := chunkSize - overlap
	chunks := make([]domain.Chunk, 0, (n-overlap+step-1)/step)
	for i := 0; ; i++ {
		ws := i * step
		we := ws + chunkSize
		if we > n {
			we = n
		}

		start := words[ws].start
		if i == 0 {
			start = 0
		}
		end := len(text)
		if we < n {
			end = words[we].start
		}

		chunks = append(chunks, domain.Chunk{
			ID:        i,
			Start:     start,
			End:       end,
			WordStart: ws,
			WordEnd:   we,
			WordCount: we - ws,
			Text:      text[start:end],
		})

		if we == n {
			break
		}
	}
	return chunks, nil
}

// ChunkDocument chunks a document and fills in document id and page numbers.
// The page of a chunk is the page containing its first word. Page offsets
// count characters while chunk spans are byte offsets.
func ChunkDocument(doc *domain.Document, chunkSize, overlap int) ([]domain.Chunk, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	chunks, err := Chunk(doc.Text, chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	// Chunk starts are non-decreasing, so runes are counted incrementally.
	bytePos, runePos := 0, 0
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		first := firstWordOffset(doc.Text, chunks[i].Start)
		runePos += utf8.RuneCountInString(doc.Text[bytePos:first])
		bytePos = first
		chunks[i].Page = doc.PageAt(runePos)
	}
	return chunks, nil
}

// ValidateParams rejects windows that cannot advance.
func ValidateParams(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", domain.ErrValidation, chunkSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", domain.ErrValidation, overlap)
	}
	if overlap >= chunkSize {
		return fmt.Errorf("%w: overlap (%d) must be smaller than chunk_size (%d)", domain.ErrValidation, overlap, chunkSize)
	}
	return nil
}

// Reconstruct joins chunk spans with overlaps removed. It is the inverse of
// Chunk for any valid parameters.
func Reconstruct(text string, chunks []domain.Chunk) string {
	out := make([]byte, 0, len(text))
	covered := 0
	for _, c := range chunks {
		if c.End <= covered {
			continue
		}
		from := c.Start
		if from < covered {
			from = covered
		}
		out = append(out, text[from:c.End]...)
		covered = c.End
	}
	return string(out)
}

// wordSpans returns the byte spans of maximal runs of non-space runes.
func wordSpans(text string) []span {
	var words []span
	inWord := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, span{start, i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, span{start, len(text)})
	}
	return words
}

// firstWordOffset skips leading whitespace from offset.
func firstWordOffset(text string, offset int) int {
	for offset < len(text) {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if !unicode.IsSpace(r) {
			return offset
		}
		offset += size
	}
	return offset
}
