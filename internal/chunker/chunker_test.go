package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

// makeWords returns n distinct words separated by varied whitespace.
func makeWords(n int) string {
	var b strings.Builder
	seps := []string{" ", "  ", "\n", "\t", " \n "}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(seps[i%len(seps)])
		}
		fmt.Fprintf(&b, "w%d", i)
	}
	return b.String()
}

func TestChunk_ValidateParams(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		wantErr   bool
	}{
		{"valid", 100, 20, false},
		{"zero overlap", 100, 0, false},
		{"zero chunk size", 0, 0, true},
		{"negative chunk size", -5, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equals size", 10, 10, true},
		{"overlap exceeds size", 10, 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some words here", tt.chunkSize, tt.overlap)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunk_EmptyText(t *testing.T) {
	_, err := Chunk("", 10, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	text := "  a short text of six words  "
	chunks, err := Chunk(text, 10, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, 0, chunks[0].ID)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[0].End)
	assert.Equal(t, 6, chunks[0].WordCount)
	assert.Equal(t, text, chunks[0].Text)
}

func TestChunk_ExactlyChunkSizeWords(t *testing.T) {
	chunks, err := Chunk(makeWords(10), 10, 3)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestChunk_SlidingWindowOffsets(t *testing.T) {
	text := makeWords(2500)
	chunks, err := Chunk(text, 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	wantStarts := []int{0, 800, 1600}
	wantCounts := []int{1000, 1000, 900}
	for i, c := range chunks {
		assert.Equal(t, i, c.ID)
		assert.Equal(t, wantStarts[i], c.WordStart, "chunk %d word start", i)
		assert.Equal(t, wantCounts[i], c.WordCount, "chunk %d word count", i)
		assert.True(t, strings.HasPrefix(strings.TrimSpace(c.Text), fmt.Sprintf("w%d", wantStarts[i])))
	}
	assert.Equal(t, len(text), chunks[2].End)
}

func TestChunk_Deterministic(t *testing.T) {
	text := makeWords(537)
	first, err := Chunk(text, 64, 16)
	require.NoError(t, err)
	second, err := Chunk(text, 64, 16)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChunk_Coverage(t *testing.T) {
	texts := []string{
		makeWords(1),
		makeWords(99),
		makeWords(100),
		makeWords(101),
		makeWords(1234),
		"  leading and trailing whitespace  \n",
		"héllo wörld ünïcode tëxt with åccents and more wörds than the window",
	}
	params := []struct{ size, overlap int }{
		{1, 0}, {3, 1}, {10, 0}, {10, 9}, {50, 10}, {100, 25},
	}

	for ti, text := range texts {
		for _, p := range params {
			t.Run(fmt.Sprintf("text%d_%d_%d", ti, p.size, p.overlap), func(t *testing.T) {
				chunks, err := Chunk(text, p.size, p.overlap)
				require.NoError(t, err)

				assert.Equal(t, text, Reconstruct(text, chunks))
				assert.Equal(t, 0, chunks[0].Start)
				assert.Equal(t, len(text), chunks[len(chunks)-1].End)

				for i := 1; i < len(chunks); i++ {
					prev, cur := chunks[i-1], chunks[i]
					assert.Equal(t, prev.ID+1, cur.ID)
					if p.overlap > 0 {
						assert.LessOrEqual(t, cur.Start, prev.End, "chunk %d starts after previous end", i)
					} else {
						assert.Equal(t, prev.End, cur.Start, "gap before chunk %d", i)
					}
					assert.Equal(t, text[cur.Start:cur.End], cur.Text)
				}
			})
		}
	}
}

func TestChunkDocument_Pages(t *testing.T) {
	page1 := makeWords(30)
	page2 := " " + makeWords(30)
	doc := &domain.Document{
		ID:       "doc-1",
		Filename: "report.pdf",
		Text:     page1 + page2,
		Pages: []domain.PageStart{
			{Offset: 0, Page: 1},
			{Offset: len(page1), Page: 2},
		},
	}

	chunks, err := ChunkDocument(doc, 20, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for _, c := range chunks {
		assert.Equal(t, "doc-1", c.DocumentID)
	}
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 1, chunks[1].Page)
	assert.Equal(t, 2, chunks[2].Page)
}

func TestChunkDocument_MultiBytePages(t *testing.T) {
	// 10 words of 6 runes (18 bytes) each, so page 2 starts at rune 70 but
	// byte 190.
	page1 := strings.Repeat("नमस्ते ", 10)
	page2 := "one two three four five six seven eight nine ten"
	doc := &domain.Document{
		ID:   "hindi",
		Text: page1 + page2,
		Pages: []domain.PageStart{
			{Offset: 0, Page: 1},
			{Offset: utf8.RuneCountInString(page1), Page: 2},
		},
	}
	require.Equal(t, 70, doc.Pages[1].Offset)

	chunks, err := ChunkDocument(doc, 2, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 10)

	for i, c := range chunks {
		want := 1
		if i >= 5 {
			want = 2
		}
		assert.Equal(t, want, c.Page, "chunk %d (%q)", i, c.Text)
	}
}

func TestChunkDocument_InvalidDocument(t *testing.T) {
	_, err := ChunkDocument(&domain.Document{ID: "x"}, 10, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
