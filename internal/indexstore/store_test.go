package indexstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/vectorindex"
)

func openStore(t *testing.T, retain int) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{RetainVersions: retain})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixture builds a small index whose chunk i points mostly along axis i%3.
func fixture(t *testing.T, docID string, n int) (*vectorindex.Index, []domain.Chunk) {
	t.Helper()
	vectors := make([]vectorindex.ChunkVector, n)
	chunks := make([]domain.Chunk, n)
	for i := 0; i < n; i++ {
		v := []float32{0.1, 0.1, 0.1}
		v[i%3] = float32(1 + i)
		vectors[i] = vectorindex.ChunkVector{ChunkID: i, Vector: v}
		chunks[i] = domain.Chunk{ID: i, DocumentID: docID, Start: i * 10, End: i*10 + 10, Page: 1, Text: "chunk"}
	}
	idx, err := vectorindex.Build(vectors)
	require.NoError(t, err)
	return idx, chunks
}

func entries(t *testing.T, s *Store, docID string) []string {
	t.Helper()
	list, err := os.ReadDir(filepath.Join(s.Dir(), docsDir, DocKey(docID)))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestPersistLoad_RoundTrip(t *testing.T) {
	s := openStore(t, 2)
	ctx := context.Background()
	idx, chunks := fixture(t, "doc-1", 7)

	rec, err := s.Persist(ctx, Artifact{DocumentID: "doc-1", Filename: "report.pdf", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)
	assert.True(t, rec.Current)
	assert.Equal(t, "report.pdf", rec.Filename)
	assert.Equal(t, 7, rec.ChunkCount)
	assert.Equal(t, 3, rec.Dimension)
	assert.Equal(t, domain.IndexTypeExact, rec.IndexType)
	assert.Len(t, rec.Checksum, 64)

	loaded, err := s.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, loaded.Record.Version)
	assert.Equal(t, "report.pdf", loaded.Record.Filename)
	assert.Equal(t, chunks, loaded.Chunks)

	for _, q := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0.3, 0.3, 0.9}, {-1, 2, 0.5}} {
		want, err := idx.Search(q, 4)
		require.NoError(t, err)
		got, err := loaded.Index.Search(q, 4)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	c, ok := loaded.Chunk(3)
	require.True(t, ok)
	assert.Equal(t, 30, c.Start)
	_, ok = loaded.Chunk(99)
	assert.False(t, ok)

	assert.Equal(t, []string{"v1"}, entries(t, s, "doc-1"))
}

func TestPersist_NewVersionBecomesCurrent(t *testing.T) {
	s := openStore(t, 5)
	ctx := context.Background()

	idx, chunks := fixture(t, "doc", 3)
	_, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)

	next, err := s.NextVersion(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	idx2, chunks2 := fixture(t, "doc", 5)
	_, err = s.Persist(ctx, Artifact{DocumentID: "doc", Version: next, Index: idx2, Chunks: chunks2})
	require.NoError(t, err)

	cur, err := s.Current(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, 5, cur.ChunkCount)

	history, err := s.History(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.True(t, history[0].Current)
	assert.False(t, history[1].Current)

	_, err = s.Persist(ctx, Artifact{DocumentID: "doc", Version: 2, Index: idx2, Chunks: chunks2})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexBuildFailed)
	assert.ElementsMatch(t, []string{"v1", "v2"}, entries(t, s, "doc"))
}

func TestPersist_CanceledLeavesPreviousVersion(t *testing.T) {
	s := openStore(t, 2)
	idx, chunks := fixture(t, "doc", 3)
	_, err := s.Persist(context.Background(), Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx2, chunks2 := fixture(t, "doc", 4)
	_, err = s.Persist(ctx, Artifact{DocumentID: "doc", Version: 2, Index: idx2, Chunks: chunks2})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexBuildFailed)
	assert.ErrorIs(t, err, context.Canceled)

	cur, err := s.Current(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Version)
	assert.Equal(t, []string{"v1"}, entries(t, s, "doc"), "no staging or partial version left behind")
}

func TestPersist_Validation(t *testing.T) {
	s := openStore(t, 1)
	idx, chunks := fixture(t, "doc", 3)

	_, err := s.Persist(context.Background(), Artifact{DocumentID: "", Version: 1, Index: idx, Chunks: chunks})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Persist(context.Background(), Artifact{DocumentID: "doc", Version: 0, Index: idx, Chunks: chunks})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Persist(context.Background(), Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks[:2]})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoad_NotFound(t *testing.T) {
	s := openStore(t, 1)
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Current(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoad_Corruption(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, s *Store, rec *domain.IndexRecord)
	}{
		{
			name: "flipped byte in index",
			damage: func(t *testing.T, s *Store, rec *domain.IndexRecord) {
				path := s.abs(rec.IndexPath)
				raw, err := os.ReadFile(path)
				require.NoError(t, err)
				raw[len(raw)-1] ^= 0xff
				require.NoError(t, os.WriteFile(path, raw, 0600))
			},
		},
		{
			name: "index missing",
			damage: func(t *testing.T, s *Store, rec *domain.IndexRecord) {
				require.NoError(t, os.Remove(s.abs(rec.IndexPath)))
			},
		},
		{
			name: "chunks missing",
			damage: func(t *testing.T, s *Store, rec *domain.IndexRecord) {
				require.NoError(t, os.Remove(s.abs(rec.ChunksPath)))
			},
		},
		{
			name: "chunks truncated",
			damage: func(t *testing.T, s *Store, rec *domain.IndexRecord) {
				require.NoError(t, os.WriteFile(s.abs(rec.ChunksPath), []byte(`[{"chunk_id":0}]`), 0600))
			},
		},
		{
			name: "chunks not json",
			damage: func(t *testing.T, s *Store, rec *domain.IndexRecord) {
				require.NoError(t, os.WriteFile(s.abs(rec.ChunksPath), []byte(`nope`), 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t, 1)
			idx, chunks := fixture(t, "doc", 4)
			rec, err := s.Persist(context.Background(), Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
			require.NoError(t, err)

			tt.damage(t, s, rec)

			_, err = s.Load(context.Background(), "doc")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrIndexCorruption)
		})
	}
}

func TestLoadRecord_RecordMismatch(t *testing.T) {
	s := openStore(t, 1)
	idx, chunks := fixture(t, "doc", 4)
	rec, err := s.Persist(context.Background(), Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)

	bad := *rec
	bad.Dimension = 8
	_, err = s.LoadRecord(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrIndexCorruption)

	bad = *rec
	bad.ChunkCount = 5
	_, err = s.LoadRecord(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrIndexCorruption)
}

func TestRetention(t *testing.T) {
	s := openStore(t, 2)
	ctx := context.Background()

	for v := 1; v <= 4; v++ {
		idx, chunks := fixture(t, "doc", v+1)
		_, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: v, Index: idx, Chunks: chunks})
		require.NoError(t, err)
	}
	assert.Len(t, entries(t, s, "doc"), 4, "persist alone never drops versions")

	assert.Equal(t, 2, s.Prune(ctx, "doc"))
	assert.Equal(t, 0, s.Prune(ctx, "doc"))

	history, err := s.History(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].Version)
	assert.Equal(t, 3, history[1].Version)
	assert.ElementsMatch(t, []string{"v3", "v4"}, entries(t, s, "doc"))

	next, err := s.NextVersion(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}

func TestPersist_PriorVersionLoadableUntilPrune(t *testing.T) {
	s := openStore(t, 1)
	ctx := context.Background()

	idx, chunks := fixture(t, "doc", 3)
	v1, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)
	idx2, chunks2 := fixture(t, "doc", 4)
	_, err = s.Persist(ctx, Artifact{DocumentID: "doc", Version: 2, Index: idx2, Chunks: chunks2})
	require.NoError(t, err)

	loaded, err := s.LoadRecord(ctx, *v1)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Index.Len())

	assert.Equal(t, 1, s.Prune(ctx, "doc"))
	_, err = s.LoadRecord(ctx, *v1)
	assert.ErrorIs(t, err, domain.ErrIndexCorruption)
	assert.Equal(t, []string{"v2"}, entries(t, s, "doc"))
}

func TestDeleteVersion(t *testing.T) {
	s := openStore(t, 3)
	ctx := context.Background()

	idx, chunks := fixture(t, "doc", 3)
	_, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)
	idx2, chunks2 := fixture(t, "doc", 5)
	v2, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: 2, Index: idx2, Chunks: chunks2})
	require.NoError(t, err)

	t.Run("checksum mismatch leaves the version alone", func(t *testing.T) {
		other := *v2
		other.Checksum = strings.Repeat("0", 64)
		require.NoError(t, s.DeleteVersion(ctx, other))
		cur, err := s.Current(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, 2, cur.Version)
		assert.ElementsMatch(t, []string{"v1", "v2"}, entries(t, s, "doc"))
	})

	t.Run("current version falls back to the newest remaining", func(t *testing.T) {
		require.NoError(t, s.DeleteVersion(ctx, *v2))
		cur, err := s.Current(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, 1, cur.Version)
		assert.Equal(t, []string{"v1"}, entries(t, s, "doc"))

		_, err = s.Load(ctx, "doc")
		assert.NoError(t, err)
	})
}

func TestListCurrentAndDelete(t *testing.T) {
	s := openStore(t, 2)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		idx, chunks := fixture(t, id, 2)
		_, err := s.Persist(ctx, Artifact{DocumentID: id, Version: 1, Index: idx, Chunks: chunks})
		require.NoError(t, err)
	}

	current, err := s.ListCurrent(ctx)
	require.NoError(t, err)
	require.Len(t, current, 3)
	assert.Equal(t, "a", current[0].DocumentID)
	assert.Equal(t, "c", current[2].DocumentID)

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "b"), "delete is idempotent")
	_, err = s.Current(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, entries(t, s, "b"))

	current, err = s.ListCurrent(ctx)
	require.NoError(t, err)
	assert.Len(t, current, 2)
}

func TestCleanupStaging(t *testing.T) {
	s := openStore(t, 2)
	ctx := context.Background()
	idx, chunks := fixture(t, "doc", 2)
	_, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)

	docDir := filepath.Join(s.Dir(), docsDir, DocKey("doc"))
	require.NoError(t, os.MkdirAll(filepath.Join(docDir, stagingPrefix+"crashed"), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(docDir, "v7"), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Dir(), docsDir, DocKey("other"), stagingPrefix+"x"), 0700))

	removed, err := s.CleanupStaging(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{"v1"}, entries(t, s, "doc"))

	_, err = s.Load(ctx, "doc")
	assert.NoError(t, err)
}

func TestReopenKeepsCatalog(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, Options{RetainVersions: 1})
	require.NoError(t, err)
	idx, chunks := fixture(t, "doc", 3)
	rec, err := s.Persist(ctx, Artifact{DocumentID: "doc", Version: 1, Index: idx, Chunks: chunks})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{RetainVersions: 1})
	require.NoError(t, err)
	defer s.Close()

	cur, err := s.Current(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, rec.Checksum, cur.Checksum)
	assert.True(t, rec.BuiltAt.Equal(cur.BuiltAt))
}

func TestDocKey(t *testing.T) {
	assert.Equal(t, "646f632d31", DocKey("doc-1"))
	assert.Equal(t, DocKey("a/../b"), DocKey("a/../b"))
	assert.NotContains(t, DocKey("a/../b"), "/")

	long := DocKey(strings.Repeat("x", 200))
	assert.True(t, strings.HasPrefix(long, "h-"))
	assert.Len(t, long, 66)
}
