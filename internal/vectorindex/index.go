// Package vectorindex holds the immutable per-document vector index.
//
// An Index is built once from chunk vectors, normalized to unit length, and
// never mutated; growth means building a new Index. Search is an exact full
// scan whose ordering is fully deterministic: score descending, then chunk id
// ascending.
package vectorindex

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

// ChunkVector is one embedded chunk.
type ChunkVector struct {
	ChunkID int
	Vector  []float32
	// Norm is the length of the vector as produced by the embedder.
	Norm float32
}

// Hit is a search result.
type Hit struct {
	ChunkID int
	Score   float64
}

// Index is an immutable exact-search index over unit vectors.
type Index struct {
	dimension int
	indexType domain.IndexType
	ids       []int
	norms     []float32
	data      []float32 // len(ids)*dimension, row-major, normalized
}

// Build validates and normalizes vectors into a new Index. The caller's
// slices are copied, never retained.
func Build(vectors []ChunkVector) (*Index, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to index", domain.ErrValidation)
	}
	dim := len(vectors[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-dimension vectors", domain.ErrValidation)
	}

	idx := &Index{
		dimension: dim,
		indexType: domain.IndexTypeExact,
		ids:       make([]int, len(vectors)),
		norms:     make([]float32, len(vectors)),
		data:      make([]float32, len(vectors)*dim),
	}
	seen := make(map[int]struct{}, len(vectors))

	for i, cv := range vectors {
		if len(cv.Vector) != dim {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, expected %d", domain.ErrValidation, cv.ChunkID, len(cv.Vector), dim)
		}
		if _, dup := seen[cv.ChunkID]; dup {
			return nil, fmt.Errorf("%w: duplicate chunk id %d", domain.ErrValidation, cv.ChunkID)
		}
		seen[cv.ChunkID] = struct{}{}

		norm, err := vectorNorm(cv.Vector)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", domain.ErrValidation, cv.ChunkID, err)
		}

		idx.ids[i] = cv.ChunkID
		idx.norms[i] = float32(norm)
		row := idx.data[i*dim : (i+1)*dim]
		for j, x := range cv.Vector {
			row[j] = float32(float64(x) / norm)
		}
	}
	return idx, nil
}

func vectorNorm(v []float32) (float64, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("non-finite component")
		}
		sum += f * f
	}
	if sum == 0 {
		return 0, fmt.Errorf("zero-norm vector")
	}
	return math.Sqrt(sum), nil
}

// Dimension returns the vector dimension.
func (x *Index) Dimension() int { return x.dimension }

// Len returns the number of vectors.
func (x *Index) Len() int { return len(x.ids) }

// Type returns the index type tag.
func (x *Index) Type() domain.IndexType { return x.indexType }

// ChunkIDs returns the chunk ids in index order.
func (x *Index) ChunkIDs() []int {
	return append([]int(nil), x.ids...)
}

// Vectors returns copies of the normalized vectors with their original norms.
func (x *Index) Vectors() []ChunkVector {
	out := make([]ChunkVector, len(x.ids))
	for i, id := range x.ids {
		out[i] = ChunkVector{
			ChunkID: id,
			Vector:  append([]float32(nil), x.row(i)...),
			Norm:    x.norms[i],
		}
	}
	return out
}

func (x *Index) row(i int) []float32 {
	return x.data[i*x.dimension : (i+1)*x.dimension]
}

// Merge builds a new Index over the union of x and other. Chunk ids must not
// overlap.
func (x *Index) Merge(other *Index) (*Index, error) {
	return Build(append(x.Vectors(), other.Vectors()...))
}

// Search returns the k best hits for query by cosine similarity, ordered by
// score descending with ties broken by ascending chunk id.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrValidation, k)
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", domain.ErrValidation, len(query), x.dimension)
	}
	norm, err := vectorNorm(query)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrValidation, err)
	}

	q := make([]float64, len(query))
	for i, v := range query {
		q[i] = float64(v) / norm
	}

	h := make(hitHeap, 0, min(k, len(x.ids)))
	for i, id := range x.ids {
		var score float64
		for j, v := range x.row(i) {
			score += q[j] * float64(v)
		}
		hit := Hit{ChunkID: id, Score: score}

		switch {
		case len(h) < k:
			heap.Push(&h, hit)
		case better(hit, h[0]):
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	hits := []Hit(h)
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
	return hits, nil
}

// better orders hits by score descending, then chunk id ascending.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ChunkID < b.ChunkID
}

// hitHeap is a min-heap with the worst kept hit at the root.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(v any)        { *h = append(*h, v.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
