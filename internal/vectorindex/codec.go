package vectorindex

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

const (
	formatMagic   = "DOCIDX"
	formatVersion = 1

	// unitTolerance bounds how far a stored row may drift from unit length.
	unitTolerance = 1e-3
)

type fileHeader struct {
	Magic     string
	Version   int
	Dimension int
	Count     int
	Type      domain.IndexType
}

type fileBody struct {
	IDs   []int
	Norms []float32
	Data  []float32
}

// Encode writes the index as a gob header followed by a gob body.
func (x *Index) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(fileHeader{
		Magic:     formatMagic,
		Version:   formatVersion,
		Dimension: x.dimension,
		Count:     len(x.ids),
		Type:      x.indexType,
	}); err != nil {
		return fmt.Errorf("encoding index header: %w", err)
	}
	if err := enc.Encode(fileBody{IDs: x.ids, Norms: x.norms, Data: x.data}); err != nil {
		return fmt.Errorf("encoding index body: %w", err)
	}
	return nil
}

// Decode reads an index written by Encode. Any structural problem is reported
// as domain.ErrIndexCorruption.
func Decode(r io.Reader) (*Index, error) {
	dec := gob.NewDecoder(r)

	var hdr fileHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, corrupt("reading header: %v", err)
	}
	if hdr.Magic != formatMagic {
		return nil, corrupt("bad magic %q", hdr.Magic)
	}
	if hdr.Version != formatVersion {
		return nil, corrupt("unsupported format version %d", hdr.Version)
	}
	if hdr.Type != domain.IndexTypeExact {
		return nil, corrupt("unsupported index type %q", hdr.Type)
	}
	if hdr.Dimension <= 0 || hdr.Count <= 0 {
		return nil, corrupt("invalid shape %dx%d", hdr.Count, hdr.Dimension)
	}

	var body fileBody
	if err := dec.Decode(&body); err != nil {
		return nil, corrupt("reading body: %v", err)
	}
	if len(body.IDs) != hdr.Count || len(body.Norms) != hdr.Count || len(body.Data) != hdr.Count*hdr.Dimension {
		return nil, corrupt("body does not match header shape %dx%d", hdr.Count, hdr.Dimension)
	}

	x := &Index{
		dimension: hdr.Dimension,
		indexType: hdr.Type,
		ids:       body.IDs,
		norms:     body.Norms,
		data:      body.Data,
	}

	seen := make(map[int]struct{}, hdr.Count)
	for i, id := range x.ids {
		if _, dup := seen[id]; dup {
			return nil, corrupt("duplicate chunk id %d", id)
		}
		seen[id] = struct{}{}

		n := float64(x.norms[i])
		if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
			return nil, corrupt("chunk %d has invalid norm", id)
		}
		var sum float64
		for _, v := range x.row(i) {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, corrupt("chunk %d has non-finite values", id)
			}
			sum += f * f
		}
		if math.Abs(math.Sqrt(sum)-1) > unitTolerance {
			return nil, corrupt("chunk %d is not normalized", id)
		}
	}
	return x, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrIndexCorruption}, args...)...)
}
