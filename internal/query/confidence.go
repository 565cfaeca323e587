package query

import "github.com/fyrsmithlabs/docindex/internal/domain"

// Tier maps a similarity score to a confidence band: scores at or above
// high are HIGH, at or above low are MEDIUM, anything else is LOW.
func Tier(score, high, low float64) domain.Confidence {
	switch {
	case score >= high:
		return domain.ConfidenceHigh
	case score >= low:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

type citationKey struct {
	filename string
	chunkID  int
	page     int
}

// Citations projects results to citations, dropping repeats of the same
// (filename, chunk, page) and keeping first-occurrence order.
func Citations(results []domain.QueryResult) []domain.Citation {
	out := make([]domain.Citation, 0, len(results))
	seen := make(map[citationKey]struct{}, len(results))
	for _, r := range results {
		k := citationKey{r.Filename, r.ChunkID, r.Page}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, domain.Citation{
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			ChunkID:    r.ChunkID,
			Page:       r.Page,
		})
	}
	return out
}
