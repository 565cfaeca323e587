package synthesis

import "strings"

// SummaryType selects the summary prompt.
type SummaryType string

const (
	SummaryShort        SummaryType = "short"
	SummaryGeneral      SummaryType = "general"
	SummaryDetailed     SummaryType = "detailed"
	SummaryBulletPoints SummaryType = "bullet_points"
	SummaryKeyPoints    SummaryType = "key_points"
)

// DefaultSummaryType is used when no type is requested.
const DefaultSummaryType = SummaryShort

// SummaryTypes lists every supported summary type.
func SummaryTypes() []SummaryType {
	return []SummaryType{SummaryShort, SummaryGeneral, SummaryDetailed, SummaryBulletPoints, SummaryKeyPoints}
}

// ParseSummaryType parses s, accepting any case and hyphens for underscores.
// An empty string yields DefaultSummaryType.
func ParseSummaryType(s string) (SummaryType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultSummaryType, nil
	}
	t := SummaryType(strings.ReplaceAll(s, "-", "_"))
	for _, known := range SummaryTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", errUnknownType(t)
}
