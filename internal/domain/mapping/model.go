package mapping

import (
	"fmt"
	"unicode/utf8"
)

// MappingRecord is a row of the externally maintained mapping table.
type MappingRecord struct {
	HomegrownName      string `db:"homegrown_name" json:"homegrown_name"`
	SNOMEDCode         string `db:"snomed_code" json:"snomed_code"`
	SNOMEDStandardName string `db:"snomed_standard_name" json:"snomed_standard_name"`
}

// SearchResult is a single match returned to callers.
type SearchResult struct {
	HomegrownName string  `json:"homegrown_name"`
	SNOMEDCode    string  `json:"snomed_code"`
	SNOMEDName    string  `json:"snomed_name"`
	Score         float64 `json:"score"`
}

// SearchResponse is the payload of a mapping search. Query echoes the raw
// query as received, not its normalized form.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchRequest carries the boundary-validated search parameters.
type SearchRequest struct {
	Query string
	Limit int
}

const (
	MinQueryLength = 2
	DefaultLimit   = 10
	MaxLimit       = 50

	// PlaceholderScore is reported for every match. It is not a relevance
	// measure.
	PlaceholderScore = 0.8
)

// Validate rejects queries shorter than MinQueryLength runes and limits
// outside [1, MaxLimit].
func (r SearchRequest) Validate() error {
	if utf8.RuneCountInString(r.Query) < MinQueryLength {
		return fmt.Errorf("%w: query parameter 'q' must be at least %d characters", ErrInvalidRequest, MinQueryLength)
	}
	if r.Limit < 1 || r.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, MaxLimit)
	}
	return nil
}

func toResult(rec *MappingRecord) SearchResult {
	return SearchResult{
		HomegrownName: rec.HomegrownName,
		SNOMEDCode:    rec.SNOMEDCode,
		SNOMEDName:    rec.SNOMEDStandardName,
		Score:         PlaceholderScore,
	}
}
