package mapping

import (
	"context"
)

// Service resolves homegrown procedure names to SNOMED CT codes.
type Service struct {
	repo Repository
}

// NewService creates a new mapping service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Search normalizes query and returns up to limit mappings whose homegrown
// name contains it. Every result carries PlaceholderScore. A search with no
// matches returns an empty, non-nil result list.
func (s *Service) Search(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	req := SearchRequest{Query: query, Limit: limit}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	records, err := s.repo.Search(ctx, containsPattern(Normalize(query)), limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, toResult(rec))
	}
	return &SearchResponse{Query: query, Results: results}, nil
}
