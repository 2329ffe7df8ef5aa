package mapping

import "context"

// Repository provides read access to the mapping table.
type Repository interface {
	// Search returns at most limit records whose lower-cased homegrown_name
	// is LIKE pattern, ordered by homegrown_name ascending.
	Search(ctx context.Context, pattern string, limit int) ([]*MappingRecord, error)
}
