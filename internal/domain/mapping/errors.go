package mapping

import "errors"

var (
	// ErrInvalidRequest is returned when search parameters fail validation.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrStoreUnavailable covers connectivity and authentication failures
	// against the mapping store.
	ErrStoreUnavailable = errors.New("mapping store unavailable")

	// ErrUnexpectedShape is returned when the store answers with rows that do
	// not match the mapping table layout.
	ErrUnexpectedShape = errors.New("unexpected mapping store response")
)
