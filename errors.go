package orbit

import "errors"

var (
	// ErrNotFound is returned when an entry with the given ID doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned when an input fails validation, e.g. a
	// search request with an inverted time window, or an unknown entry type.
	ErrInvalidRequest = errors.New("invalid request")
)
