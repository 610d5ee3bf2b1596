package orbit

import (
	"context"
	"errors"
	"time"
)

// Store persists entries. Implementations must be safe for concurrent use.
//
// Stores enforce their own bounded retention: appending past the limit evicts
// the oldest entries first.
type Store interface {
	// Append the entry to the store.
	Append(ctx context.Context, e *Entry) error

	// Get returns the entry with the given ID, or an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// List calls fn for each entry matching the filter, newest first. If fn
	// returns an error, List stops and returns that error. Returning ErrStop
	// stops the walk without an error.
	List(ctx context.Context, f Filter, fn func(*Entry) error) error

	// Prune deletes entries created before the cutoff, and returns the number of
	// entries that were deleted. If keepImportant is true, entries for which
	// IsImportant returns true are kept.
	Prune(ctx context.Context, cutoff time.Time, keepImportant bool) (int, error)

	// Len returns the number of entries in the store.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Resizer is implemented by stores whose retention limit can change at runtime.
type Resizer interface {
	Resize(ctx context.Context, limit int) error
}

// ErrStop can be returned by a List callback to stop the walk early.
var ErrStop = errors.New("stop")

// Filter selects a subset of entries. The zero value selects all entries.
type Filter struct {
	// Types selects entries with any of the given types.
	Types []Type

	// FamilyHash selects entries with the given family hash.
	FamilyHash string

	// Since selects entries created at or after the given time.
	Since time.Time

	// Until selects entries created at or before the given time.
	Until time.Time
}

// Allow returns true if the entry passes the filter.
func (f Filter) Allow(e *Entry) bool {
	if len(f.Types) > 0 {
		var found bool
		for _, t := range f.Types {
			if t == e.Type() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.FamilyHash != "" {
		if fh, _ := e.FamilyHash(); fh != f.FamilyHash {
			return false
		}
	}

	if !f.Since.IsZero() && e.CreatedAt().Before(f.Since) {
		return false
	}

	if !f.Until.IsZero() && e.CreatedAt().After(f.Until) {
		return false
	}

	return true
}

// Collect returns every entry in the store matching the filter, newest first.
func Collect(ctx context.Context, s Store, f Filter) ([]*Entry, error) {
	var res []*Entry
	if err := s.List(ctx, f, func(e *Entry) error {
		res = append(res, e)
		return nil
	}); err != nil {
		return nil, err
	}
	return res, nil
}
