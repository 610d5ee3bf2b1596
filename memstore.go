package orbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/astro-stack/orbit/internal/ringbuf"
)

// MemoryStore keeps the most recent entries in a fixed-size ring buffer,
// ordered by creation time. Appends beyond the limit evict the oldest entry
// inline, so the store never holds more than its limit.
type MemoryStore struct {
	mtx   sync.Mutex
	ring  *ringbuf.RingBuffer[*Entry]
	index map[string]*Entry
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Resizer = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store retaining at most limit entries. The
// limit is normalized like Config.StorageLimit.
func NewMemoryStore(limit int) *MemoryStore {
	cfg := Config{StorageLimit: limit}
	cfg.Normalize()
	return &MemoryStore{
		ring:  ringbuf.NewRingBuffer[*Entry](cfg.StorageLimit),
		index: make(map[string]*Entry, cfg.StorageLimit),
	}
}

// Append implements Store. Appending an entry with an ID that's already in the
// store is an error.
func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidRequest)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.index[e.ID()]; ok {
		return fmt.Errorf("%w: duplicate entry id %s", ErrInvalidRequest, e.ID())
	}

	s.index[e.ID()] = e

	if newest, ok := s.newestLocked(); ok && olderEntry(e, newest) {
		for _, dropped := range s.insertLocked(e) {
			delete(s.index, dropped.ID())
		}
		return nil
	}

	if dropped, ok := s.ring.Add(e); ok {
		delete(s.index, dropped.ID())
	}

	return nil
}

func (s *MemoryStore) newestLocked() (newest *Entry, ok bool) {
	s.ring.Walk(func(e *Entry) error {
		newest, ok = e, true
		return ErrStop
	})
	return newest, ok
}

// insertLocked rebuilds the ring with e in its sorted position, and returns
// the entries evicted to stay within capacity, which may include e.
func (s *MemoryStore) insertLocked(e *Entry) (dropped []*Entry) {
	entries := make([]*Entry, 0, s.ring.Len()+1)
	s.ring.Walk(func(x *Entry) error {
		entries = append(entries, x)
		return nil
	})
	entries = append(entries, e)
	SortOldestFirst(entries)

	ring := ringbuf.NewRingBuffer[*Entry](s.ring.Cap())
	for _, x := range entries {
		if d, ok := ring.Add(x); ok {
			dropped = append(dropped, d)
		}
	}
	s.ring = ring

	return dropped
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	e, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// List implements Store. It walks a snapshot of the store taken at the start
// of the call, so fn may safely call other methods on the store.
func (s *MemoryStore) List(ctx context.Context, f Filter, fn func(*Entry) error) error {
	s.mtx.Lock()
	snapshot := make([]*Entry, 0, s.ring.Len())
	s.ring.Walk(func(e *Entry) error {
		snapshot = append(snapshot, e)
		return nil
	})
	s.mtx.Unlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !f.Allow(e) {
			continue
		}
		if err := fn(e); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}

	return nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time, keepImportant bool) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	removed := s.ring.RemoveIf(func(e *Entry) bool {
		if !e.CreatedAt().Before(cutoff) {
			return false
		}
		if keepImportant && IsImportant(e) {
			return false
		}
		return true
	})

	for _, e := range removed {
		delete(s.index, e.ID())
	}

	return len(removed), nil
}

// Len implements Store.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.ring.Len(), nil
}

// Limit returns the maximum number of entries retained by the store.
func (s *MemoryStore) Limit() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.ring.Cap()
}

// Resize changes the retention limit, evicting the oldest entries if the store
// holds more than the new limit.
func (s *MemoryStore) Resize(ctx context.Context, limit int) error {
	cfg := Config{StorageLimit: limit}
	cfg.Normalize()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, e := range s.ring.Resize(cfg.StorageLimit) {
		delete(s.index, e.ID())
	}

	return nil
}

// Close implements Store. It's a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
