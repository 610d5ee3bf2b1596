package orbit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Dump writes every entry in the store to w, newest first, as zstd-compressed
// newline-delimited JSON. It returns the number of entries written.
func Dump(ctx context.Context, s Store, w io.Writer) (int, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create encoder: %w", err)
	}

	var (
		jsonenc = json.NewEncoder(enc)
		n       int
	)
	if err := s.List(ctx, Filter{}, func(e *Entry) error {
		if err := jsonenc.Encode(e); err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID(), err)
		}
		n++
		return nil
	}); err != nil {
		enc.Close()
		return n, err
	}

	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("close encoder: %w", err)
	}

	return n, nil
}

// Restore reads entries written by Dump from r, and appends them to the store
// oldest first, so that retention keeps the most recent entries. Entries whose
// IDs already exist in the store are skipped. It returns the number of entries
// appended.
func Restore(ctx context.Context, s Store, r io.Reader) (int, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	var (
		entries []*Entry
		scanner = bufio.NewScanner(dec)
	)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) <= 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	SortOldestFirst(entries)

	var n int
	for _, e := range entries {
		if _, err := s.Get(ctx, e.ID()); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return n, fmt.Errorf("check entry %s: %w", e.ID(), err)
		}
		if err := s.Append(ctx, e); err != nil {
			return n, fmt.Errorf("append entry %s: %w", e.ID(), err)
		}
		n++
	}

	return n, nil
}
