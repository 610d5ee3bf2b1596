package orbit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/astro-stack/orbit/internal/orbitutil"
)

// Stats summarizes a set of entries, grouped by type. Entries with a duration
// are further grouped by duration according to the bucketing. That is, a
// bucket of duration D "contains" all entries with a duration of at least D.
type Stats struct {
	Bucketing []time.Duration     `json:"bucketing"`
	Types     map[Type]*TypeStats `json:"types"`
}

// DefaultBucketing are the default duration buckets.
var DefaultBucketing = []time.Duration{
	0 * time.Millisecond,
	1 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
}

// NewStats constructs an empty stats value with the provided bucketing.
func NewStats(bucketing []time.Duration) *Stats {
	return &Stats{
		Bucketing: bucketing,
		Types:     map[Type]*TypeStats{},
	}
}

// Observe the given entries into the stats value.
func (s *Stats) Observe(es ...*Entry) {
	for _, e := range es {
		ts, ok := s.Types[e.Type()]
		if !ok {
			ts = NewTypeStats(e.Type(), s.Bucketing)
			s.Types[e.Type()] = ts
		}

		ts.Count++

		if ms, ok := e.Duration(); ok {
			ts.TimedCount++
			ts.TotalMS += ms
			d := time.Duration(ms * float64(time.Millisecond))
			for i, bucket := range s.Bucketing {
				if bucket > d {
					break
				}
				ts.BucketCount[i]++
			}
		}

		if IsImportant(e) {
			ts.ImportantCount++
		}

		ts.Oldest = olderOf(ts.Oldest, e.CreatedAt())
		ts.Newest = newerOf(ts.Newest, e.CreatedAt())
	}
}

// Overall returns a synthetic TypeStats for all entries in the stats.
func (s *Stats) Overall() *TypeStats {
	overall := NewTypeStats("overall", s.Bucketing)
	for _, ts := range s.Types {
		overall.Merge(ts)
	}
	return overall
}

// AllTypes returns a slice of per-type stats, sorted by type, and including
// (as the last element) a synthetic "overall" type.
func (s *Stats) AllTypes() []*TypeStats {
	slice := make([]*TypeStats, 0, len(s.Types)+1)
	for _, ts := range s.Types {
		slice = append(slice, ts)
	}
	sort.Slice(slice, func(i, j int) bool {
		return slice[i].Type < slice[j].Type
	})
	slice = append(slice, s.Overall())
	return slice
}

// TypeStats represents summary statistics for entries of a given type.
type TypeStats struct {
	Type           Type      `json:"type"`
	Count          int       `json:"count"`
	TimedCount     int       `json:"timed_count"`
	TotalMS        float64   `json:"total_ms"`
	BucketCount    []int     `json:"bucket_count"`
	ImportantCount int       `json:"important_count"`
	Oldest         time.Time `json:"oldest"`
	Newest         time.Time `json:"newest"`
}

// NewTypeStats constructs an empty stats value with the given type and
// bucketing.
func NewTypeStats(t Type, bucketing []time.Duration) *TypeStats {
	return &TypeStats{
		Type:        t,
		BucketCount: make([]int, len(bucketing)),
	}
}

// Merge the other stats into this one. Merging stats with inconsistent
// bucketing will panic.
func (ts *TypeStats) Merge(other *TypeStats) {
	if dst, src := len(ts.BucketCount), len(other.BucketCount); dst != src {
		panic(fmt.Errorf("merge stats: buckets: %d != %d", dst, src))
	}

	ts.Count += other.Count
	ts.TimedCount += other.TimedCount
	ts.TotalMS += other.TotalMS
	for i := range other.BucketCount {
		ts.BucketCount[i] += other.BucketCount[i]
	}
	ts.ImportantCount += other.ImportantCount
	ts.Oldest = olderOf(ts.Oldest, other.Oldest)
	ts.Newest = newerOf(ts.Newest, other.Newest)
}

// MeanMS is the mean duration of timed entries, in milliseconds.
func (ts *TypeStats) MeanMS() float64 {
	if ts.TimedCount <= 0 {
		return 0
	}
	return ts.TotalMS / float64(ts.TimedCount)
}

func olderOf(a, b time.Time) time.Time {
	switch {
	case !a.IsZero() && !b.IsZero():
		if a.Before(b) {
			return a
		}
		return b
	case !a.IsZero() && b.IsZero():
		return a
	case a.IsZero() && !b.IsZero():
		return b
	default:
		return time.Time{}
	}
}

func newerOf(a, b time.Time) time.Time {
	switch {
	case !a.IsZero() && !b.IsZero():
		if a.After(b) {
			return a
		}
		return b
	case !a.IsZero() && b.IsZero():
		return a
	case a.IsZero() && !b.IsZero():
		return b
	default:
		return time.Time{}
	}
}

//
//
//

// DuplicateStats summarizes duplicate queries recorded during one request.
// When no query was duplicated, the most duplicated fields are empty, and the
// counts are zero.
type DuplicateStats struct {
	TotalDuplicates        int    `json:"total_duplicates"`
	UniqueDuplicateQueries int    `json:"unique_duplicate_queries"`
	MostDuplicatedSQL      string `json:"most_duplicated_sql,omitempty"`
	MostDuplicatedCount    int    `json:"most_duplicated_count"`
	MostDuplicatedQueryID  string `json:"most_duplicated_query_id,omitempty"`
}

// mostDuplicatedSQLMax is the maximum length of the reported query text,
// before the ellipsis.
const mostDuplicatedSQLMax = 120

// DuplicateStatsFor computes duplicate query statistics for the request entry
// with the given ID. It returns an error wrapping ErrNotFound if there is no
// such entry. It returns nil stats and no error if the entry is not a request,
// or if the request was recorded outside of a unit of work.
func DuplicateStatsFor(ctx context.Context, s Store, id string) (*DuplicateStats, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Type() != TypeRequest {
		return nil, nil
	}

	fh, ok := e.FamilyHash()
	if !ok {
		return nil, nil
	}

	queries, err := Collect(ctx, s, Filter{Types: []Type{TypeQuery}, FamilyHash: fh})
	if err != nil {
		return nil, fmt.Errorf("collect queries: %w", err)
	}

	return ComputeDuplicateStats(queries), nil
}

// ComputeDuplicateStats computes duplicate statistics over the given query
// entries, in any order. Non-query entries are ignored. When two signatures
// reach the same maximum count, the one recorded first wins.
func ComputeDuplicateStats(entries []*Entry) *DuplicateStats {
	ordered := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.Type() == TypeQuery {
			ordered = append(ordered, e)
		}
	}
	SortOldestFirst(ordered)

	var (
		stats      = &DuplicateStats{}
		signatures = map[string]struct{}{}
		bestSQL    string
	)
	for _, e := range ordered {
		var op QueryOp
		if err := e.DecodePayload(&op); err != nil {
			continue
		}
		if !op.IsDuplicate {
			continue
		}

		stats.TotalDuplicates++
		signatures[op.SQL] = struct{}{}

		if op.DuplicateCount > stats.MostDuplicatedCount {
			stats.MostDuplicatedCount = op.DuplicateCount
			stats.MostDuplicatedQueryID = e.ID()
			bestSQL = op.SQL
		}
	}

	stats.UniqueDuplicateQueries = len(signatures)
	stats.MostDuplicatedSQL = orbitutil.Truncate(bestSQL, mostDuplicatedSQLMax)

	return stats
}
