package orbit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/astro-stack/orbit"
)

type queryFixture struct {
	sql   string
	count int
}

// appendRequest stores a request and its queries under one family hash, in
// the given order, and returns the request entry and the query entries.
func appendRequest(t *testing.T, store orbit.Store, clock *fakeClock, familyHash string, queries ...queryFixture) (*orbit.Entry, []*orbit.Entry) {
	t.Helper()

	req := mustEntry(t, orbit.EntryParams{
		Type:       orbit.TypeRequest,
		Payload:    orbit.RequestOp{Method: "GET", Path: "/test/", StatusCode: 200, QueryCount: len(queries)},
		FamilyHash: familyHash,
		DurationMS: ptr(100.0),
		CreatedAt:  clock.Now(),
	})
	mustAppend(t, store, req)

	var entries []*orbit.Entry
	for _, q := range queries {
		e := mustEntry(t, orbit.EntryParams{
			Type: orbit.TypeQuery,
			Payload: orbit.QueryOp{
				SQL:            q.sql,
				Params:         []any{},
				Database:       "default",
				IsDuplicate:    q.count > 1,
				DuplicateCount: q.count,
			},
			FamilyHash: familyHash,
			DurationMS: ptr(1.0),
			CreatedAt:  clock.Now(),
		})
		mustAppend(t, store, e)
		entries = append(entries, e)
	}

	return req, entries
}

func TestDuplicateStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := orbit.NewMemoryStore(1000)
	clock := newFakeClock()

	req, _ := appendRequest(t, store, clock, "f1",
		queryFixture{"Q1", 1},
		queryFixture{"Q1", 2},
		queryFixture{"Q2", 1},
	)

	// Noise in another unit of work.
	appendRequest(t, store, clock, "f2", queryFixture{"Q1", 1}, queryFixture{"Q1", 2}, queryFixture{"Q1", 3})

	stats, err := orbit.DuplicateStatsFor(ctx, store, req.ID())
	AssertNoError(t, err)
	AssertEqual(t, 1, stats.TotalDuplicates)
	AssertEqual(t, 1, stats.UniqueDuplicateQueries)
	AssertEqual(t, "Q1", stats.MostDuplicatedSQL)
	AssertEqual(t, 2, stats.MostDuplicatedCount)
}

func TestDuplicateStatsMultipleGroups(t *testing.T) {
	t.Parallel()

	const (
		sql1 = "SELECT * FROM auth_user WHERE id = %s"
		sql2 = "SELECT * FROM demo_book ORDER BY id"
	)

	ctx := context.Background()
	store := orbit.NewMemoryStore(1000)
	clock := newFakeClock()

	req, queries := appendRequest(t, store, clock, "family",
		queryFixture{sql1, 1}, queryFixture{sql1, 2}, queryFixture{sql1, 3},
		queryFixture{sql2, 1}, queryFixture{sql2, 2}, queryFixture{sql2, 3}, queryFixture{sql2, 4}, queryFixture{sql2, 5},
	)

	stats, err := orbit.DuplicateStatsFor(ctx, store, req.ID())
	AssertNoError(t, err)
	AssertEqual(t, 6, stats.TotalDuplicates)
	AssertEqual(t, 2, stats.UniqueDuplicateQueries)
	AssertEqual(t, sql2, stats.MostDuplicatedSQL)
	AssertEqual(t, 5, stats.MostDuplicatedCount)
	AssertEqual(t, queries[7].ID(), stats.MostDuplicatedQueryID)
}

func TestDuplicateStatsTieBreak(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := orbit.NewMemoryStore(1000)
	clock := newFakeClock()

	req, queries := appendRequest(t, store, clock, "family",
		queryFixture{"B", 1}, queryFixture{"A", 1}, queryFixture{"A", 2}, queryFixture{"B", 2},
	)

	stats, err := orbit.DuplicateStatsFor(ctx, store, req.ID())
	AssertNoError(t, err)
	AssertEqual(t, "A", stats.MostDuplicatedSQL)
	AssertEqual(t, queries[2].ID(), stats.MostDuplicatedQueryID)
}

func TestDuplicateStatsEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := orbit.NewMemoryStore(1000)
	clock := newFakeClock()

	noQueries, _ := appendRequest(t, store, clock, "f1")
	noDuplicates, _ := appendRequest(t, store, clock, "f2", queryFixture{"A", 1}, queryFixture{"B", 1})

	for _, req := range []*orbit.Entry{noQueries, noDuplicates} {
		stats, err := orbit.DuplicateStatsFor(ctx, store, req.ID())
		AssertNoError(t, err)
		AssertEqual(t, orbit.DuplicateStats{}, *stats)
	}
}

func TestDuplicateStatsUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := orbit.NewMemoryStore(1000)

	query := mustEntry(t, orbit.EntryParams{Type: orbit.TypeQuery, Payload: orbit.QueryOp{SQL: "Q"}, FamilyHash: "f"})
	orphan := mustEntry(t, orbit.EntryParams{Type: orbit.TypeRequest, Payload: orbit.RequestOp{Method: "GET"}})
	signal := mustEntry(t, orbit.EntryParams{Type: orbit.TypeSignal, Payload: map[string]any{"signal": "s", "sender": nil}})
	mustAppend(t, store, query, orphan, signal)

	for _, e := range []*orbit.Entry{query, orphan, signal} {
		stats, err := orbit.DuplicateStatsFor(ctx, store, e.ID())
		AssertNoError(t, err)
		if stats != nil {
			t.Errorf("%s: want no stats, have %+v", e.Type(), *stats)
		}
	}

	_, err := orbit.DuplicateStatsFor(ctx, store, "missing")
	AssertEqual(t, true, errors.Is(err, orbit.ErrNotFound))
}

func TestDuplicateStatsTruncation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := orbit.NewMemoryStore(1000)
	clock := newFakeClock()

	long := "SELECT " + strings.Repeat("x", 193)
	AssertEqual(t, 200, len(long))

	req, _ := appendRequest(t, store, clock, "f", queryFixture{long, 1}, queryFixture{long, 2})

	stats, err := orbit.DuplicateStatsFor(ctx, store, req.ID())
	AssertNoError(t, err)
	AssertEqual(t, 123, len(stats.MostDuplicatedSQL))
	AssertEqual(t, true, strings.HasSuffix(stats.MostDuplicatedSQL, "..."))
	AssertEqual(t, long[:120], strings.TrimSuffix(stats.MostDuplicatedSQL, "..."))
}

func TestStats(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	stats := orbit.NewStats(orbit.DefaultBucketing)

	stats.Observe(
		mustEntry(t, orbit.EntryParams{Type: orbit.TypeQuery, DurationMS: ptr(0.5), CreatedAt: clock.Now()}),
		mustEntry(t, orbit.EntryParams{Type: orbit.TypeQuery, DurationMS: ptr(30.0), CreatedAt: clock.Now()}),
		mustEntry(t, orbit.EntryParams{Type: orbit.TypeLog, Payload: orbit.LogOp{Level: "ERROR"}, CreatedAt: clock.Now()}),
		mustEntry(t, orbit.EntryParams{Type: orbit.TypeSignal, Payload: map[string]any{"sender": nil}, CreatedAt: clock.Now()}),
	)

	q := stats.Types[orbit.TypeQuery]
	AssertEqual(t, 2, q.Count)
	AssertEqual(t, 2, q.TimedCount)
	AssertEqual(t, 2, q.BucketCount[0]) // >= 0ms
	AssertEqual(t, 1, q.BucketCount[1]) // >= 1ms
	AssertEqual(t, 1, q.BucketCount[4]) // >= 25ms
	AssertEqual(t, 0, q.BucketCount[5]) // >= 50ms
	AssertEqual(t, 15.25, q.MeanMS())

	AssertEqual(t, 1, stats.Types[orbit.TypeLog].ImportantCount)

	all := stats.AllTypes()
	AssertEqual(t, 4, len(all))
	overall := all[len(all)-1]
	AssertEqual(t, orbit.Type("overall"), overall.Type)
	AssertEqual(t, 4, overall.Count)
	AssertEqual(t, true, overall.Newest.Sub(overall.Oldest) == 3*time.Millisecond)
}
