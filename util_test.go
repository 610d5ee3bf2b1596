package orbit_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/astro-stack/orbit"
)

func AssertEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("error %v", err)
	}
}

func ExpectEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Errorf("want %v, have %v", want, have)
	}
}

func ExpectNotEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want == have {
		t.Errorf("want %v, have %v", want, have)
	}
}

// fakeClock advances by step on every call.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		step: time.Millisecond,
	}
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestRecorder(t *testing.T, cfg *orbit.Config) *orbit.Recorder {
	t.Helper()
	rec := orbit.NewRecorder(orbit.Options{
		Config: cfg,
		Logger: log.New(io.Discard, "", 0),
	})
	t.Cleanup(func() { rec.Close() })
	return rec
}

func mustEntry(t *testing.T, p orbit.EntryParams) *orbit.Entry {
	t.Helper()
	e, err := orbit.NewEntry(p)
	AssertNoError(t, err)
	return e
}

func mustAppend(t *testing.T, s orbit.Store, es ...*orbit.Entry) {
	t.Helper()
	for _, e := range es {
		AssertNoError(t, s.Append(context.Background(), e))
	}
}

func mustGetQuery(t *testing.T, rec *orbit.Recorder, id string) orbit.QueryOp {
	t.Helper()
	e, err := rec.Get(context.Background(), id)
	AssertNoError(t, err)
	var op orbit.QueryOp
	AssertNoError(t, e.DecodePayload(&op))
	return op
}

func ptr[T any](v T) *T { return &v }
