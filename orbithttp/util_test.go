package orbithttp_test

import (
	"context"
	"io"
	"log"
	"testing"

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

func newTestRecorder(t *testing.T, cfg *orbit.Config) *orbit.Recorder {
	t.Helper()
	rec := orbit.NewRecorder(orbit.Options{
		Config: cfg,
		Logger: log.New(io.Discard, "", 0),
	})
	t.Cleanup(func() { rec.Close() })
	return rec
}

func entriesOfType(t *testing.T, rec *orbit.Recorder, typ orbit.Type) []*orbit.Entry {
	t.Helper()
	entries, err := orbit.Collect(context.Background(), rec.Store(), orbit.Filter{Types: []orbit.Type{typ}})
	AssertNoError(t, err)
	return entries
}
