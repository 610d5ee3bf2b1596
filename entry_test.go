package orbit_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/astro-stack/orbit"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, typ := range orbit.AllTypes {
		have, err := orbit.ParseType(string(typ))
		AssertNoError(t, err)
		AssertEqual(t, typ, have)
	}

	for _, s := range []string{"", "Request", "data_access_query", "sql"} {
		if _, err := orbit.ParseType(s); !errors.Is(err, orbit.ErrInvalidRequest) {
			t.Errorf("%q: want %v, have %v", s, orbit.ErrInvalidRequest, err)
		}
	}
}

func TestNewEntryValidation(t *testing.T) {
	t.Parallel()

	if _, err := orbit.NewEntry(orbit.EntryParams{Type: "bogus"}); !errors.Is(err, orbit.ErrInvalidRequest) {
		t.Errorf("unknown type: want %v, have %v", orbit.ErrInvalidRequest, err)
	}

	if _, err := orbit.NewEntry(orbit.EntryParams{Type: orbit.TypeLog, DurationMS: ptr(-1.0)}); !errors.Is(err, orbit.ErrInvalidRequest) {
		t.Errorf("negative duration: want %v, have %v", orbit.ErrInvalidRequest, err)
	}

	if _, err := orbit.NewEntry(orbit.EntryParams{Type: orbit.TypeLog, Payload: json.RawMessage(`[1,2]`)}); err == nil {
		t.Errorf("array payload: want error, have none")
	}

	if _, err := orbit.NewEntry(orbit.EntryParams{Type: orbit.TypeLog, Payload: map[string]any{"ch": make(chan int)}}); err == nil {
		t.Errorf("unencodable payload: want error, have none")
	}

	e, err := orbit.NewEntry(orbit.EntryParams{Type: orbit.TypeLog})
	AssertNoError(t, err)
	ExpectNotEqual(t, "", e.ID())
	ExpectEqual(t, false, e.CreatedAt().IsZero())
	ExpectEqual(t, "{}", string(e.RawPayload()))

	_, hasDuration := e.Duration()
	ExpectEqual(t, false, hasDuration)

	_, hasFamily := e.FamilyHash()
	ExpectEqual(t, false, hasFamily)
}

func TestEntryImmutable(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"message": "hello", "nested": map[string]any{"k": "v"}}
	e := mustEntry(t, orbit.EntryParams{Type: orbit.TypeLog, Payload: payload})

	// Mutating the input doesn't change the entry.
	payload["message"] = "changed"

	// Mutating the output doesn't change the entry.
	p := e.Payload()
	p["message"] = "also changed"
	p["nested"].(map[string]any)["k"] = "x"

	raw := e.RawPayload()
	raw[0] = '!'

	want := map[string]any{"message": "hello", "nested": map[string]any{"k": "v"}}
	if diff := cmp.Diff(want, e.Payload()); diff != "" {
		t.Fatal(diff)
	}
}

func TestEntryIDsAreUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 10000; i++ {
		e := mustEntry(t, orbit.EntryParams{Type: orbit.TypeLog})
		if seen[e.ID()] {
			t.Fatalf("duplicate ID %s", e.ID())
		}
		seen[e.ID()] = true
	}
}

func TestEntryJSON(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	e := mustEntry(t, orbit.EntryParams{
		Type:       orbit.TypeQuery,
		Payload:    orbit.QueryOp{SQL: "SELECT 1", Database: "default"},
		DurationMS: ptr(1.5),
		FamilyHash: "abc",
		CreatedAt:  created,
	})

	data, err := json.Marshal(e)
	AssertNoError(t, err)

	var have orbit.Entry
	AssertNoError(t, json.Unmarshal(data, &have))

	ExpectEqual(t, e.ID(), have.ID())
	ExpectEqual(t, e.Type(), have.Type())
	ExpectEqual(t, string(e.RawPayload()), string(have.RawPayload()))
	ExpectEqual(t, true, created.Equal(have.CreatedAt()))

	d, ok := have.Duration()
	ExpectEqual(t, true, ok)
	ExpectEqual(t, 1.5, d)

	fh, ok := have.FamilyHash()
	ExpectEqual(t, true, ok)
	ExpectEqual(t, "abc", fh)

	var generic map[string]any
	AssertNoError(t, json.Unmarshal(data, &generic))
	for _, key := range []string{"id", "type", "payload", "duration_ms", "family_hash", "created_at"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}

	if err := json.Unmarshal([]byte(`{"id":"x","type":"nope","payload":{}}`), &have); !errors.Is(err, orbit.ErrInvalidRequest) {
		t.Errorf("want %v, have %v", orbit.ErrInvalidRequest, err)
	}
}
