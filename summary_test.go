package orbit_test

import (
	"strings"
	"testing"

	"github.com/astro-stack/orbit"
)

func TestSummary(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		entry orbit.EntryParams
		want  string
	}{
		{
			name:  "signal with nil sender",
			entry: orbit.EntryParams{Type: orbit.TypeSignal, Payload: map[string]any{"signal": "my_signal", "sender": nil, "kwargs": map[string]any{}}},
			want:  "my_signal → ?",
		},
		{
			name:  "signal without sender",
			entry: orbit.EntryParams{Type: orbit.TypeSignal, Payload: orbit.SignalOp{Signal: "post_save"}},
			want:  "post_save → ?",
		},
		{
			name:  "request",
			entry: orbit.EntryParams{Type: orbit.TypeRequest, Payload: orbit.RequestOp{Method: "GET", Path: "/books/", StatusCode: 200}},
			want:  "GET /books/ → 200",
		},
		{
			name:  "cancelled request",
			entry: orbit.EntryParams{Type: orbit.TypeRequest, Payload: orbit.RequestOp{Method: "GET", Path: "/slow/"}},
			want:  "GET /slow/ → ?",
		},
		{
			name:  "duplicate query",
			entry: orbit.EntryParams{Type: orbit.TypeQuery, Payload: orbit.QueryOp{SQL: "SELECT ?", IsDuplicate: true, DuplicateCount: 3}},
			want:  "SELECT ? (duplicate ×3)",
		},
		{
			name:  "cache miss",
			entry: orbit.EntryParams{Type: orbit.TypeCache, Payload: orbit.CacheOp{Operation: "get", Key: "k", Hit: ptr(false)}},
			want:  "GET k (miss)",
		},
		{
			name:  "empty payload",
			entry: orbit.EntryParams{Type: orbit.TypeGate},
			want:  "? ?: ?",
		},
		{
			name:  "mail",
			entry: orbit.EntryParams{Type: orbit.TypeMail, Payload: orbit.MailOp{Subject: "Hi", To: []string{"a@example.com", "b@example.com"}}},
			want:  "Hi → a@example.com, b@example.com",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ExpectEqual(t, tc.want, orbit.Summary(mustEntry(t, tc.entry)))
		})
	}
}

func TestSummaryDuration(t *testing.T) {
	t.Parallel()

	e := mustEntry(t, orbit.EntryParams{Type: orbit.TypeJob, Payload: orbit.JobOp{Name: "send", Queue: "default", Status: orbit.JobCompleted}, DurationMS: ptr(12.0)})
	have := orbit.Summary(e)
	AssertEqual(t, true, strings.HasPrefix(have, "send (default) completed"))
	AssertEqual(t, true, strings.HasSuffix(have, "12ms"))
}
