package orbit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Scope is one unit of work, e.g. one inbound request. It carries the family
// hash that correlates every entry recorded while the scope is active, and the
// per-scope duplicate counters for query signatures.
//
// A scope is created by Begin and ended by End. Goroutines that receive a
// context derived from the one returned by Begin share the scope.
type Scope struct {
	familyHash string

	mtx     sync.Mutex
	ended   bool
	counts  map[string]int // signature -> occurrences
	queries int
}

type scopeContextKey struct{}

// Begin establishes a new scope with a fresh family hash, and returns a context
// carrying that scope. If ctx already carries a scope, the new scope replaces
// it for the returned context; nested units of work are independent.
func Begin(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{
		familyHash: uuid.NewString(),
		counts:     map[string]int{},
	}
	return context.WithValue(ctx, scopeContextKey{}, s), s
}

// ScopeFrom returns the scope carried by the context, if any. Ended scopes are
// still returned, so that callers can observe that the scope has ended.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeContextKey{}).(*Scope)
	return s, ok && s != nil
}

// Current returns the family hash of the active scope in the context, or false
// if there is no scope, or if the scope has ended.
func Current(ctx context.Context) (string, bool) {
	s, ok := ScopeFrom(ctx)
	if !ok || s.Ended() {
		return "", false
	}
	return s.familyHash, true
}

// Detach returns a context that preserves the values and cancelation of ctx,
// but carries no scope. Use it to spawn independent units of work that must not
// inherit the parent family hash.
func Detach(ctx context.Context) context.Context {
	if _, ok := ScopeFrom(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, scopeContextKey{}, (*Scope)(nil))
}

// FamilyHash returns the correlation token of the scope.
func (s *Scope) FamilyHash() string {
	return s.familyHash
}

// End the scope, discarding its duplicate counters. Subsequent entries recorded
// with the scope's context are no longer correlated. End is idempotent.
func (s *Scope) End() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.ended = true
	s.counts = nil
}

// Ended returns true if End has been called.
func (s *Scope) Ended() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.ended
}

// QueryCount returns the number of queries recorded in the scope.
func (s *Scope) QueryCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.queries
}

// count increments the occurrence counter for the signature, and returns the
// post-increment value. Ended scopes don't count, and return false.
func (s *Scope) count(signature string) (int, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.ended {
		return 0, false
	}

	s.queries++
	s.counts[signature]++
	return s.counts[signature], true
}
