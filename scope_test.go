package orbit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/astro-stack/orbit"
)

func TestScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, ok := orbit.Current(ctx)
	AssertEqual(t, false, ok)

	ctx, scope := orbit.Begin(ctx)
	fh, ok := orbit.Current(ctx)
	AssertEqual(t, true, ok)
	AssertEqual(t, scope.FamilyHash(), fh)

	// Derived contexts inherit the scope.
	child, cancel := context.WithCancel(ctx)
	defer cancel()
	childHash, _ := orbit.Current(child)
	AssertEqual(t, fh, childHash)

	// Detached contexts don't.
	_, ok = orbit.Current(orbit.Detach(ctx))
	AssertEqual(t, false, ok)

	// Nested units of work are independent.
	nested, nestedScope := orbit.Begin(ctx)
	nestedHash, _ := orbit.Current(nested)
	ExpectNotEqual(t, fh, nestedHash)
	nestedScope.End()

	scope.End()
	scope.End() // idempotent
	_, ok = orbit.Current(ctx)
	AssertEqual(t, false, ok)
	AssertEqual(t, true, scope.Ended())
}

func TestScopeConcurrentUnits(t *testing.T) {
	t.Parallel()

	var (
		mtx  sync.Mutex
		seen = map[string]bool{}
		g    errgroup.Group
	)
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			ctx, scope := orbit.Begin(context.Background())
			defer scope.End()

			mtx.Lock()
			dup := seen[scope.FamilyHash()]
			seen[scope.FamilyHash()] = true
			mtx.Unlock()
			if dup {
				return fmt.Errorf("family hash %s reused", scope.FamilyHash())
			}

			// Parallel branches of the same unit see the same token.
			var branches errgroup.Group
			for j := 0; j < 4; j++ {
				branches.Go(func() error {
					if fh, ok := orbit.Current(ctx); !ok || fh != scope.FamilyHash() {
						return fmt.Errorf("branch: want %s, have %s", scope.FamilyHash(), fh)
					}
					return nil
				})
			}
			return branches.Wait()
		})
	}
	AssertNoError(t, g.Wait())
}

func TestScopeParallelDuplicateCounting(t *testing.T) {
	t.Parallel()

	rec := newTestRecorder(t, nil)
	ctx, scope := orbit.Begin(context.Background())
	defer scope.End()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			if _, ok := rec.Observe(ctx, orbit.QueryOp{SQL: "SELECT * FROM t"}); !ok {
				return fmt.Errorf("query not recorded")
			}
			return nil
		})
	}
	AssertNoError(t, g.Wait())

	counts := map[int]bool{}
	entries, err := orbit.Collect(ctx, rec.Store(), orbit.Filter{FamilyHash: scope.FamilyHash()})
	AssertNoError(t, err)
	for _, e := range entries {
		var op orbit.QueryOp
		AssertNoError(t, e.DecodePayload(&op))
		if counts[op.DuplicateCount] {
			t.Fatalf("duplicate count %d seen twice", op.DuplicateCount)
		}
		counts[op.DuplicateCount] = true
	}
	AssertEqual(t, 50, len(counts))
	AssertEqual(t, 50, scope.QueryCount())
}
