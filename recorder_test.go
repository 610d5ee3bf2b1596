package orbit_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/astro-stack/orbit"
)

func TestRecorderObserve(t *testing.T) {
	t.Parallel()

	rec := newTestRecorder(t, nil)
	ctx, scope := orbit.Begin(context.Background())
	defer scope.End()

	id, ok := rec.ObserveTimed(ctx, orbit.CacheOp{Operation: "get", Key: "k", Backend: "default", Hit: ptr(true)}, 2*time.Millisecond)
	AssertEqual(t, true, ok)

	e, err := rec.Get(ctx, id)
	AssertNoError(t, err)
	AssertEqual(t, orbit.TypeCache, e.Type())

	fh, ok := e.FamilyHash()
	AssertEqual(t, true, ok)
	AssertEqual(t, scope.FamilyHash(), fh)

	d, ok := e.Duration()
	AssertEqual(t, true, ok)
	AssertEqual(t, 2.0, d)

	// Point events have no duration.
	id, ok = rec.Observe(ctx, orbit.LogOp{Level: "INFO", Message: "hi"})
	AssertEqual(t, true, ok)
	e, _ = rec.Get(ctx, id)
	_, ok = e.Duration()
	AssertEqual(t, false, ok)

	AssertEqual(t, uint64(2), rec.Counters().Captured)
}

func TestRecorderToggles(t *testing.T) {
	t.Parallel()

	cfg := orbit.DefaultConfig()
	cfg.RecordCache = false
	rec := newTestRecorder(t, &cfg)
	ctx := context.Background()

	_, ok := rec.Observe(ctx, orbit.CacheOp{Operation: "get", Key: "k"})
	AssertEqual(t, false, ok)

	_, ok = rec.Observe(ctx, orbit.RequestOp{Method: "GET", Path: "/static/app.js"})
	AssertEqual(t, false, ok)

	_, ok = rec.Observe(ctx, &orbit.RequestOp{Method: "GET", Path: "/orbit/entries"})
	AssertEqual(t, false, ok)

	_, ok = rec.Observe(ctx, orbit.RequestOp{Method: "GET", Path: "/books/"})
	AssertEqual(t, true, ok)

	_, ok = rec.Observe(ctx, nil)
	AssertEqual(t, false, ok)

	AssertEqual(t, uint64(4), rec.Counters().Skipped)

	cfg.Enabled = false
	rec.SetConfig(cfg)
	_, ok = rec.Observe(ctx, orbit.LogOp{Level: "INFO", Message: "disabled"})
	AssertEqual(t, false, ok)
}

func TestRecorderNeverPanics(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rec := orbit.NewRecorder(orbit.Options{Logger: log.New(&buf, "", 0)})
	defer rec.Close()

	// Unencodable payload.
	_, ok := rec.Observe(context.Background(), orbit.CommandOp{Command: "migrate", Options: map[string]any{"ch": make(chan int)}})
	AssertEqual(t, false, ok)

	// Store failure.
	broken := orbit.NewRecorder(orbit.Options{Store: brokenStore{}, Logger: log.New(io.Discard, "", 0)})
	defer broken.Close()
	_, ok = broken.Observe(context.Background(), orbit.LogOp{Message: "x"})
	AssertEqual(t, false, ok)

	AssertEqual(t, uint64(1), rec.Counters().Failed)
	AssertEqual(t, uint64(1), broken.Counters().Failed)
	AssertEqual(t, true, strings.Contains(buf.String(), "command"))
}

func TestRecorderEmit(t *testing.T) {
	t.Parallel()

	rec := newTestRecorder(t, nil)
	ctx, scope := orbit.Begin(context.Background())
	defer scope.End()

	id, err := rec.Emit(ctx, orbit.Emission{Type: orbit.TypeJob, Payload: orbit.JobOp{Name: "j", Queue: "q", Status: orbit.JobFailed, Error: "boom"}, DurationMS: ptr(3.0)})
	AssertNoError(t, err)
	e, err := rec.Get(ctx, id)
	AssertNoError(t, err)
	fh, _ := e.FamilyHash()
	AssertEqual(t, scope.FamilyHash(), fh)

	id, err = rec.Emit(ctx, orbit.Emission{Type: orbit.TypeLog, FamilyHash: "explicit"})
	AssertNoError(t, err)
	e, _ = rec.Get(ctx, id)
	fh, _ = e.FamilyHash()
	AssertEqual(t, "explicit", fh)

	var nilctx context.Context
	id, err = rec.Emit(nilctx, orbit.Emission{Type: orbit.TypeLog})
	AssertNoError(t, err)
	e, _ = rec.Get(ctx, id)
	_, ok := e.FamilyHash()
	AssertEqual(t, false, ok)

	_, err = rec.Emit(ctx, orbit.Emission{Type: "bogus"})
	AssertEqual(t, true, errors.Is(err, orbit.ErrInvalidRequest))

	_, err = rec.Get(ctx, "missing")
	AssertEqual(t, true, errors.Is(err, orbit.ErrNotFound))
}

func TestRecorderAsync(t *testing.T) {
	t.Parallel()

	cfg := orbit.DefaultConfig()
	cfg.AsyncBuffer = 1
	store := newBlockingStore()
	rec := orbit.NewRecorder(orbit.Options{Config: &cfg, Store: store, Logger: log.New(io.Discard, "", 0)})

	ctx := context.Background()

	// The first entry is taken by the flusher, which blocks in Append.
	_, ok := rec.Observe(ctx, orbit.LogOp{Message: "1"})
	AssertEqual(t, true, ok)
	<-store.appending

	// The second entry fills the buffer, the third is dropped.
	_, ok = rec.Observe(ctx, orbit.LogOp{Message: "2"})
	AssertEqual(t, true, ok)
	_, ok = rec.Observe(ctx, orbit.LogOp{Message: "3"})
	AssertEqual(t, false, ok)

	_, err := rec.Emit(ctx, orbit.Emission{Type: orbit.TypeLog})
	AssertEqual(t, true, errors.Is(err, orbit.ErrDropped))

	close(store.release)
	AssertNoError(t, rec.Close())

	n, _ := store.MemoryStore.Len(ctx)
	AssertEqual(t, 2, n)

	c := rec.Counters()
	AssertEqual(t, uint64(2), c.Captured)
	AssertEqual(t, uint64(2), c.Dropped)

	_, ok = rec.Observe(ctx, orbit.LogOp{Message: "closed"})
	AssertEqual(t, false, ok)
}

func TestRecorderCloseWaitsForAppend(t *testing.T) {
	t.Parallel()

	store := newBlockingStore()
	rec := orbit.NewRecorder(orbit.Options{Store: store, Logger: log.New(io.Discard, "", 0)})

	observed := make(chan bool, 1)
	go func() {
		_, ok := rec.Observe(context.Background(), orbit.LogOp{Level: "INFO", Message: "in flight"})
		observed <- ok
	}()
	<-store.appending

	closed := make(chan error, 1)
	go func() { closed <- rec.Close() }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned (%v) with an append in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	AssertEqual(t, true, <-observed)
	AssertNoError(t, <-closed)

	_, ok := rec.Observe(context.Background(), orbit.LogOp{Level: "INFO", Message: "late"})
	AssertEqual(t, false, ok)
	AssertEqual(t, uint64(1), rec.Counters().Dropped)
}

func TestRecorderPrune(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	clock.step = time.Hour
	rec := orbit.NewRecorder(orbit.Options{Now: clock.Now, Logger: log.New(io.Discard, "", 0)})
	defer rec.Close()

	ctx := context.Background()
	// Entries are created at t+1h, t+2h, and t+3h.
	rec.Observe(ctx, orbit.RequestOp{Method: "GET", Path: "/a"})
	rec.Observe(ctx, orbit.ExceptionOp{ExceptionType: "E", Message: "m"})
	rec.Observe(ctx, orbit.RequestOp{Method: "GET", Path: "/b"})

	// Now is t+4h, so the cutoff of 1.5h removes the first two, except for
	// the exception.
	n, err := rec.Prune(ctx, 1.5, true)
	AssertNoError(t, err)
	AssertEqual(t, 1, n)

	_, err = rec.Prune(ctx, -1, true)
	AssertEqual(t, true, errors.Is(err, orbit.ErrInvalidRequest))
}

func TestRecorderSetConfigResizes(t *testing.T) {
	t.Parallel()

	cfg := orbit.DefaultConfig()
	cfg.StorageLimit = 10
	cfg.AuthCheck = func(*http.Request) bool { return false }
	rec := newTestRecorder(t, &cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rec.Observe(ctx, orbit.LogOp{Message: "x"})
	}

	next := orbit.DefaultConfig()
	next.StorageLimit = 4
	rec.SetConfig(next)

	n, _ := rec.Store().Len(ctx)
	AssertEqual(t, 4, n)
	AssertEqual(t, 4, rec.Config().StorageLimit)
	AssertEqual(t, true, rec.Config().AuthCheck != nil)
}

func TestRecorderSubscribe(t *testing.T) {
	t.Parallel()

	rec := newTestRecorder(t, nil)

	var (
		ctx, cancel = context.WithCancel(context.Background())
		ch          = make(chan *orbit.Entry, 10)
		done        = make(chan orbit.SubscriptionStats, 1)
	)
	defer cancel()

	go func() {
		stats, _ := rec.Subscribe(ctx, func(e *orbit.Entry) bool { return e.Type() == orbit.TypeException }, ch)
		done <- stats
	}()

	// Wait for the subscription to become active.
	deadline := time.Now().Add(time.Second)
	for {
		id, _ := rec.Observe(context.Background(), orbit.ExceptionOp{ExceptionType: "probe"})
		select {
		case e := <-ch:
			AssertEqual(t, id, e.ID())
		case <-time.After(10 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("subscription never became active")
			}
			continue
		}
		break
	}

	rec.Observe(context.Background(), orbit.LogOp{Message: "skipped"})
	rec.Observe(context.Background(), orbit.ExceptionOp{ExceptionType: "sent"})

	e := <-ch
	var op orbit.ExceptionOp
	AssertNoError(t, e.DecodePayload(&op))
	AssertEqual(t, "sent", op.ExceptionType)

	cancel()
	stats := <-done
	AssertEqual(t, uint64(1), stats.Skips)
}

func TestRecorderConcurrent(t *testing.T) {
	t.Parallel()

	cfg := orbit.DefaultConfig()
	cfg.StorageLimit = 1000
	rec := newTestRecorder(t, &cfg)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			ctx, scope := orbit.Begin(context.Background())
			defer scope.End()

			for j := 0; j < 20; j++ {
				rec.ObserveTimed(ctx, orbit.QueryOp{SQL: "SELECT * FROM t WHERE id = 1"}, time.Millisecond)
			}
			id, ok := rec.Observe(ctx, orbit.RequestOp{Method: "GET", Path: "/", QueryCount: scope.QueryCount()})
			if !ok {
				return errors.New("request not recorded")
			}
			_, err := rec.DuplicateStatsFor(ctx, id)
			return err
		})
	}
	AssertNoError(t, g.Wait())

	n, _ := rec.Store().Len(context.Background())
	AssertEqual(t, 20*21, n)
}

//
//
//

type brokenStore struct{ orbit.Store }

func (brokenStore) Append(context.Context, *orbit.Entry) error { return errors.New("disk full") }
func (brokenStore) Close() error                               { return nil }

// blockingStore blocks every Append until release is closed.
type blockingStore struct {
	*orbit.MemoryStore
	appending chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		MemoryStore: orbit.NewMemoryStore(100),
		appending:   make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *blockingStore) Append(ctx context.Context, e *orbit.Entry) error {
	s.once.Do(func() { close(s.appending) })
	<-s.release
	return s.MemoryStore.Append(ctx, e)
}
