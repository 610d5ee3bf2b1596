package orbit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/astro-stack/orbit/internal/orbitutil"
	"github.com/astro-stack/orbit/internal/pubsub"
)

var (
	// ErrDropped is returned when an entry is discarded because the async
	// buffer is full.
	ErrDropped = errors.New("entry dropped")

	// ErrClosed is returned when recording to a closed recorder.
	ErrClosed = errors.New("recorder closed")
)

// Recorder is the entry point for captured telemetry. Instrumentation points
// pass completed operations to Observe or ObserveTimed, and the recorder
// turns them into entries in its store.
//
// Recorders are safe for concurrent use.
type Recorder struct {
	store    Store
	config   *orbitutil.Atomic[Config]
	now      func() time.Time
	diag     *log.Logger
	diagRate rate.Sometimes
	counters Counters
	broker   *pubsub.Broker[*Entry]

	mtx      sync.RWMutex
	closed   bool
	queue    chan *Entry // nil when appends are synchronous
	flushed  chan struct{}
	once     sync.Once
	closeErr error
}

// Options define the construction parameters for a recorder.
type Options struct {
	// Config controls capture and retention. Optional. By default,
	// DefaultConfig is used. The async buffer size is fixed at construction.
	Config *Config

	// Store receives recorded entries. Optional. By default, a memory store
	// sized to the storage limit is used. The recorder takes ownership of the
	// store, and closes it in Close.
	Store Store

	// Logger receives diagnostic messages about capture failures, rate limited.
	// Optional. By default, messages are written to stderr.
	Logger *log.Logger

	// Now returns the current time, used for entry timestamps and prune
	// cutoffs. Optional. By default, time.Now in UTC.
	Now func() time.Time
}

// NewRecorder returns a recorder based on the provided options.
func NewRecorder(opts Options) *Recorder {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	cfg.Normalize()

	if opts.Store == nil {
		opts.Store = NewMemoryStore(cfg.StorageLimit)
	}

	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "orbit: ", log.LstdFlags)
	}

	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	r := &Recorder{
		store:    opts.Store,
		config:   orbitutil.NewAtomic(cfg),
		now:      opts.Now,
		diag:     opts.Logger,
		diagRate: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		broker:   pubsub.NewBroker[*Entry](),
	}

	if cfg.AsyncBuffer > 0 {
		r.queue = make(chan *Entry, cfg.AsyncBuffer)
		r.flushed = make(chan struct{})
		go r.flush()
	}

	return r
}

// NewDefaultRecorder is a convenience function that calls NewRecorder with
// zero value options, returning a recorder with a default configuration.
func NewDefaultRecorder() *Recorder {
	return NewRecorder(Options{})
}

// Config returns the current config.
func (r *Recorder) Config() Config {
	return r.config.Get()
}

// SetConfig replaces the current config. If the store supports resizing, it's
// resized to the new storage limit. A nil AuthCheck in the new config keeps
// the current one, since it can't be expressed in a config file. The async
// buffer size can't be changed.
func (r *Recorder) SetConfig(cfg Config) {
	cfg.Normalize()

	prev := r.config.Get()
	if cfg.AuthCheck == nil {
		cfg.AuthCheck = prev.AuthCheck
	}
	r.config.Set(cfg)

	if cfg.StorageLimit != prev.StorageLimit {
		if rs, ok := r.store.(Resizer); ok {
			if err := rs.Resize(context.Background(), cfg.StorageLimit); err != nil {
				r.diag.Printf("resize store to %d: %v", cfg.StorageLimit, err)
			}
		}
	}
}

// Store returns the underlying store.
func (r *Recorder) Store() Store {
	return r.store
}

// Counters returns the current values of the recorder counters.
func (r *Recorder) Counters() CounterValues {
	return r.counters.Values()
}

//
//
//

// Observe records a point-in-time operation, and returns the ID of the new
// entry. It returns false if nothing was recorded, because the operation was
// disabled or excluded, or because recording failed. Observe never panics.
func (r *Recorder) Observe(ctx context.Context, op Operation) (string, bool) {
	return r.observe(ctx, op, nil)
}

// ObserveTimed records an operation which took the given duration. See
// Observe.
func (r *Recorder) ObserveTimed(ctx context.Context, op Operation, took time.Duration) (string, bool) {
	if took < 0 {
		took = 0
	}
	ms := float64(took) / float64(time.Millisecond)
	return r.observe(ctx, op, &ms)
}

func (r *Recorder) observe(ctx context.Context, op Operation, durationMS *float64) (id string, ok bool) {
	defer func() {
		if v := recover(); v != nil {
			r.counters.Failed.Add(1)
			r.diagf("observe %T: recovered panic: %v", op, v)
			id, ok = "", false
		}
	}()

	if op == nil {
		r.counters.Skipped.Add(1)
		return "", false
	}

	cfg := r.config.Get()
	typ := op.EntryType()

	if !cfg.Allows(typ) {
		r.counters.Skipped.Add(1)
		return "", false
	}

	if path, ok := requestPath(op); ok && cfg.IsIgnoredPath(path) {
		r.counters.Skipped.Add(1)
		return "", false
	}

	if ctx == nil {
		ctx = context.Background()
	}

	fh, _ := Current(ctx)
	scope, _ := ScopeFrom(ctx)

	var ms float64
	if durationMS != nil {
		ms = *durationMS
	}

	switch x := op.(type) {
	case QueryOp:
		detect(&x, scope, ms, cfg.SlowQueryThresholdMS)
		op = x
	case *QueryOp:
		cp := *x
		detect(&cp, scope, ms, cfg.SlowQueryThresholdMS)
		op = cp
	}

	e, err := NewEntry(EntryParams{
		Type:       typ,
		Payload:    op,
		DurationMS: durationMS,
		FamilyHash: fh,
		CreatedAt:  r.now(),
	})
	if err != nil {
		r.counters.Failed.Add(1)
		r.diagf("observe %s: %v", typ, err)
		return "", false
	}

	if err := r.append(ctx, e); err != nil {
		if !errors.Is(err, ErrDropped) && !errors.Is(err, ErrClosed) {
			r.diagf("observe %s: %v", typ, err)
		}
		return "", false
	}

	return e.ID(), true
}

func requestPath(op Operation) (string, bool) {
	switch x := op.(type) {
	case RequestOp:
		return x.Path, true
	case *RequestOp:
		return x.Path, true
	default:
		return "", false
	}
}

// Emission is a raw entry submitted to Emit.
type Emission struct {
	Type       Type
	Payload    any
	DurationMS *float64

	// FamilyHash correlates the entry. Optional. By default, the family hash
	// of the active scope in the context, if any.
	FamilyHash string
}

// Emit records a raw entry and returns its ID. Unlike Observe, Emit doesn't
// apply config toggles or query detection, and returns an error if the
// emission is invalid or can't be stored.
func (r *Recorder) Emit(ctx context.Context, em Emission) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if em.FamilyHash == "" {
		em.FamilyHash, _ = Current(ctx)
	}

	e, err := NewEntry(EntryParams{
		Type:       em.Type,
		Payload:    em.Payload,
		DurationMS: em.DurationMS,
		FamilyHash: em.FamilyHash,
		CreatedAt:  r.now(),
	})
	if err != nil {
		return "", err
	}

	if err := r.append(ctx, e); err != nil {
		return "", err
	}

	return e.ID(), nil
}

// append holds the read lock until the entry is committed or queued, so Close
// waits for in-flight appends before closing the store.
func (r *Recorder) append(ctx context.Context, e *Entry) error {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	if r.closed {
		r.counters.Dropped.Add(1)
		return ErrClosed
	}

	if r.queue == nil {
		if err := r.commit(context.WithoutCancel(ctx), e); err != nil {
			return err
		}
		r.counters.Captured.Add(1)
		return nil
	}

	select {
	case r.queue <- e:
		r.counters.Captured.Add(1)
		return nil
	default:
		r.counters.Dropped.Add(1)
		r.diagf("async buffer full (%d), dropping %s entry", cap(r.queue), e.Type())
		return ErrDropped
	}
}

func (r *Recorder) commit(ctx context.Context, e *Entry) error {
	if err := r.store.Append(ctx, e); err != nil {
		r.counters.Failed.Add(1)
		return fmt.Errorf("append entry: %w", err)
	}
	r.broker.Publish(e)
	return nil
}

func (r *Recorder) flush() {
	defer close(r.flushed)
	for e := range r.queue {
		if err := r.commit(context.Background(), e); err != nil {
			r.diagf("flush: %v", err)
		}
	}
}

func (r *Recorder) diagf(format string, args ...any) {
	r.diagRate.Do(func() {
		r.diag.Printf(format, args...)
	})
}

// Close stops accepting new entries, waits for any buffered entries to be
// appended, and closes the store.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.mtx.Lock()
		r.closed = true
		if r.queue != nil {
			close(r.queue)
		}
		r.mtx.Unlock()

		if r.flushed != nil {
			<-r.flushed
		}

		r.closeErr = r.store.Close()
	})
	return r.closeErr
}

//
//
//

// Get returns the entry with the given ID, or an error wrapping ErrNotFound.
func (r *Recorder) Get(ctx context.Context, id string) (*Entry, error) {
	return r.store.Get(ctx, id)
}

// Search the entries in the store.
func (r *Recorder) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	return Search(ctx, r.store, req)
}

// DuplicateStatsFor returns duplicate query statistics for the request entry
// with the given ID. See the package-level DuplicateStatsFor.
func (r *Recorder) DuplicateStatsFor(ctx context.Context, id string) (*DuplicateStats, error) {
	return DuplicateStatsFor(ctx, r.store, id)
}

// Stats computes summary statistics over every entry in the store.
func (r *Recorder) Stats(ctx context.Context) (*Stats, error) {
	stats := NewStats(DefaultBucketing)
	if err := r.store.List(ctx, Filter{}, func(e *Entry) error {
		stats.Observe(e)
		return nil
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

// Prune deletes entries older than the given number of hours, and returns the
// number of deleted entries. If keepImportant is true, exceptions and error
// logs are kept regardless of age.
func (r *Recorder) Prune(ctx context.Context, olderThanHours float64, keepImportant bool) (int, error) {
	if olderThanHours < 0 {
		return 0, fmt.Errorf("%w: negative age %v", ErrInvalidRequest, olderThanHours)
	}
	cutoff := r.now().Add(-time.Duration(olderThanHours * float64(time.Hour)))
	return r.store.Prune(ctx, cutoff, keepImportant)
}

// SubscriptionStats describe the entries offered to a subscriber.
type SubscriptionStats = pubsub.Stats

// Subscribe sends newly stored entries for which allow returns true to ch,
// until ctx is canceled. A nil allow func accepts every entry. Entries are
// dropped rather than block when ch is full. Subscribe blocks.
func (r *Recorder) Subscribe(ctx context.Context, allow func(*Entry) bool, ch chan<- *Entry) (SubscriptionStats, error) {
	return r.broker.Subscribe(ctx, allow, ch)
}
