// Package orbitlog provides a log/slog handler that records log entries.
package orbitlog

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/astro-stack/orbit"
)

// Options for the handler.
type Options struct {
	// Level is the minimum level of recorded records. Optional. By default,
	// slog.LevelInfo.
	Level slog.Leveler

	// Logger is the logger name stored with each entry. Optional.
	Logger string

	// Next receives every record after it's recorded, so the handler can be
	// used in addition to regular log output. Optional.
	Next slog.Handler
}

// Handler is a slog.Handler that records each record as a log entry. Records
// handled with a context in a unit of work are correlated with it.
type Handler struct {
	rec    *orbit.Recorder
	level  slog.Leveler
	logger string
	next   slog.Handler
	attrs  map[string]any
	prefix string
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler returns a handler recording to rec.
func NewHandler(rec *orbit.Recorder, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}

	h := &Handler{
		rec:    rec,
		level:  opts.Level,
		logger: opts.Logger,
		next:   opts.Next,
		attrs:  map[string]any{},
	}
	if h.level == nil {
		h.level = slog.LevelInfo
	}

	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		attrs := maps.Clone(h.attrs)
		r.Attrs(func(a slog.Attr) bool {
			addAttr(attrs, h.prefix, a)
			return true
		})
		if len(attrs) <= 0 {
			attrs = nil
		}

		h.rec.Observe(ctx, orbit.LogOp{
			Level:   r.Level.String(),
			Message: r.Message,
			Logger:  h.logger,
			Attrs:   attrs,
		})
	}

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = maps.Clone(h.attrs)
	for _, a := range attrs {
		addAttr(h2.attrs, h.prefix, a)
	}
	if h.next != nil {
		h2.next = h.next.WithAttrs(attrs)
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	if h.next != nil {
		h2.next = h.next.WithGroup(name)
	}
	return &h2
}

// addAttr flattens a into dst, with group keys joined by dots.
func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		group := v.Group()
		if len(group) <= 0 {
			return
		}
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			addAttr(dst, prefix, ga)
		}
		return
	}

	if a.Key == "" {
		return
	}

	dst[strings.TrimSuffix(prefix+a.Key, ".")] = jsonValue(v)
}

func jsonValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	}

	switch x := v.Any().(type) {
	case error:
		return x.Error()
	default:
		return x
	}
}
