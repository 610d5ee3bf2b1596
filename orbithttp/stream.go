package orbithttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bernerdschaefer/eventsource"

	"github.com/astro-stack/orbit"
)

// StreamEvent is the data of an "entry" event in the live stream.
type StreamEvent struct {
	Entry   *orbit.Entry `json:"entry"`
	Summary string       `json:"summary"`
}

// handleStream sends newly recorded entries matching the search request in
// the URL query as server-sent events. The stream begins with an "init"
// event, and includes periodic "stats" events with the recorder counters.
// Entries are dropped rather than block the recorder if the client is slow.
//
// Requests must Accept: text/event-stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !requestExplicitlyAccepts(r, "text/event-stream") {
		err := fmt.Errorf("%w: invalid Accept header (%s)", orbit.ErrInvalidRequest, r.Header.Get("accept"))
		respondError(s.logger, w, r, err)
		return
	}

	req, err := parseSearchRequest(r)
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	var (
		query    = r.URL.Query()
		interval = parseRange(query.Get("stats"), time.ParseDuration, time.Second, s.StreamStatsInterval, time.Minute)
		sendbuf  = parseRange(query.Get("sendbuf"), strconv.Atoi, 0, 100, 100000)
		entryc   = make(chan *orbit.Entry, sendbuf)
		donec    = make(chan struct{})
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer close(donec)
		stats, _ := s.rec.Subscribe(ctx, req.Match, entryc)
		s.logger.Printf("stream %s done: %s", req, stats)
	}()
	defer func() {
		cancel()
		<-donec
	}()

	eventsource.Handler(func(lastID string, encoder *eventsource.Encoder, stop <-chan bool) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		send := func(typ string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", typ, err)
			}
			return encoder.Encode(eventsource.Event{Type: typ, Data: data})
		}

		if err := send("init", map[string]any{
			"request": req,
			"sendbuf": cap(entryc),
		}); err != nil {
			s.logger.Printf("stream: %v", err)
			return
		}

		for {
			select {
			case <-ticker.C:
				if err := send("stats", s.rec.Counters()); err != nil {
					s.logger.Printf("stream: %v", err)
					return
				}

			case e := <-entryc:
				if err := send("entry", StreamEvent{Entry: e, Summary: orbit.Summary(e)}); err != nil {
					s.logger.Printf("stream: %v", err)
					return
				}

			case <-stop:
				return

			case <-ctx.Done():
				return
			}
		}
	}).ServeHTTP(w, r)
}
