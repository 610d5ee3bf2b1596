package orbithttp

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/astro-stack/orbit"
)

// Server exposes the entries of a recorder over HTTP. Every route is guarded
// by the auth check of the recorder's current config.
//
//	GET /entries                  search, see orbit.SearchRequest.QueryValues
//	GET /entries/{id}             one entry, with entries from its unit of work
//	GET /entries/{id}/duplicates  duplicate query stats for a request entry
//	GET /entries/{id}/export      one entry, as a JSON download
//	GET /stats                    summary stats and recorder counters
//	GET /stream                   newly recorded entries, as server-sent events
//
// Mount it under one of the ignored paths, so that requests to the server
// aren't recorded themselves.
type Server struct {
	rec    *orbit.Recorder
	logger *log.Logger
	router chi.Router

	// StreamStatsInterval is the default interval between stats events in
	// the live stream. Requests can override it with the stats parameter.
	StreamStatsInterval time.Duration
}

var _ http.Handler = (*Server)(nil)

// NewServer returns a server for the provided recorder. A nil logger discards
// messages.
func NewServer(rec *orbit.Recorder, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		rec:                 rec,
		logger:              logger,
		StreamStatsInterval: 10 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(s.authorize)
	r.Get("/entries", s.handleEntries)
	r.Get("/entries/{id}", s.handleEntry)
	r.Get("/entries/{id}/duplicates", s.handleDuplicates)
	r.Get("/entries/{id}/export", s.handleExport)
	r.Get("/stats", s.handleStats)
	r.Get("/stream", s.handleStream)
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check := s.rec.Config().AuthCheck; check != nil && !check(r) {
			respondError(s.logger, w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

//
//
//

// EntriesResponse is returned by the search route.
type EntriesResponse struct {
	*orbit.SearchResponse

	// Summaries of the returned entries, by ID.
	Summaries map[string]string `json:"summaries"`
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	res, err := s.rec.Search(r.Context(), req)
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	summaries := make(map[string]string, len(res.Entries))
	for _, e := range res.Entries {
		summaries[e.ID()] = orbit.Summary(e)
	}

	renderJSON(s.logger, w, http.StatusOK, EntriesResponse{
		SearchResponse: res,
		Summaries:      summaries,
	})
}

// EntryResponse is returned by the entry route. Related holds the other
// entries recorded in the same unit of work, oldest first.
type EntryResponse struct {
	Entry   *orbit.Entry   `json:"entry"`
	Summary string         `json:"summary"`
	Related []*orbit.Entry `json:"related"`
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	e, err := s.rec.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	related := []*orbit.Entry{}
	if fh, ok := e.FamilyHash(); ok {
		family, err := orbit.Collect(ctx, s.rec.Store(), orbit.Filter{FamilyHash: fh})
		if err != nil {
			respondError(s.logger, w, r, err)
			return
		}
		orbit.SortOldestFirst(family)
		for _, other := range family {
			if other.ID() != e.ID() {
				related = append(related, other)
			}
		}
	}

	renderJSON(s.logger, w, http.StatusOK, EntryResponse{
		Entry:   e,
		Summary: orbit.Summary(e),
		Related: related,
	})
}

// DuplicatesResponse is returned by the duplicates route. Stats is null if
// the entry isn't a request, or wasn't recorded in a unit of work.
type DuplicatesResponse struct {
	ID    string                `json:"id"`
	Stats *orbit.DuplicateStats `json:"stats"`
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := s.rec.DuplicateStatsFor(r.Context(), id)
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	renderJSON(s.logger, w, http.StatusOK, DuplicatesResponse{
		ID:    id,
		Stats: stats,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	e, err := s.rec.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	w.Header().Set("content-disposition", fmt.Sprintf(`attachment; filename="orbit_entry_%s.json"`, e.ID()))
	renderJSON(s.logger, w, http.StatusOK, e)
}

// StatsResponse is returned by the stats route. Types includes a synthetic
// "overall" type as its last element.
type StatsResponse struct {
	Stored    int                 `json:"stored"`
	Counters  orbit.CounterValues `json:"counters"`
	Bucketing []time.Duration     `json:"bucketing"`
	Types     []*orbit.TypeStats  `json:"types"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rec.Stats(r.Context())
	if err != nil {
		respondError(s.logger, w, r, err)
		return
	}

	all := stats.AllTypes()

	renderJSON(s.logger, w, http.StatusOK, StatsResponse{
		Stored:    all[len(all)-1].Count,
		Counters:  s.rec.Counters(),
		Bucketing: stats.Bucketing,
		Types:     all,
	})
}
