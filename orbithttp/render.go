package orbithttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/astro-stack/orbit"
	"github.com/astro-stack/orbit/internal/orbitutil"
)

// errForbidden is returned when the configured auth check rejects a request.
var errForbidden = errors.New("forbidden")

func renderJSON(logger *log.Logger, w http.ResponseWriter, code int, data any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")

	if err := enc.Encode(data); err != nil {
		logger.Printf("marshal JSON: %v", err)
		code = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"error":"failed to marshal response"}`)
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(logger *log.Logger, w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	if code >= 500 {
		logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	renderJSON(logger, w, code, ErrorResponse{Error: err.Error()})
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, orbit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orbit.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func requestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	have := map[string]struct{}{}
	for _, val := range strings.Split(r.Header.Get("accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(val)
		if err != nil {
			continue
		}
		have[mediaType] = struct{}{}
	}
	for _, want := range acceptable {
		if _, ok := have[want]; ok {
			return true
		}
	}
	return false
}

//
//
//

// parseSearchRequest reads a search request from the URL query, using the
// parameter names of orbit.SearchRequest.QueryValues.
func parseSearchRequest(r *http.Request) (*orbit.SearchRequest, error) {
	var (
		query = r.URL.Query()
		req   = &orbit.SearchRequest{
			Query:      query.Get("q"),
			FamilyHash: query.Get("family_hash"),
		}
		problems []error
	)

	for _, s := range query["type"] {
		for _, s := range strings.Split(s, ",") {
			t := orbit.Type(strings.TrimSpace(s))
			if !t.Valid() {
				problems = append(problems, fmt.Errorf("unknown entry type %q", s))
				continue
			}
			req.Types = append(req.Types, t)
		}
	}

	for key, dst := range map[string]*time.Time{"since": &req.Since, "until": &req.Until} {
		s := query.Get(key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = t
	}

	if s := query.Get("n"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			problems = append(problems, fmt.Errorf("n: %w", err))
		}
		req.Limit = n
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", orbit.ErrInvalidRequest, strings.Join(orbitutil.FlattenErrors(problems...), "; "))
	}

	if err := req.Normalize(); err != nil {
		return nil, err
	}

	return req, nil
}

func parseRange[T int | time.Duration](s string, parse func(string) (T, error), min, def, max T) T {
	v, err := parse(s)
	switch {
	case err != nil:
		return def
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}
