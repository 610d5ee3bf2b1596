package orbit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

// SearchRequest selects a subset of entries from a store. All fields are
// optional; the zero value of a search request is valid, and matches the most
// recent entries.
type SearchRequest struct {
	// Query selects entries whose ID starts with the query, or whose payload
	// contains the query in any string value, case-insensitively.
	Query string `json:"query,omitempty"`

	// Types selects entries with any of the given types.
	Types []Type `json:"types,omitempty"`

	// FamilyHash selects entries correlated with the given unit of work.
	FamilyHash string `json:"family_hash,omitempty"`

	// Since selects entries created at or after the given time.
	Since time.Time `json:"since,omitempty"`

	// Until selects entries created at or before the given time.
	Until time.Time `json:"until,omitempty"`

	// Limit defines the maximum number of entries that will be returned in the
	// search response. The default value is 50. The minimum is 1, and the
	// maximum is 1000.
	Limit int `json:"limit,omitempty"`
}

const (
	searchLimitMin = 1
	searchLimitDef = 50
	searchLimitMax = 1000
)

// Normalize enforces limits on the search request, and validates it. The
// returned error wraps ErrInvalidRequest.
func (req *SearchRequest) Normalize() error {
	req.Query = strings.TrimSpace(req.Query)

	for _, t := range req.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown entry type %q", ErrInvalidRequest, t)
		}
	}

	if !req.Since.IsZero() && !req.Until.IsZero() && req.Since.After(req.Until) {
		return fmt.Errorf("%w: since (%s) is after until (%s)", ErrInvalidRequest, req.Since.Format(time.RFC3339), req.Until.Format(time.RFC3339))
	}

	switch {
	case req.Limit <= 0:
		req.Limit = searchLimitDef
	case req.Limit < searchLimitMin:
		req.Limit = searchLimitMin
	case req.Limit > searchLimitMax:
		req.Limit = searchLimitMax
	}

	return nil
}

// Filter returns the store filter corresponding to the request.
func (req *SearchRequest) Filter() Filter {
	return Filter{
		Types:      req.Types,
		FamilyHash: req.FamilyHash,
		Since:      req.Since,
		Until:      req.Until,
	}
}

// Match returns true if the entry passes the request filter and matches the
// query. Entries with unparseable payloads only match by ID.
func (req *SearchRequest) Match(e *Entry) bool {
	if !req.Filter().Allow(e) {
		return false
	}
	ok, _ := newMatcher(req.Query).match(e)
	return ok
}

// QueryValues returns a set of URL query parameters that, if passed to the
// HTTP server, should reproduce the search request.
func (req *SearchRequest) QueryValues() url.Values {
	values := url.Values{}
	if req.Query != "" {
		values.Set("q", req.Query)
	}
	for _, t := range req.Types {
		values.Add("type", string(t))
	}
	if req.FamilyHash != "" {
		values.Set("family_hash", req.FamilyHash)
	}
	if !req.Since.IsZero() {
		values.Set("since", req.Since.Format(time.RFC3339Nano))
	}
	if !req.Until.IsZero() {
		values.Set("until", req.Until.Format(time.RFC3339Nano))
	}
	if req.Limit != 0 && req.Limit != searchLimitDef {
		values.Set("n", strconv.Itoa(req.Limit))
	}
	return values
}

// String returns a representation of the search request that elides default
// values and is suitable for log statements.
func (req SearchRequest) String() string {
	return "{" + req.QueryValues().Encode() + "}"
}

// SearchResponse is the result of a search request.
type SearchResponse struct {
	Request  *SearchRequest `json:"request"`
	Total    int            `json:"total"`
	Matched  int            `json:"matched"`
	Entries  []*Entry       `json:"entries"`
	Stats    *Stats         `json:"stats"`
	Problems []string       `json:"problems,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Search the store. Total counts entries that pass the request filter, and
// Matched counts those that also match the query. Entries holds at most Limit
// of the matched entries, newest first.
func Search(ctx context.Context, s Store, req *SearchRequest) (*SearchResponse, error) {
	begin := time.Now()

	if err := req.Normalize(); err != nil {
		return nil, err
	}

	var (
		m        = newMatcher(req.Query)
		stats    = NewStats(DefaultBucketing)
		total    int
		matched  int
		selected = []*Entry{}
		problems []string
	)
	if err := s.List(ctx, req.Filter(), func(e *Entry) error {
		total++
		stats.Observe(e)

		ok, err := m.match(e)
		if err != nil {
			problems = append(problems, fmt.Sprintf("entry %s: %v", e.ID(), err))
		}
		if !ok {
			return nil
		}

		matched++
		if len(selected) < req.Limit {
			selected = append(selected, e)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	return &SearchResponse{
		Request:  req,
		Total:    total,
		Matched:  matched,
		Entries:  selected,
		Stats:    stats,
		Problems: problems,
		Duration: time.Since(begin),
	}, nil
}

//
//
//

type matcher struct {
	term   string
	parser fastjson.Parser
}

func newMatcher(query string) *matcher {
	return &matcher{term: strings.ToLower(query)}
}

// match returns true if the entry ID starts with the term, or if any string
// value in the payload contains the term, case-insensitively. An empty term
// matches everything.
func (m *matcher) match(e *Entry) (bool, error) {
	if m.term == "" {
		return true, nil
	}

	if strings.HasPrefix(strings.ToLower(e.ID()), m.term) {
		return true, nil
	}

	v, err := m.parser.ParseBytes(e.payload)
	if err != nil {
		return false, fmt.Errorf("parse payload: %w", err)
	}

	return containsString(v, m.term), nil
}

func containsString(v *fastjson.Value, term string) bool {
	switch v.Type() {
	case fastjson.TypeString:
		return strings.Contains(strings.ToLower(string(v.GetStringBytes())), term)

	case fastjson.TypeArray:
		for _, elem := range v.GetArray() {
			if containsString(elem, term) {
				return true
			}
		}
		return false

	case fastjson.TypeObject:
		var found bool
		v.GetObject().Visit(func(_ []byte, elem *fastjson.Value) {
			if !found && containsString(elem, term) {
				found = true
			}
		})
		return found

	default:
		return false
	}
}
