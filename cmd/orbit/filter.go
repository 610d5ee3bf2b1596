package main

import (
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/astro-stack/orbit"
)

type filterConfig struct {
	query      string
	types      []string
	familyHash string
	since      string
	until      string
}

func (cfg *filterConfig) registerFilterFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'q', LongName: "query" /*       */, Value: ffval.NewValue(&cfg.query) /*        */, NoDefault: true, Usage: "case-insensitive text or ID prefix"})
	fs.AddFlag(ff.FlagConfig{ShortName: 't', LongName: "type" /*        */, Value: ffval.NewUniqueList(&cfg.types) /*   */, NoDefault: true, Usage: "entry type (repeatable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "family-hash" /* */, Value: ffval.NewValue(&cfg.familyHash) /*   */, NoDefault: true, Usage: "unit of work token"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "since" /*       */, Value: ffval.NewValue(&cfg.since) /*        */, NoDefault: true, Usage: "RFC3339 time, or duration ago e.g. 1h", Placeholder: "TIME"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "until" /*       */, Value: ffval.NewValue(&cfg.until) /*        */, NoDefault: true, Usage: "RFC3339 time, or duration ago e.g. 10m", Placeholder: "TIME"})
}

func (cfg *filterConfig) searchRequest(now time.Time, limit int) (*orbit.SearchRequest, error) {
	req := &orbit.SearchRequest{
		Query:      cfg.query,
		FamilyHash: cfg.familyHash,
		Limit:      limit,
	}

	for _, s := range cfg.types {
		t, err := orbit.ParseType(s)
		if err != nil {
			return nil, err
		}
		req.Types = append(req.Types, t)
	}

	var err error
	if req.Since, err = parseTimeFlag(now, cfg.since); err != nil {
		return nil, fmt.Errorf("since: %w", err)
	}
	if req.Until, err = parseTimeFlag(now, cfg.until); err != nil {
		return nil, fmt.Errorf("until: %w", err)
	}

	if err := req.Normalize(); err != nil {
		return nil, err
	}

	return req, nil
}

// parseTimeFlag parses s as a duration before now, or as an RFC3339 time. An
// empty string is the zero time.
func parseTimeFlag(now time.Time, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
