package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/astro-stack/orbit"
	"github.com/astro-stack/orbit/internal/orbitutil"
	"github.com/astro-stack/orbit/orbithttp"
)

type searchConfig struct {
	*rootConfig
	filterConfig

	remote         string
	limit          int
	includeRequest bool
	includeStats   bool
}

func (cfg *searchConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'u', LongName: "remote" /*           */, Value: ffval.NewValue(&cfg.remote) /*             */, Usage: "query this server instead of the database e.g. localhost:8001/orbit", NoDefault: true, Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "limit" /*            */, Value: ffval.NewValueDefault(&cfg.limit, 10) /*   */, Usage: "maximum number of entries to return"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "include-request" /*  */, Value: ffval.NewValue(&cfg.includeRequest) /*     */, Usage: "include search request in output", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "include-stats" /*    */, Value: ffval.NewValue(&cfg.includeStats) /*       */, Usage: "include search statistics in output", NoDefault: true})
}

func (cfg *searchConfig) Exec(ctx context.Context, args []string) error {
	req, err := cfg.searchRequest(time.Now().UTC(), cfg.limit)
	if err != nil {
		return fmt.Errorf("invalid search: %w", err)
	}

	cfg.debug.Printf("request: %s", req)

	var res *orbithttp.EntriesResponse
	if cfg.remote != "" {
		cfg.debug.Printf("remote: %s", cfg.remote)
		res, err = orbithttp.NewClient(http.DefaultClient, cfg.remote).Search(ctx, req)
	} else {
		res, err = cfg.searchLocal(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("execute search: %w", err)
	}

	cfg.debug.Printf("response: total: %d", res.Total)
	cfg.debug.Printf("response: matched: %d", res.Matched)
	cfg.debug.Printf("response: returned: %d", len(res.Entries))
	cfg.debug.Printf("response: duration: %s", orbitutil.HumanizeDuration(res.Duration))
	for _, p := range res.Problems {
		cfg.info.Printf("problem: %s", p)
	}

	if !cfg.includeRequest {
		res.Request = nil
	}

	if !cfg.includeStats {
		res.Stats = nil
	}

	return cfg.writeJSON(res)
}

func (cfg *searchConfig) searchLocal(ctx context.Context, req *orbit.SearchRequest) (*orbithttp.EntriesResponse, error) {
	rec, err := cfg.openRecorder(ctx)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	res, err := rec.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]string, len(res.Entries))
	for _, e := range res.Entries {
		summaries[e.ID()] = orbit.Summary(e)
	}

	return &orbithttp.EntriesResponse{
		SearchResponse: res,
		Summaries:      summaries,
	}, nil
}
