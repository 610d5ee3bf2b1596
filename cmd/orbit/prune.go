package main

import (
	"context"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
)

type pruneConfig struct {
	*rootConfig

	olderThan     time.Duration
	keepImportant bool
}

func (cfg *pruneConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "older-than" /*      */, Value: ffval.NewValueDefault(&cfg.olderThan, 24*time.Hour) /* */, Usage: "delete entries older than this"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "keep-important" /*  */, Value: ffval.NewValue(&cfg.keepImportant) /*                  */, Usage: "keep exceptions and error logs regardless of age"})
}

func (cfg *pruneConfig) Exec(ctx context.Context, args []string) error {
	rec, err := cfg.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer rec.Close()

	n, err := rec.Prune(ctx, cfg.olderThan.Hours(), cfg.keepImportant)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	cfg.info.Printf("pruned %d entries older than %s (keep important %v)", n, cfg.olderThan, cfg.keepImportant)

	return cfg.writeJSON(map[string]int{"deleted": n})
}
