package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/astro-stack/orbit"
	"github.com/astro-stack/orbit/sqlstore"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	dbPath       string
	configPath   string
	storageLimit int
	logLevel     string
	output       string

	info, debug *log.Logger
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "db",
		Value:       ffval.NewValueDefault(&cfg.dbPath, "orbit.db"),
		Usage:       "SQLite database file",
		Placeholder: "FILE",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'c',
		LongName:    "config",
		Value:       ffval.NewValue(&cfg.configPath),
		Usage:       "YAML recorder config file",
		Placeholder: "FILE",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:  "storage-limit",
		Value:     ffval.NewValue(&cfg.storageLimit),
		Usage:     "maximum number of retained entries, overriding the config file",
		NoDefault: true,
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "none", "n"),
		Usage:       "log level: i/info, d/debug, n/none",
		Placeholder: "LEVEL",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'o',
		LongName:    "output",
		Value:       ffval.NewEnum(&cfg.output, "ndjson", "prettyjson"),
		Usage:       "output format: ndjson, prettyjson",
		Placeholder: "FORMAT",
	})
}

// loadConfig returns the recorder config from the config file, if any, with
// the storage limit flag applied.
func (cfg *rootConfig) loadConfig() (orbit.Config, error) {
	c := orbit.DefaultConfig()
	if cfg.configPath != "" {
		loaded, err := orbit.LoadConfig(cfg.configPath)
		if err != nil {
			return orbit.Config{}, err
		}
		c = loaded
	}
	if cfg.storageLimit > 0 {
		c.StorageLimit = cfg.storageLimit
	}
	c.Normalize()
	return c, nil
}

// openRecorder opens the database and returns a recorder over it. Closing the
// recorder closes the database.
func (cfg *rootConfig) openRecorder(ctx context.Context) (*orbit.Recorder, error) {
	c, err := cfg.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := sqlstore.Open(ctx, cfg.dbPath, c.StorageLimit)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cfg.debug.Printf("storage limit: %d", store.Limit())

	return orbit.NewRecorder(orbit.Options{
		Config: &c,
		Store:  store,
		Logger: cfg.info,
	}), nil
}

func (cfg *rootConfig) writeJSON(v any) error {
	enc := json.NewEncoder(cfg.stdout)
	switch cfg.output {
	case "prettyjson":
		enc.SetIndent("", "    ")
	case "ndjson":
		//
	default:
		//
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	return nil
}
