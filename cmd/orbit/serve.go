package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/robfig/cron/v3"

	"github.com/astro-stack/orbit"
	"github.com/astro-stack/orbit/orbithttp"
)

type serveConfig struct {
	*rootConfig

	listenAddr    string
	pruneSchedule string
	olderThan     time.Duration
	keepImportant bool
}

func (cfg *serveConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen-addr" /*     */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8001") /* */, Usage: "HTTP listen address"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "prune-schedule" /*  */, Value: ffval.NewValue(&cfg.pruneSchedule) /*                       */, Usage: "cron schedule for pruning e.g. '@hourly' (disabled if empty)", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "older-than" /*      */, Value: ffval.NewValueDefault(&cfg.olderThan, 24*time.Hour) /*      */, Usage: "scheduled prune: delete entries older than this"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "keep-important" /*  */, Value: ffval.NewValue(&cfg.keepImportant) /*                       */, Usage: "scheduled prune: keep exceptions and error logs"})
}

func (cfg *serveConfig) Exec(ctx context.Context, args []string) error {
	rec, err := cfg.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer rec.Close()

	var g run.Group

	// HTTP server.
	{
		ln, err := net.Listen("tcp", cfg.listenAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/orbit/", http.StripPrefix("/orbit", orbithttp.NewServer(rec, cfg.info)))

		server := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		cfg.info.Printf("listening on http://%s/orbit/", ln.Addr())

		g.Add(func() error {
			if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	// Config file reloads.
	if cfg.configPath != "" {
		apply := func(c orbit.Config) {
			if cfg.storageLimit > 0 {
				c.StorageLimit = cfg.storageLimit
			}
			rec.SetConfig(c)
			cfg.info.Printf("config reloaded (enabled %v, storage limit %d)", c.Enabled, rec.Config().StorageLimit)
		}

		watcher, err := orbit.NewConfigWatcher(cfg.configPath, apply, cfg.info.Printf)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return watcher.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Scheduled pruning.
	if cfg.pruneSchedule != "" {
		c := cron.New(cron.WithLogger(cron.PrintfLogger(cfg.debug)))
		if _, err := c.AddFunc(cfg.pruneSchedule, func() {
			n, err := rec.Prune(ctx, cfg.olderThan.Hours(), cfg.keepImportant)
			if err != nil {
				cfg.info.Printf("scheduled prune: %v", err)
				return
			}
			cfg.info.Printf("scheduled prune: deleted %d entries", n)
		}); err != nil {
			return fmt.Errorf("prune schedule: %w", err)
		}

		cfg.info.Printf("pruning entries older than %s on schedule %q", cfg.olderThan, cfg.pruneSchedule)

		stopc := make(chan struct{})
		g.Add(func() error {
			c.Start()
			<-stopc
			return nil
		}, func(error) {
			<-c.Stop().Done()
			close(stopc)
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}
