package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/astro-stack/orbit/orbithttp"
)

type streamConfig struct {
	*rootConfig
	filterConfig

	remote        string
	recvBuf       int
	retryInterval time.Duration
}

func (cfg *streamConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'u', LongName: "remote" /*         */, Value: ffval.NewValue(&cfg.remote) /*                               */, Usage: "server to stream from e.g. localhost:8001/orbit (required)", Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recv-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.recvBuf, 100) /*                  */, Usage: "local receive buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "retry-interval" /* */, Value: ffval.NewValueDefault(&cfg.retryInterval, 1*time.Second) /*  */, Usage: "connection retry interval"})
}

func (cfg *streamConfig) Exec(ctx context.Context, args []string) error {
	if cfg.remote == "" {
		return errors.New("--remote is required")
	}

	req, err := cfg.searchRequest(time.Now().UTC(), 0)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	cfg.info.Printf("streaming from %s", cfg.remote)
	cfg.debug.Printf("filter: %s", req)
	cfg.debug.Printf("recv buffer: %d", cfg.recvBuf)
	cfg.debug.Printf("retry interval: %s", cfg.retryInterval)

	client := orbithttp.NewClient(http.DefaultClient, cfg.remote)
	client.RetryInterval = cfg.retryInterval

	events := make(chan orbithttp.StreamEvent, cfg.recvBuf)

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return client.Stream(ctx, req, events)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			for {
				select {
				case ev := <-events:
					if err := cfg.writeJSON(ev); err != nil {
						return err
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}
