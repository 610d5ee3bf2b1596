package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/astro-stack/orbit"
	"github.com/astro-stack/orbit/internal/orbitutil"
)

type dumpConfig struct {
	*rootConfig

	file string
}

func (cfg *dumpConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'f',
		LongName:    "file",
		Value:       ffval.NewValue(&cfg.file),
		Usage:       "snapshot file, - for stdin or stdout",
		Placeholder: "FILE",
	})
}

func (cfg *dumpConfig) ExecDump(ctx context.Context, args []string) error {
	rec, err := cfg.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer rec.Close()

	var w io.Writer = cfg.stdout
	if cfg.file != "" && cfg.file != "-" {
		f, err := os.Create(cfg.file)
		if err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		defer f.Close()
		w = f
	}

	cw := &countingWriter{w: w}
	n, err := orbit.Dump(ctx, rec.Store(), cw)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}

	cfg.info.Printf("dumped %d entries (%s)", n, orbitutil.HumanizeBytes(cw.n))

	return nil
}

func (cfg *dumpConfig) ExecRestore(ctx context.Context, args []string) error {
	rec, err := cfg.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer rec.Close()

	var r io.Reader = cfg.stdin
	if cfg.file != "" && cfg.file != "-" {
		f, err := os.Open(cfg.file)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}

	n, err := orbit.Restore(ctx, rec.Store(), r)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	cfg.info.Printf("restored %d entries", n)

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
