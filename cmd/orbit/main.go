// orbit is a CLI tool for operating on recorded orbit entries.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("orbit")
	rootConfig.registerBaseFlags(rootFlags)

	rootCommand := &ff.Command{
		Name:      "orbit",
		ShortHelp: "operate on entries recorded to an orbit database",
		Flags:     rootFlags,
	}

	// Config for `orbit serve`.
	serveConfig := &serveConfig{rootConfig: rootConfig}
	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	serveConfig.register(serveFlags)
	serveCommand := &ff.Command{
		Name:      "serve",
		ShortHelp: "serve the query API over the database",
		LongHelp:  "Serve the JSON API and live stream under /orbit/, reload the config file on change, and optionally prune on a schedule.",
		Flags:     serveFlags,
		Exec:      serveConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, serveCommand)

	// Config for `orbit prune`.
	pruneConfig := &pruneConfig{rootConfig: rootConfig}
	pruneFlags := ff.NewFlagSet("prune").SetParent(rootFlags)
	pruneConfig.register(pruneFlags)
	pruneCommand := &ff.Command{
		Name:      "prune",
		ShortHelp: "delete old entries",
		Flags:     pruneFlags,
		Exec:      pruneConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, pruneCommand)

	// Config for `orbit search`.
	searchConfig := &searchConfig{rootConfig: rootConfig}
	searchFlags := ff.NewFlagSet("search").SetParent(rootFlags)
	searchConfig.registerFilterFlags(searchFlags)
	searchConfig.register(searchFlags)
	searchCommand := &ff.Command{
		Name:      "search",
		ShortHelp: "run a single search request",
		LongHelp:  "Fetch entries that match the provided query flags, from the database or a remote server.",
		Flags:     searchFlags,
		Exec:      searchConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, searchCommand)

	// Config for `orbit stream`.
	streamConfig := &streamConfig{rootConfig: rootConfig}
	streamFlags := ff.NewFlagSet("stream").SetParent(rootFlags)
	streamConfig.registerFilterFlags(streamFlags)
	streamConfig.register(streamFlags)
	streamCommand := &ff.Command{
		Name:      "stream",
		ShortHelp: "continuously stream new entries from a remote server",
		Flags:     streamFlags,
		Exec:      streamConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, streamCommand)

	// Config for `orbit dump` and `orbit restore`.
	dumpConfig := &dumpConfig{rootConfig: rootConfig}
	dumpFlags := ff.NewFlagSet("dump").SetParent(rootFlags)
	dumpConfig.register(dumpFlags)
	dumpCommand := &ff.Command{
		Name:      "dump",
		ShortHelp: "write every entry as compressed NDJSON",
		Flags:     dumpFlags,
		Exec:      dumpConfig.ExecDump,
	}
	restoreFlags := ff.NewFlagSet("restore").SetParent(rootFlags)
	dumpConfig.register(restoreFlags)
	restoreCommand := &ff.Command{
		Name:      "restore",
		ShortHelp: "append entries from a dump, skipping existing IDs",
		Flags:     restoreFlags,
		Exec:      dumpConfig.ExecRestore,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, dumpCommand, restoreCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("ORBIT")); err != nil {
		return err
	}

	// Validation and set-up.
	{
		var infodst, debugdst io.Writer
		switch rootConfig.logLevel {
		case "n", "none":
			infodst, debugdst = io.Discard, io.Discard
		case "i", "info":
			infodst, debugdst = stderr, io.Discard
		case "d", "debug":
			infodst, debugdst = stderr, stderr
		default:
			return fmt.Errorf("invalid log level %q", rootConfig.logLevel)
		}
		rootConfig.info = log.New(infodst, "", 0)
		rootConfig.debug = log.New(debugdst, "[DEBUG] ", log.Lmsgprefix)
	}

	if rootConfig.configPath != "" {
		rootConfig.debug.Printf("config file: %s", rootConfig.configPath)
	}
	rootConfig.debug.Printf("database: %s", rootConfig.dbPath)

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
