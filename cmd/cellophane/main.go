// Command cellophane runs a pipeline wrapper: it imports a directory of
// plug-in modules, reads a samples manifest, and dispatches the declared
// runners over the resulting collection.
//
// Invoked with the hidden "__run-shard" subcommand, the binary instead
// becomes a shard worker: it rebuilds the module registry from the
// module directory named by its second argument and runs a single
// dispatcher shard request read from stdin, writing the result to
// stdout. This is how the dispatcher re-execs itself per shard; it is
// never meant to be typed by a user.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/app"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/cli"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/dispatcher"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor/socketioexec"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
)

const shardSubcommand = "__run-shard"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == shardSubcommand {
		if err := runShard(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	os.Exit(run(os.Stdout, os.Args[1:]))
}

// run parses flags, builds the App, and executes one pipeline pass,
// returning the process exit code per spec: 0 success, 1 fatal
// framework error, 2 CLI validation error, non-zero on interrupt.
func run(outW io.Writer, args []string) int {
	settings, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if shouldExit {
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, outW, settings)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// runShard rebuilds the module registry from argv[0] (the module
// directory) and runs one shard request read from stdin, per
// dispatcher.RunShard's contract.
func runShard(argv []string) error {
	if len(argv) < 1 {
		return fmt.Errorf("%s: missing module directory argument", shardSubcommand)
	}
	moduleDir := argv[0]

	ctx := context.Background()
	reg := modloader.New()
	if err := modloader.Load(ctx, moduleDir, reg); err != nil {
		return fmt.Errorf("%s: importing modules: %w", shardSubcommand, err)
	}
	reg.RegisterExecutorBackend("subprocess", executor.NewSubprocessBackend())
	reg.RegisterExecutorBackend("socketio", socketioexec.New())
	reg.Freeze()

	return dispatcher.RunShard(ctx, reg, os.Stdin, os.Stdout)
}
