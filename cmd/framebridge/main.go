// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/framebridge/bridgeclient"
	"github.com/bureau-foundation/framebridge/lib/process"
	"github.com/bureau-foundation/framebridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	pipeName       string
	requestTimeout time.Duration
	verbose        bool
}

func run() error {
	var (
		global      options
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("framebridge", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&global.pipeName, "pipe", bridgeclient.DefaultPipeName, "bridge server pipe")
	flagSet.DurationVar(&global.requestTimeout, "timeout", bridgeclient.DefaultRequestTimeout, "per-request timeout")
	flagSet.BoolVarP(&global.verbose, "verbose", "v", false, "log client events")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(flagSet) }
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("framebridge %s\n", version.Info())
		return nil
	}
	if flagSet.NArg() == 0 {
		printUsage(flagSet)
		return errors.New("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, args := flagSet.Arg(0), flagSet.Args()[1:]
	switch command {
	case "ping":
		return runPing(ctx, global, args)
	case "stop":
		return runStop(ctx, global, args)
	case "start":
		return runStart(ctx, global, args, false)
	case "watch":
		return runStart(ctx, global, args, term.IsTerminal(int(os.Stdout.Fd())))
	default:
		printUsage(flagSet)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `framebridge - talk to the framebridge server

USAGE
    framebridge [flags] ping
    framebridge [flags] start <pid> [--name <process name>]
    framebridge [flags] watch <pid> [--name <process name>]
    framebridge [flags] stop

COMMANDS
    ping     check that the server answers
    start    monitor a process and print one line per metrics push
    watch    like start, with a live view when stdout is a terminal
    stop     ask the server to stop any running capture

Monitoring lasts as long as the command runs: the server stops the
capture when the client disconnects.

FLAGS
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// newLogger writes text to a terminal and JSON elsewhere.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
