// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/framebridge/bridgeclient"
	"github.com/bureau-foundation/framebridge/lib/procinfo"
)

// stopTimeout bounds the StopMonitoring sent when start or watch exits.
const stopTimeout = 2 * time.Second

func newClient(global options) *bridgeclient.Client {
	return &bridgeclient.Client{
		PipeName:       global.pipeName,
		Logger:         newLogger(global.verbose),
		RequestTimeout: global.requestTimeout,
	}
}

// connect opens the client's connection, reporting the recorded reason
// on failure.
func connect(ctx context.Context, client *bridgeclient.Client) error {
	if err := client.ConnectErr(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", client.PipeName, err)
	}
	return nil
}

func runPing(ctx context.Context, global options, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("ping takes no arguments")
	}
	client := newClient(global)
	if err := connect(ctx, client); err != nil {
		return err
	}
	defer client.Close()

	started := time.Now()
	if !client.Ping(ctx) {
		return fmt.Errorf("ping failed: %s", client.LastError())
	}
	fmt.Printf("bridge server at %s answered in %s\n", client.PipeName, time.Since(started).Round(time.Microsecond))
	return nil
}

func runStop(ctx context.Context, global options, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("stop takes no arguments")
	}
	client := newClient(global)
	if err := connect(ctx, client); err != nil {
		return err
	}
	defer client.Close()

	if !client.StopMonitoring(ctx) {
		return fmt.Errorf("stop failed: %s", client.LastError())
	}
	return nil
}

// monitorTarget is the process named on the start and watch command
// lines.
type monitorTarget struct {
	processID   uint32
	processName string
}

// parseTarget reads "<pid> [--name <name>]". Without --name the name is
// looked up from the running process.
func parseTarget(ctx context.Context, command string, args []string) (monitorTarget, error) {
	var name string
	flagSet := pflag.NewFlagSet(command, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&name, "name", "", "process name (default: looked up from the pid)")
	if err := flagSet.Parse(args); err != nil {
		return monitorTarget{}, fmt.Errorf("%s: %w", command, err)
	}
	if flagSet.NArg() != 1 {
		return monitorTarget{}, fmt.Errorf("%s takes exactly one process id", command)
	}
	pid, err := strconv.ParseUint(flagSet.Arg(0), 10, 32)
	if err != nil || pid == 0 {
		return monitorTarget{}, fmt.Errorf("%s: invalid process id %q", command, flagSet.Arg(0))
	}

	target := monitorTarget{processID: uint32(pid), processName: name}
	if target.processName == "" {
		process, err := procinfo.Lookup(ctx, target.processID)
		if err != nil {
			return monitorTarget{}, fmt.Errorf("%s: %w (pass --name to skip the lookup)", command, err)
		}
		target.processName = process.Name
	}
	return target, nil
}

// runStart monitors a process until interrupted, the capture fails, or
// the server disconnects. With interactive set it shows the live view.
func runStart(ctx context.Context, global options, args []string, interactive bool) error {
	command := "start"
	if interactive {
		command = "watch"
	}
	target, err := parseTarget(ctx, command, args)
	if err != nil {
		return err
	}

	client := newClient(global)
	serverErrors := make(chan string, 1)
	client.OnServerError = func(message string) {
		select {
		case serverErrors <- message:
		default:
		}
	}
	if err := connect(ctx, client); err != nil {
		return err
	}
	defer client.Close()

	if !client.StartMonitoring(ctx, target.processID, target.processName) {
		return fmt.Errorf("start monitoring %s (%d): %s", target.processName, target.processID, client.LastError())
	}
	defer func() {
		stopContext, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		client.StopMonitoring(stopContext)
	}()

	if interactive {
		return watch(ctx, client, target, serverErrors)
	}
	return printTelemetry(ctx, os.Stdout, client.Metrics(), client.Disconnected(), serverErrors)
}

// printTelemetry writes one line per push until ctx ends, the server
// reports an error, or disconnected closes.
func printTelemetry(ctx context.Context, output io.Writer, metrics <-chan bridgeclient.Telemetry, disconnected <-chan struct{}, serverErrors <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case telemetry := <-metrics:
			fmt.Fprintln(output, formatTelemetry(telemetry))
		case message := <-serverErrors:
			return fmt.Errorf("capture ended: %s", message)
		case <-disconnected:
			return errors.New("bridge server closed the connection")
		}
	}
}
