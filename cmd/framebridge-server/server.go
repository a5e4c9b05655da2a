// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/framebridge/bridge"
	"github.com/bureau-foundation/framebridge/frametime"
	"github.com/bureau-foundation/framebridge/launcher"
	"github.com/bureau-foundation/framebridge/lib/config"
	"github.com/bureau-foundation/framebridge/lib/observability"
	"github.com/bureau-foundation/framebridge/lib/pipe"
	"github.com/bureau-foundation/framebridge/lib/procinfo"
	"github.com/bureau-foundation/framebridge/lib/statefile"
	"github.com/bureau-foundation/framebridge/lib/version"
)

// serve runs the bridge server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("framebridge-server starting",
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"host", procinfo.HostSummary(ctx),
	)
	logger.Debug("build details", "version", version.Full())

	server, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	metricsContext, cancelMetrics := context.WithCancel(ctx)
	defer cancelMetrics()
	metricsDone := make(chan error, 1)
	if address := cfg.Observability.ListenAddress; address != "" {
		go func() { metricsDone <- server.Metrics.Serve(metricsContext, address, logger) }()
		logger.Info("serving prometheus metrics", "address", address)
	} else {
		close(metricsDone)
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge server: %w", err)
	}

	select {
	case <-ctx.Done():
	case err := <-metricsDone:
		if err != nil {
			server.Stop()
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		<-ctx.Done()
	}

	logger.Info("framebridge-server shutting down")
	server.Stop()
	return nil
}

// newServer builds a bridge server and its launcher from cfg.
func newServer(cfg *config.Config, logger *slog.Logger) (*bridge.Server, error) {
	executable, err := cfg.Capture.ExecutablePath()
	if err != nil {
		return nil, err
	}

	mode := launcher.ModeDirect
	if cfg.Capture.UseSessionMode() {
		mode = launcher.ModeSession
	}
	captureLauncher := &launcher.Launcher{
		Executable:       executable,
		Mode:             mode,
		SelectByName:     cfg.Capture.SelectBy == config.SelectByName,
		SessionName:      cfg.Capture.SessionName,
		ExtraArgs:        cfg.Capture.ExtraArgs,
		TerminateTimeout: cfg.Capture.TerminateTimeout.Std(),
		Logger:           logger.With("component", "launcher"),
	}
	logger.Info("capture tool configured",
		"executable", executable,
		"mode", mode.String(),
		"select_by", cfg.Capture.SelectBy,
	)

	var stateFile string
	if cfg.State.Directory != "" {
		stateFile = statefile.Path(cfg.State.Directory)
	}

	return &bridge.Server{
		PipeName: cfg.Pipe.Name,
		ListenOptions: pipe.ListenOptions{
			SecurityDescriptor: cfg.Pipe.SecurityDescriptor,
			AllowAll:           cfg.Pipe.AllowAllUsers,
		},
		Launcher:             bridge.SessionLauncher(captureLauncher),
		Profile:              columnProfile(cfg.Metrics.Columns),
		WindowSize:           cfg.Metrics.WindowSize,
		MinPercentileSamples: cfg.Metrics.MinPercentileSamples,
		PushQueue:            cfg.Metrics.PushQueue,
		KillGrace:            cfg.Capture.KillGrace.Std(),
		WriteTimeout:         cfg.Pipe.WriteTimeout.Std(),
		StateFile:            stateFile,
		CaptureExecutable:    executable,
		Metrics:              observability.New(),
		Logger:               logger.With("component", "bridge"),
	}, nil
}

// columnProfile converts the configured column lists. Empty lists keep
// the engine's built-in variants.
func columnProfile(columns config.ColumnsConfig) frametime.ColumnProfile {
	return frametime.ColumnProfile{
		FrameTime:      columns.FrameTime,
		FPS:            columns.FPS,
		Dropped:        columns.Dropped,
		GPULatency:     columns.GPULatency,
		GPUTime:        columns.GPUTime,
		GPUBusy:        columns.GPUBusy,
		GPUWait:        columns.GPUWait,
		DisplayLatency: columns.DisplayLatency,
		CPUBusy:        columns.CPUBusy,
		CPUWait:        columns.CPUWait,
	}
}
