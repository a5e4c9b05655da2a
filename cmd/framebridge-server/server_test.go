// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/framebridge/bridgeclient"
	"github.com/bureau-foundation/framebridge/lib/config"
	"github.com/bureau-foundation/framebridge/lib/procinfo"
	"github.com/bureau-foundation/framebridge/lib/statefile"
	"github.com/bureau-foundation/framebridge/lib/testutil"
)

const testTimeout = 10 * time.Second

// fakeCaptureScript stands in for the capture tool: it accepts the
// terminate-existing invocation, then prints a header and a 10 ms
// frame every 20 ms until killed.
const fakeCaptureScript = `case "$*" in
*--terminate_existing_session*) exit 0 ;;
esac
echo "Application,ProcessID,MsBetweenPresents"
while true; do
  echo "game.exe,1,10"
  sleep 0.02
done
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Pipe.Name != config.DefaultPipeName {
		t.Errorf("pipe name = %q, want the default", cfg.Pipe.Name)
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framebridge.yaml")
	if err := os.WriteFile(path, []byte("metrics:\n  window_size: 500\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Metrics.WindowSize != 500 {
		t.Errorf("window_size = %d, want 500", cfg.Metrics.WindowSize)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framebridge.yaml")
	if err := os.WriteFile(path, []byte("metrics:\n  window_size: 0\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	_, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "window_size") {
		t.Fatalf("loadConfig error = %v, want window_size complaint", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Resolve()
	cfg.Pipe.Name = testutil.PipeName(t)
	cfg.Capture.Executable = testutil.WriteScript(t, "capture", fakeCaptureScript)
	cfg.Capture.Mode = config.ModeDirect
	cfg.Capture.KillGrace = config.Duration(time.Second)
	cfg.Capture.TerminateTimeout = config.Duration(2 * time.Second)
	cfg.State.Directory = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func TestNewServerFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Columns.FrameTime = []string{"FrameDuration"}
	cfg.Metrics.WindowSize = 250

	server, err := newServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server.PipeName != cfg.Pipe.Name {
		t.Errorf("PipeName = %q", server.PipeName)
	}
	if server.WindowSize != 250 || server.PushQueue != cfg.Metrics.PushQueue {
		t.Errorf("WindowSize/PushQueue = %d/%d", server.WindowSize, server.PushQueue)
	}
	if len(server.Profile.FrameTime) != 1 || server.Profile.FrameTime[0] != "FrameDuration" {
		t.Errorf("Profile.FrameTime = %v", server.Profile.FrameTime)
	}
	if len(server.Profile.FPS) != 0 {
		t.Errorf("unconfigured FPS columns = %v, want empty for engine defaults", server.Profile.FPS)
	}
	if server.StateFile != statefile.Path(cfg.State.Directory) {
		t.Errorf("StateFile = %q", server.StateFile)
	}
	if server.CaptureExecutable != cfg.Capture.Executable {
		t.Errorf("CaptureExecutable = %q", server.CaptureExecutable)
	}
	if server.ListenOptions.AllowAll {
		t.Error("socket opened to all users without allow_all_users")
	}

	cfg.Pipe.AllowAllUsers = true
	server, err = newServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if !server.ListenOptions.AllowAll {
		t.Error("allow_all_users not passed to the listener")
	}
}

func TestNewServerMissingExecutable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Executable = filepath.Join(t.TempDir(), "missing-capture")

	if _, err := newServer(cfg, discardLogger()); err == nil {
		t.Fatal("newServer succeeded with a missing capture executable")
	}
}

// TestServeEndToEnd runs the real server with a scripted capture tool
// and drives it with the real client.
func TestServeEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	returned := make(chan struct{})
	go func() {
		served <- serve(ctx, cfg, discardLogger())
		close(returned)
	}()
	t.Cleanup(func() {
		cancel()
		<-returned
	})

	client := &bridgeclient.Client{PipeName: cfg.Pipe.Name, Logger: discardLogger()}
	deadline := time.Now().Add(testTimeout)
	for !client.Connect(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatalf("server never accepted: %s", client.LastError())
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer client.Close()

	self, err := procinfo.Lookup(context.Background(), uint32(os.Getpid()))
	if err != nil {
		t.Fatalf("looking up the test process: %v", err)
	}
	if !client.StartMonitoring(context.Background(), self.PID, self.Name) {
		t.Fatalf("StartMonitoring: %s", client.LastError())
	}

	telemetry := testutil.RequireReceive(t, client.Metrics(), testTimeout, "first telemetry")
	if telemetry.AverageFrameTimeMs != 10 || telemetry.FPS != 100 {
		t.Errorf("telemetry = %+v, want 10 ms / 100 FPS", telemetry.MetricsPayload)
	}
	record, err := statefile.Read(statefile.Path(cfg.State.Directory))
	if err != nil {
		t.Fatalf("reading capture record: %v", err)
	}
	if record.TargetProcessID != self.PID || record.ProcessID == 0 {
		t.Errorf("capture record = %+v", record)
	}

	if !client.StopMonitoring(context.Background()) {
		t.Fatalf("StopMonitoring: %s", client.LastError())
	}
	if _, err := os.Stat(statefile.Path(cfg.State.Directory)); !os.IsNotExist(err) {
		t.Errorf("capture record left after stop: %v", err)
	}

	cancel()
	if err := testutil.RequireReceive(t, served, testTimeout, "serve return"); err != nil {
		t.Errorf("serve: %v", err)
	}
}
