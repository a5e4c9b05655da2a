// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Pipe.Name != `\\.\pipe\framebridge` {
		t.Errorf("expected default pipe name, got %s", cfg.Pipe.Name)
	}
	if cfg.Capture.KillGrace.Std() != 3*time.Second {
		t.Errorf("expected kill_grace=3s, got %v", cfg.Capture.KillGrace.Std())
	}
	if cfg.Metrics.WindowSize != 1000 || cfg.Metrics.PushQueue != 64 {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Metrics.MinPercentileSamples != 0 {
		t.Errorf("expected min_percentile_samples=0, got %d", cfg.Metrics.MinPercentileSamples)
	}
	if err := Resolve().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, "framebridge.yaml", `
environment: production
pipe:
  name: \\.\pipe\framebridge-test
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Production {
		t.Errorf("expected environment=production, got %s", cfg.Environment)
	}
	if cfg.Pipe.Name != `\\.\pipe\framebridge-test` {
		t.Errorf("expected overridden pipe name, got %s", cfg.Pipe.Name)
	}
	// Unspecified sections keep their defaults.
	if cfg.Capture.SessionName != "FrameBridge" {
		t.Errorf("expected default session name, got %s", cfg.Capture.SessionName)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "framebridge.yaml", `
environment: development

pipe:
  write_timeout: 500ms
  allow_all_users: true

capture:
  executable: /opt/capture/presentmon
  mode: direct
  select_by: name
  session_name: BridgeTest
  extra_args: ["--track_gpu_video"]
  kill_grace: 1s
  terminate_timeout: 2s

metrics:
  window_size: 500
  min_percentile_samples: 100
  push_queue: 8
  columns:
    frame_time: [msBetweenPresents]
    dropped: [Dropped, WasBatched]

state:
  directory: /var/lib/framebridge

observability:
  listen_address: 127.0.0.1:9464
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Pipe.WriteTimeout.Std() != 500*time.Millisecond {
		t.Errorf("expected write_timeout=500ms, got %v", cfg.Pipe.WriteTimeout.Std())
	}
	if !cfg.Pipe.AllowAllUsers {
		t.Error("expected allow_all_users from file")
	}
	if cfg.Capture.Executable != "/opt/capture/presentmon" {
		t.Errorf("expected executable from file, got %s", cfg.Capture.Executable)
	}
	if cfg.Capture.Mode != ModeDirect || cfg.Capture.SelectBy != SelectByName {
		t.Errorf("expected direct/name, got %s/%s", cfg.Capture.Mode, cfg.Capture.SelectBy)
	}
	if len(cfg.Capture.ExtraArgs) != 1 || cfg.Capture.ExtraArgs[0] != "--track_gpu_video" {
		t.Errorf("unexpected extra_args: %v", cfg.Capture.ExtraArgs)
	}
	if cfg.Capture.KillGrace.Std() != time.Second || cfg.Capture.TerminateTimeout.Std() != 2*time.Second {
		t.Errorf("unexpected capture timeouts: %v %v", cfg.Capture.KillGrace.Std(), cfg.Capture.TerminateTimeout.Std())
	}
	if cfg.Metrics.WindowSize != 500 || cfg.Metrics.MinPercentileSamples != 100 || cfg.Metrics.PushQueue != 8 {
		t.Errorf("unexpected metrics: %+v", cfg.Metrics)
	}
	if len(cfg.Metrics.Columns.Dropped) != 2 || cfg.Metrics.Columns.FrameTime[0] != "msBetweenPresents" {
		t.Errorf("unexpected columns: %+v", cfg.Metrics.Columns)
	}
	if cfg.State.Directory != "/var/lib/framebridge" {
		t.Errorf("expected state directory from file, got %s", cfg.State.Directory)
	}
	if cfg.Observability.ListenAddress != "127.0.0.1:9464" {
		t.Errorf("expected listen address from file, got %s", cfg.Observability.ListenAddress)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "framebridge.jsonc", `{
  // Capture in the user's session.
  "environment": "development",
  "capture": {
    "session_name": "FromJSONC",
    "kill_grace": "4s", // generous
  },
  "metrics": {"push_queue": 16,},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Capture.SessionName != "FromJSONC" {
		t.Errorf("expected session name from JSONC, got %s", cfg.Capture.SessionName)
	}
	if cfg.Capture.KillGrace.Std() != 4*time.Second {
		t.Errorf("expected kill_grace=4s, got %v", cfg.Capture.KillGrace.Std())
	}
	if cfg.Metrics.PushQueue != 16 {
		t.Errorf("expected push_queue=16, got %d", cfg.Metrics.PushQueue)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "bad.yaml", "capture:\n  kill_grace: soon\n")
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "soon") {
		t.Errorf("error should name the bad value: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "framebridge.yaml", `
environment: production

capture:
  mode: auto
  kill_grace: 3s

observability:
  listen_address: 127.0.0.1:9464

development:
  capture:
    mode: direct

production:
  capture:
    kill_grace: 10s
  metrics:
    push_queue: 256
  observability:
    listen_address: ""
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Capture.KillGrace.Std() != 10*time.Second {
		t.Errorf("expected kill_grace=10s from production override, got %v", cfg.Capture.KillGrace.Std())
	}
	if cfg.Metrics.PushQueue != 256 {
		t.Errorf("expected push_queue=256 from production override, got %d", cfg.Metrics.PushQueue)
	}
	if cfg.Observability.ListenAddress != "" {
		t.Errorf("expected production override to disable the endpoint, got %q", cfg.Observability.ListenAddress)
	}
	// The development section is ignored in production.
	if cfg.Capture.Mode != ModeAuto {
		t.Errorf("expected mode=auto, got %s", cfg.Capture.Mode)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("FRAMEBRIDGE_PIPE", `\\.\pipe\from-env`)
	t.Setenv("FRAMEBRIDGE_ENVIRONMENT", "production")

	path := writeConfig(t, "framebridge.yaml", `
environment: development
pipe:
  name: \\.\pipe\from-file
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s", cfg.Environment)
	}
	if cfg.Pipe.Name != `\\.\pipe\from-file` {
		t.Errorf("expected pipe name from file, got %s", cfg.Pipe.Name)
	}
}

func TestPathExpansion(t *testing.T) {
	t.Setenv("FRAMEBRIDGE_TEST_TOOLS", "/opt/tools")
	path := writeConfig(t, "framebridge.yaml", `
capture:
  executable: ${FRAMEBRIDGE_TEST_TOOLS}/presentmon
state:
  directory: ${FRAMEBRIDGE_TEST_UNSET:-/var/tmp}/framebridge
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Capture.Executable != "/opt/tools/presentmon" {
		t.Errorf("expected expanded executable, got %s", cfg.Capture.Executable)
	}
	if cfg.State.Directory != "/var/tmp/framebridge" {
		t.Errorf("expected default-expanded state directory, got %s", cfg.State.Directory)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{"${HOME}/framebridge", map[string]string{"HOME": "/home/user"}, "/home/user/framebridge"},
		{"${FRAMEBRIDGE_TEST_NOPE:-fallback}/x", nil, "fallback/x"},
		{"${FRAMEBRIDGE_TEST_NOPE}/x", nil, "/x"},
		{"no variables", nil, "no variables"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, test.vars); got != test.expected {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Pipe.Name = ""
	cfg.Capture.Mode = "teleport"
	cfg.Capture.SelectBy = "vibes"
	cfg.Capture.SessionName = "has space"
	cfg.Capture.KillGrace = 0
	cfg.Metrics.WindowSize = 10
	cfg.Metrics.MinPercentileSamples = 20
	cfg.Metrics.PushQueue = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"invalid environment",
		"pipe.name",
		"capture.mode",
		"capture.select_by",
		"capture.session_name",
		"capture.kill_grace",
		"metrics.min_percentile_samples",
		"metrics.push_queue",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("validation error missing %q:\n%v", fragment, err)
		}
	}
}

func TestValidate_ProductionForbidsDirect(t *testing.T) {
	cfg := Default()
	cfg.Environment = Production
	cfg.Capture.Mode = ModeDirect
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "not allowed in production") {
		t.Errorf("expected production/direct rejection, got %v", err)
	}
}

func TestUseSessionMode(t *testing.T) {
	capture := CaptureConfig{Mode: ModeDirect}
	if capture.UseSessionMode() {
		t.Error("direct mode reported as session mode")
	}
	capture.Mode = ModeSession
	if !capture.UseSessionMode() {
		t.Error("session mode not reported as session mode")
	}
	capture.Mode = ModeAuto
	if got, want := capture.UseSessionMode(), runtime.GOOS == "windows"; got != want {
		t.Errorf("auto mode = %v on %s, want %v", got, runtime.GOOS, want)
	}
}

func TestExecutablePath(t *testing.T) {
	directory := t.TempDir()
	executable := filepath.Join(directory, "capture-tool")
	if err := os.WriteFile(executable, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	capture := CaptureConfig{Executable: executable}
	if got, err := capture.ExecutablePath(); err != nil || got != executable {
		t.Errorf("ExecutablePath() = %q, %v; want %q", got, err, executable)
	}

	capture.Executable = filepath.Join(directory, "missing")
	if _, err := capture.ExecutablePath(); err == nil {
		t.Error("expected error for missing absolute path")
	}

	capture.Executable = "framebridge-definitely-not-installed"
	if _, err := capture.ExecutablePath(); err == nil {
		t.Error("expected error for unknown bare name")
	}
}
