// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "FRAMEBRIDGE_CONFIG"

// ErrNoConfig is returned by [Load] when EnvironmentVariable is unset.
var ErrNoConfig = errors.New(EnvironmentVariable + " environment variable not set")

// Environment represents the deployment environment.
type Environment string

const (
	// Development is a developer machine: direct launch mode is
	// allowed and logs are verbose.
	Development Environment = "development"
	// Production is an installed Windows service.
	Production Environment = "production"
)

// Capture launch modes.
const (
	// ModeAuto selects ModeSession on Windows and ModeDirect elsewhere.
	ModeAuto = "auto"
	// ModeSession launches the capture tool in the target's desktop
	// session with a duplicated user token. Windows only.
	ModeSession = "session"
	// ModeDirect launches the capture tool as an ordinary child
	// process of the server.
	ModeDirect = "direct"
)

// Target selectors passed to the capture tool.
const (
	SelectByID   = "id"
	SelectByName = "name"
)

// Config is the server configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Pipe configures the client endpoint.
	Pipe PipeConfig `yaml:"pipe"`

	// Capture configures the capture tool and how it is launched.
	Capture CaptureConfig `yaml:"capture"`

	// Metrics configures the frame metrics engine and push queue.
	Metrics MetricsConfig `yaml:"metrics"`

	// State configures where the server records the running capture.
	State StateConfig `yaml:"state"`

	// Observability configures the Prometheus endpoint.
	Observability ObservabilityConfig `yaml:"observability"`

	// Per-environment overrides, applied after the base config is
	// loaded when Environment matches.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Only non-zero fields override.
type ConfigOverrides struct {
	Pipe          *PipeConfig          `yaml:"pipe,omitempty"`
	Capture       *CaptureConfig       `yaml:"capture,omitempty"`
	Metrics       *MetricsConfig       `yaml:"metrics,omitempty"`
	State         *StateConfig         `yaml:"state,omitempty"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty"`
}

// PipeConfig configures the named pipe.
type PipeConfig struct {
	// Name is the pipe path. On Windows: \\.\pipe\<name>. Elsewhere it
	// is mapped to a unix socket of the same base name.
	Name string `yaml:"name"`

	// SecurityDescriptor is the SDDL applied to the pipe. The default
	// grants SYSTEM and administrators full control and interactive
	// users read/write, so an unprivileged client in the user's
	// session can connect to a server running as LocalSystem.
	SecurityDescriptor string `yaml:"security_descriptor"`

	// AllowAllUsers opens the unix socket used off Windows to every
	// local user (mode 0666 instead of 0600), the counterpart of the
	// interactive-users grant above. Ignored on Windows.
	AllowAllUsers bool `yaml:"allow_all_users"`

	// WriteTimeout bounds every write to the client. A client that
	// stops reading is disconnected rather than stalling the server.
	WriteTimeout Duration `yaml:"write_timeout"`
}

// CaptureConfig configures the capture tool.
type CaptureConfig struct {
	// Executable is the capture tool. A bare name is resolved next to
	// the server binary, then on PATH.
	Executable string `yaml:"executable"`

	// Mode is one of ModeAuto, ModeSession, ModeDirect.
	Mode string `yaml:"mode"`

	// SelectBy chooses whether the tool is told the target's process
	// id or its process name: SelectByID or SelectByName.
	SelectBy string `yaml:"select_by"`

	// SessionName is the ETW session name passed to the tool, and used
	// by the terminate-existing invocation before every launch.
	SessionName string `yaml:"session_name"`

	// ExtraArgs are appended to every capture command line.
	ExtraArgs []string `yaml:"extra_args"`

	// KillGrace bounds the wait for the tool to exit after it is
	// killed during teardown.
	KillGrace Duration `yaml:"kill_grace"`

	// TerminateTimeout bounds the terminate-existing invocation.
	TerminateTimeout Duration `yaml:"terminate_timeout"`
}

// MetricsConfig configures the frame metrics engine.
type MetricsConfig struct {
	// WindowSize is the number of frame times kept for statistics.
	WindowSize int `yaml:"window_size"`

	// MinPercentileSamples holds the 1% and 0.1% lows at zero until
	// the window has at least this many samples. Zero reports them
	// from the first frame.
	MinPercentileSamples int `yaml:"min_percentile_samples"`

	// PushQueue is the number of metrics pushes buffered for a slow
	// client before the oldest are dropped.
	PushQueue int `yaml:"push_queue"`

	// Columns overrides the column name variants per metric. Empty
	// lists use the built-in variants.
	Columns ColumnsConfig `yaml:"columns"`
}

// ColumnsConfig lists capture CSV column names per metric, in
// preference order.
type ColumnsConfig struct {
	FrameTime      []string `yaml:"frame_time"`
	FPS            []string `yaml:"fps"`
	Dropped        []string `yaml:"dropped"`
	GPULatency     []string `yaml:"gpu_latency"`
	GPUTime        []string `yaml:"gpu_time"`
	GPUBusy        []string `yaml:"gpu_busy"`
	GPUWait        []string `yaml:"gpu_wait"`
	DisplayLatency []string `yaml:"display_latency"`
	CPUBusy        []string `yaml:"cpu_busy"`
	CPUWait        []string `yaml:"cpu_wait"`
}

// StateConfig configures on-disk server state.
type StateConfig struct {
	// Directory holds the active-capture record. Empty disables it.
	Directory string `yaml:"directory"`
}

// ObservabilityConfig configures the metrics endpoint.
type ObservabilityConfig struct {
	// ListenAddress serves Prometheus metrics at /metrics. Empty
	// disables the endpoint.
	ListenAddress string `yaml:"listen_address"`
}

// Duration is a time.Duration written as a Go duration string ("3s",
// "250ms") in config files.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultPipeName is the well-known pipe both sides use unless
// configured otherwise.
const DefaultPipeName = `\\.\pipe\framebridge`

// DefaultSecurityDescriptor grants full control to SYSTEM (SY) and
// built-in administrators (BA), and generic read/write to interactive
// users (IU).
const DefaultSecurityDescriptor = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GRGW;;;IU)"

// Default returns the built-in configuration. A file loaded with
// [LoadFile] is merged over it.
func Default() *Config {
	stateDirectory := "${HOME}/.cache/framebridge"
	if runtime.GOOS == "windows" {
		stateDirectory = `${ProgramData:-C:\ProgramData}\framebridge`
	}
	return &Config{
		Environment: Development,
		Pipe: PipeConfig{
			Name:               DefaultPipeName,
			SecurityDescriptor: DefaultSecurityDescriptor,
			WriteTimeout:       Duration(2 * time.Second),
		},
		Capture: CaptureConfig{
			Executable:       "PresentMon.exe",
			Mode:             ModeAuto,
			SelectBy:         SelectByID,
			SessionName:      "FrameBridge",
			KillGrace:        Duration(3 * time.Second),
			TerminateTimeout: Duration(5 * time.Second),
		},
		Metrics: MetricsConfig{
			WindowSize:           1000,
			MinPercentileSamples: 0,
			PushQueue:            64,
		},
		State: StateConfig{
			Directory: stateDirectory,
		},
	}
}

// Load loads configuration from the file named by FRAMEBRIDGE_CONFIG.
// When the variable is unset it returns ErrNoConfig; callers that can
// run on built-in defaults check for it with errors.Is.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, ErrNoConfig
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merged over Default. Files
// ending in .json or .jsonc may contain comments and trailing commas.
// The only expansion performed is ${VAR} and ${VAR:-default} in path
// fields; environment variables never override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// Resolve returns Default with variables expanded, for running without
// a config file.
func Resolve() *Config {
	cfg := Default()
	cfg.expandVariables()
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// YAML is a superset of JSON, so the stripped document goes
		// through the same decoder.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if pipe := overrides.Pipe; pipe != nil {
		setString(&c.Pipe.Name, pipe.Name)
		setString(&c.Pipe.SecurityDescriptor, pipe.SecurityDescriptor)
		if pipe.AllowAllUsers {
			c.Pipe.AllowAllUsers = true
		}
		setDuration(&c.Pipe.WriteTimeout, pipe.WriteTimeout)
	}

	if capture := overrides.Capture; capture != nil {
		setString(&c.Capture.Executable, capture.Executable)
		setString(&c.Capture.Mode, capture.Mode)
		setString(&c.Capture.SelectBy, capture.SelectBy)
		setString(&c.Capture.SessionName, capture.SessionName)
		if capture.ExtraArgs != nil {
			c.Capture.ExtraArgs = capture.ExtraArgs
		}
		setDuration(&c.Capture.KillGrace, capture.KillGrace)
		setDuration(&c.Capture.TerminateTimeout, capture.TerminateTimeout)
	}

	if metrics := overrides.Metrics; metrics != nil {
		setInt(&c.Metrics.WindowSize, metrics.WindowSize)
		setInt(&c.Metrics.MinPercentileSamples, metrics.MinPercentileSamples)
		setInt(&c.Metrics.PushQueue, metrics.PushQueue)
	}

	if state := overrides.State; state != nil {
		setString(&c.State.Directory, state.Directory)
	}

	// An empty listen address is meaningful (disabled), so the
	// override section replaces it outright when present.
	if observability := overrides.Observability; observability != nil {
		c.Observability.ListenAddress = observability.ListenAddress
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setDuration(target *Duration, value Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": homeDirectory(),
	}
	c.Capture.Executable = expandVars(c.Capture.Executable, vars)
	c.State.Directory = expandVars(c.State.Directory, vars)
}

func homeDirectory() string {
	home, _ := os.UserHomeDir()
	return home
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Pipe.Name == "" {
		errs = append(errs, errors.New("pipe.name is required"))
	}
	if c.Pipe.WriteTimeout <= 0 {
		errs = append(errs, errors.New("pipe.write_timeout must be positive"))
	}

	if c.Capture.Executable == "" {
		errs = append(errs, errors.New("capture.executable is required"))
	}
	modes := []string{ModeAuto, ModeSession, ModeDirect}
	if !contains(modes, c.Capture.Mode) {
		errs = append(errs, fmt.Errorf("capture.mode must be one of: %v", modes))
	}
	if c.Capture.Mode == ModeSession && runtime.GOOS != "windows" {
		errs = append(errs, fmt.Errorf("capture.mode %q requires windows", ModeSession))
	}
	if c.Environment == Production && c.Capture.Mode == ModeDirect {
		errs = append(errs, fmt.Errorf("capture.mode %q is not allowed in production", ModeDirect))
	}
	selectors := []string{SelectByID, SelectByName}
	if !contains(selectors, c.Capture.SelectBy) {
		errs = append(errs, fmt.Errorf("capture.select_by must be one of: %v", selectors))
	}
	if c.Capture.SessionName == "" || strings.ContainsAny(c.Capture.SessionName, " \t\"") {
		errs = append(errs, errors.New("capture.session_name is required and may not contain spaces or quotes"))
	}
	if c.Capture.KillGrace <= 0 {
		errs = append(errs, errors.New("capture.kill_grace must be positive"))
	}
	if c.Capture.TerminateTimeout < 0 {
		errs = append(errs, errors.New("capture.terminate_timeout may not be negative"))
	}

	if c.Metrics.WindowSize <= 0 {
		errs = append(errs, errors.New("metrics.window_size must be positive"))
	}
	if c.Metrics.MinPercentileSamples < 0 || c.Metrics.MinPercentileSamples > c.Metrics.WindowSize {
		errs = append(errs, errors.New("metrics.min_percentile_samples must be between 0 and metrics.window_size"))
	}
	if c.Metrics.PushQueue <= 0 {
		errs = append(errs, errors.New("metrics.push_queue must be positive"))
	}

	return errors.Join(errs...)
}

// UseSessionMode reports whether captures launch in the target's
// desktop session (true) or as direct children (false).
func (c *CaptureConfig) UseSessionMode() bool {
	switch c.Mode {
	case ModeSession:
		return true
	case ModeDirect:
		return false
	}
	return runtime.GOOS == "windows"
}

// ExecutablePath resolves Executable. An absolute path is returned as
// is if it exists. A bare name is looked up next to the running
// server binary first, then on PATH.
func (c *CaptureConfig) ExecutablePath() (string, error) {
	if filepath.IsAbs(c.Executable) {
		if _, err := os.Stat(c.Executable); err != nil {
			return "", fmt.Errorf("capture executable: %w", err)
		}
		return c.Executable, nil
	}

	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), c.Executable)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(c.Executable)
	if err != nil {
		return "", fmt.Errorf("%s not found next to the server or in PATH", c.Executable)
	}
	return path, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
