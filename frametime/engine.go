// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frametime

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/framebridge/lib/ipc"
)

// maxFrameTimeMs is the exclusive upper bound of a plausible frame
// time. Anything at or above one second is a stall or a clock glitch,
// not a frame.
const maxFrameTimeMs = 1000

// Options configures an Engine. The zero value is usable: it selects
// DefaultProfile, DefaultWindowSize, always-on percentile lows, no
// sink, and slog.Default().
type Options struct {
	// Profile lists the column name variants per metric. Empty lists
	// fall back to DefaultProfile.
	Profile ColumnProfile

	// WindowSize is the rolling window capacity. Zero selects
	// DefaultWindowSize.
	WindowSize int

	// MinPercentileSamples suppresses the 1% and 0.1% low FPS (reported
	// as 0) until the window holds at least this many samples.
	MinPercentileSamples int

	// Sink receives every snapshot produced by an accepted row, in
	// parse order. It is called without the engine's lock held and
	// must not block for long: the capture tool's stdout is not read
	// while the sink runs.
	Sink func(ipc.MetricsPayload)

	// Logger receives diagnostics. Rejected-row messages are rate
	// limited. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Counters tallies what the engine did with each line.
type Counters struct {
	Accepted    uint64
	Headers     uint64
	Skipped     uint64
	Malformed   uint64
	Dropped     uint64
	NoFrameTime uint64
}

// Engine parses capture-tool lines for one session. All methods are
// safe for concurrent use, though lines are expected from a single
// reader goroutine.
type Engine struct {
	profile              ColumnProfile
	minPercentileSamples int
	sink                 func(ipc.MetricsPayload)
	logger               *slog.Logger

	// rejectLog throttles per-row diagnostics so a schema mismatch
	// does not produce a log line per frame.
	rejectLog rate.Sometimes

	mu       sync.Mutex
	window   *Window
	columns  *columnMap
	latest   ipc.MetricsPayload
	counters Counters
}

// NewEngine creates an engine with an empty window and no column map.
func NewEngine(options Options) *Engine {
	windowSize := options.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		profile:              options.Profile.WithDefaults(),
		minPercentileSamples: options.MinPercentileSamples,
		sink:                 options.Sink,
		logger:               logger,
		rejectLog:            rate.Sometimes{First: 5, Interval: 10 * time.Second},
		window:               NewWindow(windowSize),
	}
}

// ProcessLine parses one line of capture output. It returns the new
// snapshot and true when the line was an accepted data row; header
// rows, skipped lines, and rejected rows return false. On acceptance
// the sink (if any) is also invoked with the snapshot.
func (e *Engine) ProcessLine(line string) (ipc.MetricsPayload, bool) {
	payload, accepted := e.processLine(line)
	if accepted && e.sink != nil {
		e.sink(payload)
	}
	return payload, accepted
}

func (e *Engine) processLine(line string) (ipc.MetricsPayload, bool) {
	line = strings.TrimRight(line, "\r\n")

	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.TrimSpace(line) == "" {
		e.counters.Skipped++
		return ipc.MetricsPayload{}, false
	}
	if isDiagnostic(line) {
		e.counters.Skipped++
		e.logger.Debug("capture tool diagnostic", "line", line)
		return ipc.MetricsPayload{}, false
	}

	fields, err := splitFields(line)
	if err != nil {
		e.counters.Malformed++
		e.reject("unparsable CSV row", "error", err)
		return ipc.MetricsPayload{}, false
	}

	if e.columns == nil || strings.TrimSpace(fields[0]) == HeaderSentinel {
		e.columns = newColumnMap(fields)
		e.counters.Headers++
		e.logger.Debug("capture header parsed", "columns", len(fields))
		return ipc.MetricsPayload{}, false
	}

	if len(fields) <= e.columns.maxIndex {
		e.counters.Malformed++
		e.reject("short capture row", "fields", len(fields), "required", e.columns.maxIndex+1)
		return ipc.MetricsPayload{}, false
	}

	if e.columns.anyFlagSet(fields, e.profile.Dropped) {
		e.counters.Dropped++
		return ipc.MetricsPayload{}, false
	}

	frameTime, ok := e.frameTime(fields)
	if !ok {
		e.counters.NoFrameTime++
		e.reject("capture row without plausible frame time")
		return ipc.MetricsPayload{}, false
	}

	e.window.Push(frameTime)
	summary := Summarize(e.window.Values(), e.minPercentileSamples)

	next := e.latest
	next.AverageFrameTimeMs = summary.AverageFrameTimeMs
	next.FPS = summary.FPS
	next.OnePercentLowFPS = summary.OnePercentLowFPS
	next.PointOnePercentLowFPS = summary.PointOnePercentLowFPS

	// Companion metrics keep their previous value when the column is
	// missing or "NA" in this row.
	if value, ok := e.columns.number(fields, e.profile.GPULatency); ok {
		next.GPULatencyMs = value
	}
	if value, ok := e.columns.number(fields, e.profile.GPUTime); ok {
		next.GPUTimeMs = value
	}
	if value, ok := e.columns.number(fields, e.profile.GPUBusy); ok {
		next.GPUBusyMs = value
		next.GPUUtilization = gpuUtilization(value, frameTime)
	}
	if value, ok := e.columns.number(fields, e.profile.GPUWait); ok {
		next.GPUWaitMs = value
	}
	if value, ok := e.columns.number(fields, e.profile.DisplayLatency); ok {
		next.DisplayLatencyMs = value
	}
	if value, ok := e.columns.number(fields, e.profile.CPUBusy); ok {
		next.CPUBusyMs = value
	}
	if value, ok := e.columns.number(fields, e.profile.CPUWait); ok {
		next.CPUWaitMs = value
	}

	e.latest = next
	e.counters.Accepted++
	return next, true
}

// frameTime tries each frame-time column in order, then each FPS
// column, and returns the first value inside (0, maxFrameTimeMs).
func (e *Engine) frameTime(fields []string) (float64, bool) {
	for _, name := range e.profile.FrameTime {
		if value, ok := e.columns.number(fields, []string{name}); ok && plausible(value) {
			return value, true
		}
	}
	for _, name := range e.profile.FPS {
		fps, ok := e.columns.number(fields, []string{name})
		if !ok || fps <= 0 {
			continue
		}
		if value := 1000 / fps; plausible(value) {
			return value, true
		}
	}
	return 0, false
}

// rejectOversized counts a line the reader discarded for exceeding
// the line limit.
func (e *Engine) rejectOversized(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.Malformed++
	e.reject("oversized capture row", "error", err)
}

// reject logs a dropped row through the rate limiter. Must be called
// with e.mu held.
func (e *Engine) reject(message string, args ...any) {
	e.rejectLog.Do(func() {
		e.logger.Warn(message, args...)
	})
}

// Latest returns the most recent snapshot (all zero before the first
// accepted row).
func (e *Engine) Latest() ipc.MetricsPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Counters returns a copy of the line tallies.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Samples returns a copy of the rolling window, oldest first.
func (e *Engine) Samples() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.Values()
}

// Reset discards the column map, the window, and the last known
// metrics. Counters are kept for the session summary log.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.columns = nil
	e.window.Reset()
	e.latest = ipc.MetricsPayload{}
}

func plausible(frameTimeMs float64) bool {
	return frameTimeMs > 0 && frameTimeMs < maxFrameTimeMs
}

// isDiagnostic reports whether a line is a warning or error message
// printed by the capture tool rather than CSV data.
func isDiagnostic(line string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(trimmed, "warning") || strings.HasPrefix(trimmed, "error")
}
