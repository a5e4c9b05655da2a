// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frametime turns the CSV output of a frame-timing capture tool
// into rolling statistics: average frame time and FPS, 1% and 0.1% low
// FPS, GPU and CPU timing, display latency, and GPU utilization.
//
// The capture tool writes one CSV row per presented frame on stdout,
// preceded by a header row naming the columns. Column names differ
// between tool versions (msBetweenPresents in older builds, FrameTime in
// newer ones, and so on), so every metric is looked up through an
// ordered list of name variants in a [ColumnProfile]. A metric whose
// column is absent keeps its last known value rather than dropping to
// zero.
//
// [Engine] owns one capture session's state: the column map, a bounded
// [Window] of recent frame times, and the last known companion metrics.
// Each accepted row updates the window and produces an
// [ipc.MetricsPayload] that is passed to the configured sink in parse
// order. Header rows, blank lines, diagnostic lines, malformed rows,
// dropped frames, and rows without a plausible frame time never produce
// a payload and never touch the window.
//
// An Engine is not shared between sessions. [Engine.Reset] clears all
// state when a session ends.
package frametime
