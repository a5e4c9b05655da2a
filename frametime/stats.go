// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frametime

import "sort"

// Percentile-low ranks expressed in parts per thousand, so the rank
// arithmetic stays in integers: 1% is 10‰, 0.1% is 1‰.
const (
	onePercentPerMille      = 10
	pointOnePercentPerMille = 1
)

// Summary is the window-derived part of a metrics snapshot.
type Summary struct {
	Samples               int
	AverageFrameTimeMs    float64
	FPS                   float64
	OnePercentLowFPS      float64
	PointOnePercentLowFPS float64
}

// Summarize computes average and percentile-low statistics over frame
// times. Percentile lows are reported only when len(frameTimes) is at
// least minPercentileSamples; below that they are zero.
func Summarize(frameTimes []float64, minPercentileSamples int) Summary {
	summary := Summary{Samples: len(frameTimes)}
	if len(frameTimes) == 0 {
		return summary
	}

	var sum float64
	for _, frameTime := range frameTimes {
		sum += frameTime
	}
	summary.AverageFrameTimeMs = sum / float64(len(frameTimes))
	summary.FPS = FPSFromFrameTime(summary.AverageFrameTimeMs)

	if len(frameTimes) < minPercentileSamples {
		return summary
	}

	// Worst frames first.
	sorted := make([]float64, len(frameTimes))
	copy(sorted, frameTimes)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	summary.OnePercentLowFPS = FPSFromFrameTime(sorted[worstRank(len(sorted), onePercentPerMille)])
	summary.PointOnePercentLowFPS = FPSFromFrameTime(sorted[worstRank(len(sorted), pointOnePercentPerMille)])
	return summary
}

// worstRank returns the index into a descending-sorted slice of n
// values that marks the boundary of the worst perMille/1000 fraction:
// max(0, ceil(n·p) − 1).
func worstRank(n, perMille int) int {
	rank := (n*perMille+999)/1000 - 1
	if rank < 0 {
		return 0
	}
	if rank >= n {
		return n - 1
	}
	return rank
}

// FPSFromFrameTime converts a frame time in milliseconds to frames per
// second. Non-positive frame times yield 0.
func FPSFromFrameTime(frameTimeMs float64) float64 {
	if frameTimeMs <= 0 {
		return 0
	}
	return 1000 / frameTimeMs
}

// gpuUtilization is the share of the frame the GPU spent busy, as a
// percentage clamped to [0, 100].
func gpuUtilization(gpuBusyMs, frameTimeMs float64) float64 {
	if frameTimeMs <= 0 {
		return 0
	}
	utilization := gpuBusyMs / frameTimeMs * 100
	switch {
	case utilization < 0:
		return 0
	case utilization > 100:
		return 100
	}
	return utilization
}
