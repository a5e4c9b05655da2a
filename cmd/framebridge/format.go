// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/framebridge/bridgeclient"
)

// formatTelemetry renders one push as a single log line.
func formatTelemetry(telemetry bridgeclient.Telemetry) string {
	return fmt.Sprintf("%s fps=%.1f frame_ms=%.2f low1=%.1f low01=%.1f gpu_ms=%.2f gpu_busy_ms=%.2f gpu_util=%.0f%% latency_ms=%.2f cpu_busy_ms=%.2f",
		telemetry.ReceivedAt.Format(time.TimeOnly),
		telemetry.FPS,
		telemetry.AverageFrameTimeMs,
		telemetry.OnePercentLowFPS,
		telemetry.PointOnePercentLowFPS,
		telemetry.GPUTimeMs,
		telemetry.GPUBusyMs,
		telemetry.GPUUtilization,
		telemetry.DisplayLatencyMs,
		telemetry.CPUBusyMs,
	)
}
