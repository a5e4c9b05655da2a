// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// captureArgs builds the capture tool's command line for target:
// CSV on stdout, one trace session named after the launcher, and
// automatic exit when the target exits.
func (l *Launcher) captureArgs(target Target) []string {
	var args []string
	if l.SelectByName && target.ProcessName != "" {
		args = append(args, "--process_name", target.ProcessName)
	} else {
		args = append(args, "--process_id", strconv.FormatUint(uint64(target.ProcessID), 10))
	}
	args = append(args,
		"--output_stdout",
		"--stop_existing_session",
		"--terminate_on_proc_exit",
		"--no_console_stats",
		"--v2_metrics",
		"--session_name", l.sessionName(),
	)
	return append(args, l.ExtraArgs...)
}

// terminateArgs builds the invocation that stops a trace session left
// behind by an earlier capture with the same name.
func terminateArgs(sessionName string) []string {
	return []string{"--terminate_existing_session", "--session_name", sessionName}
}

// terminateExisting runs the terminate-existing invocation and waits for
// it at most TerminateTimeout. Failure is logged: the launch proceeds
// and the capture tool's own --stop_existing_session is the fallback.
func (l *Launcher) terminateExisting(ctx context.Context) {
	if l.TerminateTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.TerminateTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, l.Executable, terminateArgs(l.sessionName())...)
	cmd.WaitDelay = time.Second
	hideWindow(cmd)
	output, err := cmd.CombinedOutput()
	if err != nil {
		l.logger().Warn("terminating existing capture session failed",
			"session_name", l.sessionName(),
			"error", err,
			"output", strings.TrimSpace(string(output)),
		)
		return
	}
	l.logger().Debug("terminated existing capture session",
		"session_name", l.sessionName(),
		"elapsed", time.Since(start),
	)
}
