// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/bureau-foundation/framebridge/lib/procinfo"
	"github.com/bureau-foundation/framebridge/lib/statefile"
)

// recoverOrphan handles a state file left by an instance that exited
// without stopping its capture. The recorded pid is terminated only if
// it still runs the capture executable: pids are reused, and killing
// an unrelated process would be worse than leaking a capture. The
// record is cleared either way. Records older than OrphanMaxAge are
// cleared without inspecting the pid.
func (s *Server) recoverOrphan(ctx context.Context) {
	if s.StateFile == "" {
		return
	}
	logger := s.logger().With("path", s.StateFile)

	record, recent, err := statefile.Check(s.StateFile, s.orphanMaxAge())
	if err != nil {
		logger.Warn("discarding unreadable capture record", "error", err)
		s.clearState()
		return
	}
	defer s.clearState()
	if !recent {
		return
	}

	logger = logger.With(
		"capture_pid", record.ProcessID,
		"process_id", record.TargetProcessID,
		"started_at", record.StartedAt,
	)
	process, err := s.lookupProcess(ctx, record.ProcessID)
	if errors.Is(err, procinfo.ErrNotFound) {
		logger.Info("previous capture already exited")
		return
	}
	if err != nil {
		logger.Warn("could not inspect previous capture", "error", err)
		return
	}
	executable := record.Executable
	if executable == "" {
		executable = s.CaptureExecutable
	}
	if !process.IsExecutable(executable) {
		logger.Info("recorded pid now belongs to another program; leaving it alone",
			"running", process.Name)
		return
	}
	if err := procinfo.Kill(ctx, record.ProcessID); err != nil {
		logger.Error("terminating orphaned capture failed", "error", err)
		return
	}
	logger.Warn("terminated capture orphaned by a previous server instance")
}

// DefaultOrphanMaxAge is OrphanMaxAge when unset.
const DefaultOrphanMaxAge = 7 * 24 * time.Hour

func (s *Server) orphanMaxAge() time.Duration {
	if s.OrphanMaxAge > 0 {
		return s.OrphanMaxAge
	}
	return DefaultOrphanMaxAge
}
