// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/framebridge/frametime"
	"github.com/bureau-foundation/framebridge/launcher"
	"github.com/bureau-foundation/framebridge/lib/ipc"
	"github.com/bureau-foundation/framebridge/lib/procinfo"
	"github.com/bureau-foundation/framebridge/lib/statefile"
)

// drainTimeout bounds how long the session watcher waits for the
// stdout consumer to read what a self-exited capture tool wrote before
// tearing the session down.
const drainTimeout = time.Second

// activeSession is one running capture and the goroutines serving it.
type activeSession struct {
	capture Capture
	target  launcher.Target
	engine  *frametime.Engine
	queue   *PushQueue
	logger  *slog.Logger
	started time.Time

	cancel context.CancelFunc

	// workers tracks the stdout consumer, stderr logger, and sender.
	// The watcher is not included: it may itself tear the session down.
	workers  sync.WaitGroup
	consumed chan struct{}
}

// startMonitoring validates a start request, stops any running session,
// and launches a new one. The returned error's text is sent to the
// client.
func (s *Server) startMonitoring(ctx context.Context, payload ipc.StartPayload, logger *slog.Logger) error {
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	s.stopSessionLocked("replaced by a new start request")

	target, err := s.resolveTarget(ctx, payload, logger)
	if err != nil {
		s.Metrics.SessionsFailed.WithLabelValues("target_not_running").Inc()
		return err
	}

	capture, err := s.Launcher.Launch(ctx, target)
	if err != nil {
		var launchErr *launcher.LaunchError
		if !errors.As(err, &launchErr) {
			launchErr = &launcher.LaunchError{Cause: launcher.CauseLaunchFailed, Err: err}
		}
		s.Metrics.SessionsFailed.WithLabelValues(causeLabel(launchErr.Cause)).Inc()
		logger.Error("capture launch failed", "process_id", target.ProcessID, "error", launchErr)
		return launchErr
	}

	s.beginSession(capture, target)
	return nil
}

// resolveTarget confirms the requested process is running. A name that
// disagrees with the running image is logged and the request's name is
// kept: the client's view of the process is authoritative for display.
// Lookup failures other than "not running" do not block the launch.
func (s *Server) resolveTarget(ctx context.Context, payload ipc.StartPayload, logger *slog.Logger) (launcher.Target, error) {
	target := launcher.Target{ProcessID: payload.ProcessID, ProcessName: payload.ProcessName}
	process, err := s.lookupProcess(ctx, payload.ProcessID)
	switch {
	case errors.Is(err, procinfo.ErrNotFound):
		return target, fmt.Errorf("%s: process %d is not running", launcher.CauseLaunchFailed, payload.ProcessID)
	case err != nil:
		logger.Warn("could not inspect target process", "process_id", payload.ProcessID, "error", err)
	case process.Name != "" && !procinfo.SameImage(process.Name, payload.ProcessName):
		logger.Warn("target process name differs from request",
			"process_id", payload.ProcessID,
			"requested_name", payload.ProcessName,
			"running_name", process.Name,
		)
	}
	return target, nil
}

// beginSession wires a launched capture to a fresh engine, push queue,
// and worker goroutines. The caller holds sessionMu.
func (s *Server) beginSession(capture Capture, target launcher.Target) {
	logger := s.logger().With(
		"process_id", target.ProcessID,
		"process_name", target.ProcessName,
		"capture_pid", capture.PID(),
	)
	ctx, cancel := context.WithCancel(context.Background())

	queue := NewPushQueue(s.pushQueue())
	active := &activeSession{
		capture:  capture,
		target:   target,
		queue:    queue,
		logger:   logger,
		started:  s.clock().Now(),
		cancel:   cancel,
		consumed: make(chan struct{}),
	}
	active.engine = frametime.NewEngine(frametime.Options{
		Profile:              s.Profile,
		WindowSize:           s.WindowSize,
		MinPercentileSamples: s.MinPercentileSamples,
		Logger:               logger,
		Sink: func(payload ipc.MetricsPayload) {
			s.framesAccepted.Add(1)
			s.Metrics.FramesAccepted.Inc()
			if queue.Push(payload) {
				s.pushesDropped.Add(1)
				s.Metrics.PushesDropped.Inc()
			}
		},
	})

	s.session = active
	s.activeEngine.Store(active.engine)
	s.activePID.Store(capture.PID())
	s.activeTarget.Store(target.ProcessID)
	s.sessionsStarted.Add(1)
	s.Metrics.SessionsStarted.Inc()
	s.Metrics.ActiveSession.Set(1)
	s.writeState(capture, target, active.started)

	active.workers.Add(3)
	go func() {
		defer active.workers.Done()
		defer close(active.consumed)
		if err := active.engine.Consume(ctx, capture.Stdout()); err != nil {
			logger.Warn("capture output ended with error", "error", err)
		}
	}()
	go func() {
		defer active.workers.Done()
		if err := frametime.LogStream(ctx, capture.Stderr(), logger); err != nil {
			logger.Debug("capture diagnostics ended with error", "error", err)
		}
	}()
	go func() {
		defer active.workers.Done()
		s.sendLoop(ctx, active)
	}()
	go s.watchSession(ctx, active)

	logger.Info("capture session started", "session_id", capture.SessionID())
}

// sendLoop drains the push queue to the client in parse order. Pushes
// made while no client is connected are discarded.
func (s *Server) sendLoop(ctx context.Context, active *activeSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-active.queue.Notify():
		}
		for {
			payload, ok := active.queue.Pop()
			if !ok {
				break
			}
			if err := s.send(ipc.MetricsPush{Metrics: payload}); err != nil {
				active.logger.Debug("metrics push not delivered", "error", err)
			}
		}
	}
}

// watchSession tears the session down when the capture subprocess
// exits on its own and tells the client why.
func (s *Server) watchSession(ctx context.Context, active *activeSession) {
	select {
	case <-ctx.Done():
		return
	case <-active.capture.Done():
	}
	if ctx.Err() != nil {
		return
	}

	select {
	case <-active.consumed:
	case <-s.clock().After(drainTimeout):
	}

	exitErr := active.capture.Err()

	s.sessionMu.Lock()
	if s.session != active {
		s.sessionMu.Unlock()
		return
	}
	s.stopSessionLocked("capture process exited")
	s.sessionMu.Unlock()

	code := active.capture.ExitCode()
	var message string
	switch {
	case errors.Is(exitErr, launcher.ErrCaptureAccessDenied):
		s.Metrics.CaptureExits.WithLabelValues("access_denied").Inc()
		message = fmt.Sprintf("%s: %v", launcher.CausePermissionDenied, exitErr)
		active.logger.Error("capture tool was denied access to the trace session", "exit_code", code)
	case exitErr != nil:
		s.Metrics.CaptureExits.WithLabelValues("error").Inc()
		message = fmt.Sprintf("capture failed: %v", exitErr)
		active.logger.Error("capture tool failed", "exit_code", code, "error", exitErr)
	default:
		s.Metrics.CaptureExits.WithLabelValues("clean").Inc()
		active.logger.Info("capture tool exited", "exit_code", code)
	}
	if message == "" {
		return
	}
	if err := s.send(ipc.ErrorReply{Message: message}); err != nil {
		active.logger.Debug("capture failure not delivered", "error", err)
	}
}

// waitWorkers waits for the session's reader and sender goroutines.
// Readers blocked on a capture process that survived Stop are
// abandoned after the kill grace plus drainTimeout.
func (s *Server) waitWorkers(active *activeSession) {
	finished := make(chan struct{})
	go func() {
		active.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-s.clock().After(s.killGrace() + drainTimeout):
		active.logger.Warn("capture readers still blocked after stop, abandoning them")
	}
}

// stopSession stops the running session, if any.
func (s *Server) stopSession(reason string) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.stopSessionLocked(reason)
}

// stopSessionLocked kills the capture subprocess, waits for every
// worker to finish, and records the session's totals. The caller holds
// sessionMu. Idempotent: with no session it does nothing.
func (s *Server) stopSessionLocked(reason string) {
	active := s.session
	if active == nil {
		return
	}
	s.session = nil

	active.cancel()
	active.capture.Stop(s.KillGrace)
	s.waitWorkers(active)

	counters := active.engine.Counters()
	s.activeEngine.Store(nil)
	active.engine.Reset()
	s.activePID.Store(0)
	s.activeTarget.Store(0)
	s.framesRejected.Add(rejected(counters))
	s.Metrics.ActiveSession.Set(0)
	s.Metrics.FramesRejected.WithLabelValues("malformed").Add(float64(counters.Malformed))
	s.Metrics.FramesRejected.WithLabelValues("dropped").Add(float64(counters.Dropped))
	s.Metrics.FramesRejected.WithLabelValues("no_frame_time").Add(float64(counters.NoFrameTime))
	s.clearState()

	active.logger.Info("capture session stopped",
		"reason", reason,
		"duration", s.clock().Now().Sub(active.started).Round(time.Millisecond),
		"frames_accepted", counters.Accepted,
		"frames_rejected", rejected(counters),
		"pushes_dropped", active.queue.Dropped(),
	)
}

func rejected(counters frametime.Counters) uint64 {
	return counters.Malformed + counters.Dropped + counters.NoFrameTime
}

// causeLabel turns a launch cause into a metric label value.
func causeLabel(cause launcher.Cause) string {
	return strings.ReplaceAll(cause.String(), " ", "_")
}

func (s *Server) writeState(capture Capture, target launcher.Target, started time.Time) {
	if s.StateFile == "" {
		return
	}
	record := statefile.Capture{
		ProcessID:       capture.PID(),
		Executable:      s.CaptureExecutable,
		SessionID:       capture.SessionID(),
		TargetProcessID: target.ProcessID,
		TargetName:      target.ProcessName,
		StartedAt:       started,
	}
	if err := statefile.Write(s.StateFile, record); err != nil {
		s.logger().Warn("recording active capture failed", "path", s.StateFile, "error", err)
	}
}

func (s *Server) clearState() {
	if s.StateFile == "" {
		return
	}
	if err := statefile.Clear(s.StateFile); err != nil {
		s.logger().Warn("clearing active capture record failed", "path", s.StateFile, "error", err)
	}
}
