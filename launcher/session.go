// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// process is the platform's handle on a started capture subprocess.
type process interface {
	// kill terminates the process. Calling it after wait has returned
	// is harmless.
	kill() error

	// wait blocks until the process exits and returns its exit code.
	// A non-nil error means the exit code could not be determined.
	wait() (int, error)
}

// Session is a running capture subprocess and the read ends of its
// stdout and stderr pipes.
type Session struct {
	pid       uint32
	sessionID uint32
	target    Target
	stdout    *os.File
	stderr    *os.File
	process   process
	logger    *slog.Logger

	done     chan struct{}
	exitCode atomic.Int64
	waitErr  error
	stopped  atomic.Bool
	stopOnce sync.Once
}

func newSession(pid, sessionID uint32, target Target, proc process, stdout, stderr *os.File, logger *slog.Logger) *Session {
	session := &Session{
		pid:       pid,
		sessionID: sessionID,
		target:    target,
		stdout:    stdout,
		stderr:    stderr,
		process:   proc,
		logger:    logger.With("pid", pid, "process_id", target.ProcessID),
		done:      make(chan struct{}),
	}
	session.exitCode.Store(-1)
	go session.reap()
	return session
}

// reap waits for the subprocess, records its exit status, and closes
// done.
func (s *Session) reap() {
	code, err := s.process.wait()
	s.waitErr = err
	s.exitCode.Store(int64(code))
	close(s.done)
	s.logger.Info("capture process exited",
		"exit_code", code,
		"stopped", s.stopped.Load(),
		"error", err,
	)
}

// PID returns the capture subprocess's process id.
func (s *Session) PID() uint32 { return s.pid }

// SessionID returns the desktop session the subprocess runs in. Direct
// launches report the server's own session.
func (s *Session) SessionID() uint32 { return s.sessionID }

// Target returns the process being captured.
func (s *Session) Target() Target { return s.target }

// Stdout returns the read end of the subprocess's stdout pipe.
func (s *Session) Stdout() *os.File { return s.stdout }

// Stderr returns the read end of the subprocess's stderr pipe.
func (s *Session) Stderr() *os.File { return s.stderr }

// Done is closed when the subprocess has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitCode returns the subprocess's exit code, or -1 while it is still
// running or when the code could not be determined.
func (s *Session) ExitCode() int { return int(s.exitCode.Load()) }

// Err classifies how the subprocess exited. It returns nil while the
// subprocess is running, after a clean exit, and after any exit caused
// by Stop. Exit code 6 is ErrCaptureAccessDenied; other non-zero codes
// are *ExitError.
func (s *Session) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	if s.stopped.Load() {
		return nil
	}
	code := s.ExitCode()
	switch {
	case s.waitErr != nil:
		return fmt.Errorf("waiting for capture process: %w", s.waitErr)
	case code == 0:
		return nil
	case code == AccessDeniedExitCode:
		return ErrCaptureAccessDenied
	default:
		return &ExitError{Code: code}
	}
}

// Stop kills the subprocess, waits up to grace for it to exit, and
// closes both read ends. A non-positive grace means DefaultKillGrace.
// Only the first call has any effect; later calls return immediately.
//
// If the subprocess is still alive when grace expires, the read ends
// are closed in the background and Stop returns: closing a synchronous
// pipe handle waits for any in-flight read, which cannot finish while
// the writer lives.
func (s *Session) Stop(grace time.Duration) {
	s.stopOnce.Do(func() {
		select {
		case <-s.done:
		default:
			s.stopped.Store(true)
			if err := s.process.kill(); err != nil {
				s.logger.Debug("killing capture process", "error", err)
			}
		}

		if grace <= 0 {
			grace = DefaultKillGrace
		}
		timer := time.NewTimer(grace) //nolint:realclock bounds a wait on a real subprocess
		defer timer.Stop()
		select {
		case <-s.done:
			s.closeReaders()
		case <-timer.C:
			s.logger.Warn("capture process did not exit within grace period", "grace", grace)
			go s.closeReaders()
		}
	})
}

func (s *Session) closeReaders() {
	s.stdout.Close()
	s.stderr.Close()
}
