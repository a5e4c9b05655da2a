// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Mode selects how the capture tool is started.
type Mode int

const (
	// ModeDirect starts the tool as an ordinary child of the server.
	ModeDirect Mode = iota
	// ModeSession starts the tool in the interactive desktop session
	// that owns the target process, under that session's user token.
	ModeSession
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeSession:
		return "session"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DefaultSessionName is the trace session name passed to the capture
// tool when Launcher.SessionName is empty.
const DefaultSessionName = "FrameBridge"

// DefaultKillGrace bounds how long Session.Stop waits for the killed
// subprocess to exit when the caller passes a non-positive grace.
const DefaultKillGrace = 3 * time.Second

// AccessDeniedExitCode is the capture tool's exit status when it could
// not open an ETW trace session for lack of privileges.
const AccessDeniedExitCode = 6

// ErrCaptureAccessDenied is returned by Session.Err when the capture
// tool exited with AccessDeniedExitCode.
var ErrCaptureAccessDenied = errors.New("capture tool exited with code 6 (access denied)")

// ExitError reports a capture tool exit with a non-zero status other
// than AccessDeniedExitCode.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("capture tool exited with code %d", e.Code)
}

// Cause classifies why a launch failed.
type Cause int

const (
	CauseLaunchFailed Cause = iota + 1
	CauseExecutableNotFound
	CausePermissionDenied
	CauseNoSession
)

// String returns the human-readable reason sent to the client.
func (c Cause) String() string {
	switch c {
	case CauseExecutableNotFound:
		return "executable not found"
	case CauseLaunchFailed:
		return "launch failed"
	case CausePermissionDenied:
		return "permission denied"
	case CauseNoSession:
		return "no interactive session"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// LaunchError is the error returned by Launch. Message adds detail to
// the cause; Err is the underlying system error, if any.
type LaunchError struct {
	Cause   Cause
	Message string
	Err     error
}

func (e *LaunchError) Error() string {
	text := e.Cause.String()
	if e.Message != "" {
		text += ": " + e.Message
	}
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	return text
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Target identifies the process whose frames are captured.
type Target struct {
	ProcessID   uint32
	ProcessName string
}

// Launcher starts capture sessions. The zero value is not usable:
// Executable must be set.
type Launcher struct {
	// Executable is the path of the capture tool.
	Executable string

	Mode Mode

	// SelectByName passes --process_name instead of --process_id.
	SelectByName bool

	// SessionName is the ETW trace session name. Empty means
	// DefaultSessionName.
	SessionName string

	// ExtraArgs are appended to the capture command line.
	ExtraArgs []string

	// TerminateTimeout bounds the terminate-existing invocation run
	// before every launch. Zero skips it.
	TerminateTimeout time.Duration

	Logger *slog.Logger
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Launcher) sessionName() string {
	if l.SessionName != "" {
		return l.SessionName
	}
	return DefaultSessionName
}

// Launch starts the capture tool for target. The returned session is
// running; the caller owns it and must Stop it. ctx bounds the launch
// itself, not the session's lifetime.
func (l *Launcher) Launch(ctx context.Context, target Target) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "launch cancelled", Err: err}
	}
	if target.ProcessID == 0 && !(l.SelectByName && target.ProcessName != "") {
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "no target process"}
	}
	if err := l.checkExecutable(); err != nil {
		return nil, err
	}

	l.terminateExisting(ctx)

	args := l.captureArgs(target)
	logger := l.logger().With("process_id", target.ProcessID, "process_name", target.ProcessName)
	logger.Info("launching capture tool", "mode", l.Mode.String(), "executable", l.Executable)

	var (
		session *Session
		err     error
	)
	switch l.Mode {
	case ModeSession:
		session, err = l.launchInSession(target, args)
	default:
		session, err = l.launchDirect(target, args)
	}
	if err != nil {
		logger.Error("capture launch failed", "error", err)
		return nil, err
	}
	logger.Info("capture tool started", "pid", session.PID(), "session_id", session.SessionID())
	return session, nil
}

func (l *Launcher) checkExecutable() error {
	if l.Executable == "" {
		return &LaunchError{Cause: CauseExecutableNotFound, Message: "no capture executable configured"}
	}
	info, err := os.Stat(l.Executable)
	if err != nil {
		return classifyStartError(err)
	}
	if info.IsDir() {
		return &LaunchError{Cause: CauseExecutableNotFound, Message: l.Executable + " is a directory"}
	}
	return nil
}

// classifyStartError maps a process-creation error to a LaunchError.
func classifyStartError(err error) *LaunchError {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return &LaunchError{Cause: CauseExecutableNotFound, Err: err}
	case errors.Is(err, fs.ErrPermission), isPrivilegeError(err):
		return &LaunchError{Cause: CausePermissionDenied, Err: err}
	default:
		return &LaunchError{Cause: CauseLaunchFailed, Err: err}
	}
}
