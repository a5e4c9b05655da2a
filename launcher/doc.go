// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher starts the frame-timing capture tool for a target
// process and manages the resulting subprocess.
//
// A [Launcher] holds the capture configuration (executable, selection
// mode, session name, extra arguments). [Launcher.Launch] first runs
// the tool's terminate-existing invocation so a stale trace session from
// a previous run cannot block the new one, then starts the tool in one
// of two modes:
//
//   - [ModeSession] (Windows only): the server runs as LocalSystem in
//     session 0, which has no access to the user's desktop. The launcher
//     resolves the desktop session that owns the target process,
//     duplicates that session's user token into a primary token, and
//     calls CreateProcessAsUser with the user's environment block and
//     anonymous pipes for stdout and stderr. Every transient handle
//     (user token, primary token, environment block, child pipe ends,
//     thread handle) is closed before Launch returns.
//   - [ModeDirect] (all platforms): an ordinary child process via
//     os/exec. This is the only mode off Windows and the one tests use.
//
// The returned [Session] owns the subprocess and the read ends of its
// output pipes. [Session.Stop] is idempotent: it kills the subprocess,
// waits a bounded grace period for it to exit, then closes the read ends
// whether or not the subprocess was reaped. A background goroutine reaps
// the subprocess and closes [Session.Done]; [Session.Err] classifies how
// it exited, reporting exit code 6 as [ErrCaptureAccessDenied].
//
// Launch failures are *[LaunchError] values whose [Cause] maps to the
// human-readable reason the bridge sends to its client.
package launcher
