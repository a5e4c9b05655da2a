// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package launcher

import "os/exec"

func hideWindow(cmd *exec.Cmd) {}

// currentSessionID reports 0: desktop sessions are a Windows concept.
func currentSessionID() uint32 { return 0 }

func isPrivilegeError(err error) bool { return false }

// launchInSession is unavailable off Windows; configuration validation
// rejects session mode there, so reaching this is a wiring error.
func (l *Launcher) launchInSession(target Target, args []string) (*Session, error) {
	return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "session mode requires windows"}
}
