// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"os"
	"time"

	"github.com/bureau-foundation/framebridge/launcher"
)

// Capture is a running capture subprocess as the server sees it.
// *launcher.Session implements it.
type Capture interface {
	PID() uint32
	SessionID() uint32
	Stdout() *os.File
	Stderr() *os.File
	Done() <-chan struct{}
	ExitCode() int
	Err() error
	Stop(grace time.Duration)
}

// Launcher starts captures. Errors should be *launcher.LaunchError so
// the client receives a classified reason.
type Launcher interface {
	Launch(ctx context.Context, target launcher.Target) (Capture, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, target launcher.Target) (Capture, error)

func (f LauncherFunc) Launch(ctx context.Context, target launcher.Target) (Capture, error) {
	return f(ctx, target)
}

// SessionLauncher adapts a *launcher.Launcher to the Launcher
// interface.
func SessionLauncher(l *launcher.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context, target launcher.Target) (Capture, error) {
		session, err := l.Launch(ctx, target)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}
