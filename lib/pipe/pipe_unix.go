// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package pipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
)

// Listen creates a unix socket at SocketPath(name). A stale socket
// file left by a crashed server is removed first. The socket file is
// removed again when the listener is closed.
func Listen(name string, options ListenOptions) (net.Listener, error) {
	path := SocketPath(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	mode := os.FileMode(0o600)
	if options.AllowAll {
		mode = 0o666
	}
	if err := os.Chmod(path, mode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	// net.UnixListener unlinks the socket file on Close by default.
	return listener, nil
}

// Dial connects to the unix socket standing in for the named pipe.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	path := SocketPath(name)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	return conn, nil
}
