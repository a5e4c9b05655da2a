// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package pipe

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen creates the named pipe server. Each Accept returns one client
// connection; winio creates the next pipe instance only when Accept is
// called again, so a second client waits in the pipe's busy state
// until the server is ready for it.
func Listen(name string, options ListenOptions) (net.Listener, error) {
	name = NormalizeName(name)
	listener, err := winio.ListenPipe(name, &winio.PipeConfig{
		SecurityDescriptor: options.SecurityDescriptor,
		MessageMode:        false,
		InputBufferSize:    options.bufferSize(),
		OutputBufferSize:   options.bufferSize(),
	})
	if err != nil {
		return nil, fmt.Errorf("listening on pipe %s: %w", name, err)
	}
	return listener, nil
}

// Dial connects to the named pipe, retrying while every instance is
// busy, until ctx is done.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	name = NormalizeName(name)
	conn, err := winio.DialPipeContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("connecting to pipe %s: %w", name, err)
	}
	return conn, nil
}
