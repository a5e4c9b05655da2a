// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"os"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, a closed connection or file, or one of the
// platform's peer-went-away errors (broken pipe and connection reset on
// unix; broken pipe, no data, and pipe not connected on Windows named
// pipes). These occur whenever a client exits without a clean shutdown
// and should not be logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return isPlatformCloseError(err)
}
