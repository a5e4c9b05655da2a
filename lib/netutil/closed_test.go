// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("reading request: %w", io.EOF), true},
		{"net closed", net.ErrClosed, true},
		{"file closed", &os.PathError{Op: "read", Path: "|0", Err: os.ErrClosed}, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"other", errors.New("disk on fire"), false},
		{"deadline", os.ErrDeadlineExceeded, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
