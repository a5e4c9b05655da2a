// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package netutil

import (
	"errors"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

func isPlatformCloseError(err error) bool {
	if errors.Is(err, winio.ErrFileClosed) {
		return true
	}
	var errno windows.Errno
	if errors.As(err, &errno) {
		switch errno {
		case windows.ERROR_BROKEN_PIPE, windows.ERROR_NO_DATA, windows.ERROR_PIPE_NOT_CONNECTED:
			return true
		}
	}
	return false
}
