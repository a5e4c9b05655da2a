// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"os"
	"path/filepath"
	"strings"
)

// namedPipePrefix is the namespace every Windows pipe name lives in.
const namedPipePrefix = `\\.\pipe\`

// ListenOptions configures the server end.
type ListenOptions struct {
	// SecurityDescriptor is an SDDL string controlling who may connect.
	// Empty uses the platform default (creator and SYSTEM only on
	// Windows). Ignored for unix sockets, which are created 0600
	// unless AllowAll is set.
	SecurityDescriptor string

	// BufferSize sets the pipe's input and output buffer sizes.
	// Zero selects 64 KiB.
	BufferSize int32

	// AllowAll makes a unix socket connectable by any local user,
	// mirroring the interactive-users grant of the default Windows
	// descriptor.
	AllowAll bool
}

const defaultBufferSize = 64 * 1024

func (o ListenOptions) bufferSize() int32 {
	if o.BufferSize > 0 {
		return o.BufferSize
	}
	return defaultBufferSize
}

// SocketPath maps a pipe name to the unix socket path used in its
// place. Names without the \\.\pipe\ prefix that contain a path
// separator are treated as paths already.
func SocketPath(name string) string {
	if base, ok := strings.CutPrefix(name, namedPipePrefix); ok {
		return filepath.Join(os.TempDir(), base+".sock")
	}
	if strings.ContainsAny(name, `/\`) {
		return name
	}
	return filepath.Join(os.TempDir(), name+".sock")
}

// NormalizeName returns name in \\.\pipe\ form. A bare name gains the
// prefix; a full pipe path or filesystem path is returned unchanged.
func NormalizeName(name string) string {
	if strings.HasPrefix(name, namedPipePrefix) || strings.ContainsAny(name, `/\`) {
		return name
	}
	return namedPipePrefix + name
}
