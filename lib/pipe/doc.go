// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipe is the local transport between the bridge server and
// its client: a byte-mode Windows named pipe through go-winio, or, on
// other platforms, a unix socket standing in for it so the server and
// client can be developed and tested anywhere.
//
// Names are written in Windows form (\\.\pipe\framebridge). Off
// Windows, [SocketPath] maps such a name to a socket file in the
// temporary directory; a name that is already a filesystem path is
// used as is.
package pipe
