// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests do not call
// time.After directly. These are the only real wall-clock timeouts in
// the test suite; everything else runs on lib/clock.
//
// [PipeName] returns a bridge endpoint unique to one test: a named pipe
// on Windows, a unix socket under [SocketDir] elsewhere.
//
// [WriteScript] writes a #!/bin/sh stand-in for the capture tool.
//
// [UniqueID] generates monotonically increasing identifiers.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
