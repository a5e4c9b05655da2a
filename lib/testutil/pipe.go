// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// PipeName returns an endpoint name unique to the test, suitable for
// lib/pipe.Listen and lib/pipe.Dial. On Windows it is a named pipe
// path. Elsewhere it is a socket path in a short directory under /tmp:
// unix sockets have a 108-byte path limit that t.TempDir() paths can
// exceed. The directory is removed when the test completes.
func PipeName(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		return `\\.\pipe\` + UniqueID("framebridge-test")
	}
	return filepath.Join(SocketDir(t), "bridge.sock")
}

// SocketDir creates a short-named temporary directory in /tmp for unix
// sockets and removes it when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "framebridge-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// WriteScript writes a #!/bin/sh script with the given body to a
// temporary directory and returns its path. Tests that need a stand-in
// for the capture tool use it; they must skip on Windows.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing script %s: %v", path, err)
	}
	return path
}
