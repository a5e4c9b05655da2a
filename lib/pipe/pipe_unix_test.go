// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package pipe

import (
	"os"
	"testing"

	"github.com/bureau-foundation/framebridge/lib/testutil"
)

func TestListenReplacesStaleSocket(t *testing.T) {
	name := testutil.PipeName(t)
	if err := os.WriteFile(name, []byte("stale"), 0o600); err != nil {
		t.Fatalf("creating stale file: %v", err)
	}
	listener, err := Listen(name, ListenOptions{})
	if err != nil {
		t.Fatalf("Listen over stale file: %v", err)
	}
	listener.Close()
}

func TestListenPermissions(t *testing.T) {
	name := testutil.PipeName(t)
	listener, err := Listen(name, ListenOptions{AllowAll: true})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()
	info, err := os.Stat(name)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o666 {
		t.Errorf("socket mode = %o, want 666", mode)
	}
}
