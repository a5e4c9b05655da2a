// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/framebridge/lib/codec"
)

// FileName is the record's name inside the configured state directory.
const FileName = "active-capture.cbor"

// Capture describes a running capture process.
type Capture struct {
	// ProcessID is the capture tool's pid.
	ProcessID uint32 `cbor:"process_id"`

	// Executable is the capture tool's path. Before terminating an
	// orphan, the server checks that ProcessID still runs this
	// executable: pids are reused.
	Executable string `cbor:"executable"`

	// SessionID is the desktop session the tool was launched in.
	SessionID uint32 `cbor:"session_id"`

	// TargetProcessID and TargetName identify the monitored process.
	TargetProcessID uint32 `cbor:"target_process_id"`
	TargetName      string `cbor:"target_name,omitempty"`

	// StartedAt is when the capture was launched. Check ignores
	// records older than its maxAge.
	StartedAt time.Time `cbor:"started_at"`
}

// Path returns the record path inside directory.
func Path(directory string) string {
	return filepath.Join(directory, FileName)
}

// Write atomically writes record to path with mode 0600. The parent
// directory is created if needed.
func Write(path string, record Capture) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding capture record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	// Write, sync, close, in that order. On any failure the temporary
	// file is removed and the first error reported.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Directory fsync is not supported on Windows; the error is
	// ignored everywhere.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Read reads and decodes the record at path. A missing file yields an
// error wrapping os.ErrNotExist.
func Read(path string) (Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Capture{}, err
	}
	var record Capture
	if err := codec.Unmarshal(data, &record); err != nil {
		return Capture{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return record, nil
}

// Check reads the record at path and reports whether it exists and was
// written within maxAge. A missing or stale record returns false with a
// nil error; an unreadable or corrupt one returns the error so the
// caller can tell "nothing to do" from "something is wrong".
func Check(path string, maxAge time.Duration) (Capture, bool, error) {
	record, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Capture{}, false, nil
		}
		return Capture{}, false, err
	}
	if time.Since(record.StartedAt) > maxAge {
		return Capture{}, false, nil
	}
	return record, true, nil
}

// Clear removes the record. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}
