// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procinfo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrNotFound reports a pid with no running process.
var ErrNotFound = errors.New("process not found")

// Process is what the server needs to know about a running process.
type Process struct {
	PID uint32

	// Name is the image name ("game.exe").
	Name string

	// Executable is the full image path. Empty when the caller lacks
	// the rights to query it.
	Executable string
}

// Lookup returns the process with the given pid, or an error wrapping
// ErrNotFound.
func Lookup(ctx context.Context, pid uint32) (Process, error) {
	if pid == 0 || pid > math.MaxInt32 {
		return Process{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	handle, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Process{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
		}
		return Process{}, fmt.Errorf("looking up pid %d: %w", pid, err)
	}

	result := Process{PID: pid}
	if name, err := handle.NameWithContext(ctx); err == nil {
		result.Name = name
	}
	// The executable path needs PROCESS_QUERY_LIMITED_INFORMATION,
	// which a protected process may refuse even to SYSTEM.
	if executable, err := handle.ExeWithContext(ctx); err == nil {
		result.Executable = executable
	}
	if result.Name == "" && result.Executable != "" {
		result.Name = filepath.Base(result.Executable)
	}
	return result, nil
}

// SameImage reports whether a process name matches name, ignoring
// case and a trailing ".exe" on either side.
func SameImage(processName, name string) bool {
	trim := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimSuffix(s, ".exe")
	}
	return trim(processName) != "" && trim(processName) == trim(name)
}

// IsExecutable reports whether p runs the given executable. Paths are
// compared case-insensitively; when p's path could not be read, only
// the image names are compared.
func (p Process) IsExecutable(executable string) bool {
	if p.Executable != "" && filepath.IsAbs(executable) {
		return strings.EqualFold(filepath.Clean(p.Executable), filepath.Clean(executable))
	}
	return SameImage(p.Name, filepath.Base(executable))
}

// Kill terminates the process with the given pid. A process that has
// already exited is not an error.
func Kill(ctx context.Context, pid uint32) error {
	if pid > math.MaxInt32 {
		return nil
	}
	handle, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("opening pid %d: %w", pid, err)
	}
	if err := handle.KillWithContext(ctx); err != nil {
		if running, runErr := handle.IsRunningWithContext(ctx); runErr == nil && !running {
			return nil
		}
		return fmt.Errorf("killing pid %d: %w", pid, err)
	}
	return nil
}

// HostSummary describes the machine for the server's startup log:
// "windows 10.0.22631 (Microsoft Windows 11 Pro), uptime 3h12m".
func HostSummary(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "unknown host: " + err.Error()
	}
	summary := fmt.Sprintf("%s %s", info.OS, info.KernelVersion)
	if info.Platform != "" {
		summary += fmt.Sprintf(" (%s %s)", info.Platform, info.PlatformVersion)
	}
	return summary
}
