// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// launchDirect starts the capture tool as a child of the server. The
// pipes are created with os.Pipe rather than cmd.StdoutPipe so that
// cmd.Wait, which runs in the reap goroutine, never closes the read
// ends out from under the stream consumers.
func (l *Launcher) launchDirect(target Target, args []string) (*Session, error) {
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "creating stdout pipe", Err: err}
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "creating stderr pipe", Err: err}
	}

	cmd := exec.Command(l.Executable, args...)
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite
	hideWindow(cmd)

	startErr := cmd.Start()
	// The child holds its own copies of the write ends. Closing ours
	// lets the read ends see EOF when the child exits.
	stdoutWrite.Close()
	stderrWrite.Close()
	if startErr != nil {
		stdoutRead.Close()
		stderrRead.Close()
		return nil, classifyStartError(startErr)
	}

	proc := &execProcess{cmd: cmd}
	return newSession(uint32(cmd.Process.Pid), currentSessionID(), target, proc, stdoutRead, stderrRead, l.logger()), nil
}

// execProcess adapts an os/exec command to the process interface.
type execProcess struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	exited bool
}

func (p *execProcess) kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) wait() (int, error) {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("waiting for capture process %d: %w", p.cmd.Process.Pid, err)
}
