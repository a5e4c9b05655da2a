// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/framebridge/lib/testutil"
)

func TestCaptureArgsByProcessID(t *testing.T) {
	l := &Launcher{ExtraArgs: []string{"--track_gpu_video"}}
	got := l.captureArgs(Target{ProcessID: 4242, ProcessName: "game.exe"})
	want := []string{
		"--process_id", "4242",
		"--output_stdout",
		"--stop_existing_session",
		"--terminate_on_proc_exit",
		"--no_console_stats",
		"--v2_metrics",
		"--session_name", DefaultSessionName,
		"--track_gpu_video",
	}
	if !slices.Equal(got, want) {
		t.Errorf("captureArgs =\n  %q\nwant\n  %q", got, want)
	}
}

func TestCaptureArgsByProcessName(t *testing.T) {
	l := &Launcher{SelectByName: true, SessionName: "Custom"}
	got := l.captureArgs(Target{ProcessID: 4242, ProcessName: "game.exe"})
	if got[0] != "--process_name" || got[1] != "game.exe" {
		t.Errorf("selector = %q, want --process_name game.exe", got[:2])
	}
	if slices.Contains(got, "--process_id") {
		t.Errorf("name selection still passes --process_id: %q", got)
	}
	if i := slices.Index(got, "--session_name"); i < 0 || got[i+1] != "Custom" {
		t.Errorf("session name missing from %q", got)
	}
}

func TestTerminateArgs(t *testing.T) {
	got := terminateArgs("FrameBridge")
	want := []string{"--terminate_existing_session", "--session_name", "FrameBridge"}
	if !slices.Equal(got, want) {
		t.Errorf("terminateArgs = %q, want %q", got, want)
	}
}

func TestLaunchErrorMessage(t *testing.T) {
	tests := []struct {
		err  *LaunchError
		want string
	}{
		{&LaunchError{Cause: CauseExecutableNotFound}, "executable not found"},
		{&LaunchError{Cause: CauseNoSession, Message: "no user logged on to session 2"}, "no interactive session: no user logged on to session 2"},
		{&LaunchError{Cause: CausePermissionDenied, Err: os.ErrPermission}, "permission denied: permission denied"},
		{&LaunchError{Cause: CauseLaunchFailed, Message: "creating stdout pipe", Err: io.ErrClosedPipe}, "launch failed: creating stdout pipe: io: read/write on closed pipe"},
	}
	for _, test := range tests {
		if got := test.err.Error(); got != test.want {
			t.Errorf("Error() = %q, want %q", got, test.want)
		}
	}
}

func requireLaunchCause(t *testing.T, err error, want Cause) {
	t.Helper()
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("error %v (%T) is not a *LaunchError", err, err)
	}
	if launchErr.Cause != want {
		t.Fatalf("Cause = %v, want %v (error: %v)", launchErr.Cause, want, err)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	l := &Launcher{Executable: filepath.Join(t.TempDir(), "PresentMon.exe")}
	_, err := l.Launch(context.Background(), Target{ProcessID: 1})
	requireLaunchCause(t, err, CauseExecutableNotFound)
}

func TestLaunchRejectsEmptyTarget(t *testing.T) {
	script := testutil.WriteScript(t, "capture", "exit 0\n")
	l := &Launcher{Executable: script}
	_, err := l.Launch(context.Background(), Target{ProcessName: "game.exe"})
	requireLaunchCause(t, err, CauseLaunchFailed)
}

func TestLaunchCancelledContext(t *testing.T) {
	script := testutil.WriteScript(t, "capture", "exit 0\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Launcher{Executable: script}).Launch(ctx, Target{ProcessID: 1})
	requireLaunchCause(t, err, CauseLaunchFailed)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v does not wrap context.Canceled", err)
	}
}

func TestLaunchDirectStreamsOutput(t *testing.T) {
	script := testutil.WriteScript(t, "capture", `echo "Application,ProcessID,MsBetweenPresents"
echo "game.exe,$2,16.6"
echo "trace session started" >&2
`)
	l := &Launcher{Executable: script}
	session, err := l.Launch(context.Background(), Target{ProcessID: 77})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer session.Stop(time.Second)

	if session.PID() == 0 {
		t.Error("PID = 0")
	}
	if session.Target().ProcessID != 77 {
		t.Errorf("Target().ProcessID = %d, want 77", session.Target().ProcessID)
	}

	stdout, err := io.ReadAll(session.Stdout())
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	want := "Application,ProcessID,MsBetweenPresents\ngame.exe,77,16.6\n"
	if string(stdout) != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
	stderr, err := io.ReadAll(session.Stderr())
	if err != nil {
		t.Fatalf("reading stderr: %v", err)
	}
	if strings.TrimSpace(string(stderr)) != "trace session started" {
		t.Errorf("stderr = %q", stderr)
	}

	testutil.RequireClosed(t, session.Done(), 5*time.Second, "capture exit")
	if session.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", session.ExitCode())
	}
	if err := session.Err(); err != nil {
		t.Errorf("Err = %v, want nil after clean exit", err)
	}
}

func TestSessionAccessDeniedExit(t *testing.T) {
	script := testutil.WriteScript(t, "capture", "exit 6\n")
	session, err := (&Launcher{Executable: script}).Launch(context.Background(), Target{ProcessID: 1})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer session.Stop(time.Second)

	testutil.RequireClosed(t, session.Done(), 5*time.Second, "capture exit")
	if session.ExitCode() != AccessDeniedExitCode {
		t.Errorf("ExitCode = %d, want %d", session.ExitCode(), AccessDeniedExitCode)
	}
	if !errors.Is(session.Err(), ErrCaptureAccessDenied) {
		t.Errorf("Err = %v, want ErrCaptureAccessDenied", session.Err())
	}
}

func TestSessionOtherNonZeroExit(t *testing.T) {
	script := testutil.WriteScript(t, "capture", "exit 3\n")
	session, err := (&Launcher{Executable: script}).Launch(context.Background(), Target{ProcessID: 1})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer session.Stop(time.Second)

	testutil.RequireClosed(t, session.Done(), 5*time.Second, "capture exit")
	var exitErr *ExitError
	if !errors.As(session.Err(), &exitErr) || exitErr.Code != 3 {
		t.Errorf("Err = %v, want *ExitError{Code: 3}", session.Err())
	}
}

func TestSessionStopKillsAndClosesPipes(t *testing.T) {
	script := testutil.WriteScript(t, "capture", "exec sleep 60\n")
	session, err := (&Launcher{Executable: script}).Launch(context.Background(), Target{ProcessID: 1})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if session.ExitCode() != -1 {
		t.Errorf("ExitCode while running = %d, want -1", session.ExitCode())
	}
	if err := session.Err(); err != nil {
		t.Errorf("Err while running = %v, want nil", err)
	}

	session.Stop(2 * time.Second)
	testutil.RequireClosed(t, session.Done(), time.Second, "capture exit after Stop")
	if err := session.Err(); err != nil {
		t.Errorf("Err after Stop = %v, want nil", err)
	}
	if _, err := session.Stdout().Read(make([]byte, 1)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("read after Stop = %v, want os.ErrClosed", err)
	}

	// Second Stop is a no-op and returns promptly.
	returned := make(chan struct{})
	go func() {
		session.Stop(time.Minute)
		close(returned)
	}()
	testutil.RequireClosed(t, returned, time.Second, "second Stop")
}

// unkillableProcess ignores kill and stays running until released.
type unkillableProcess struct {
	release chan struct{}
}

func (p *unkillableProcess) kill() error { return errors.New("access is denied") }

func (p *unkillableProcess) wait() (int, error) {
	<-p.release
	return 1, nil
}

func TestSessionStopReturnsWhenKillFails(t *testing.T) {
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating stdout pipe: %v", err)
	}
	stderr, stderrWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating stderr pipe: %v", err)
	}
	proc := &unkillableProcess{release: make(chan struct{})}
	t.Cleanup(func() {
		close(proc.release)
		stdoutWriter.Close()
		stderrWriter.Close()
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := newSession(7, 1, Target{ProcessID: 1}, proc, stdout, stderr, logger)

	returned := make(chan struct{})
	go func() {
		session.Stop(50 * time.Millisecond)
		close(returned)
	}()
	testutil.RequireClosed(t, returned, 5*time.Second, "Stop with a process that survives kill")

	select {
	case <-session.Done():
		t.Fatal("session reported exit while the process is alive")
	default:
	}
	eventually := time.Now().Add(5 * time.Second)
	for {
		_, err := stdout.Read(make([]byte, 1))
		if errors.Is(err, os.ErrClosed) {
			break
		}
		if time.Now().After(eventually) {
			t.Fatalf("stdout never closed after Stop: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLaunchRunsTerminateInvocationFirst(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	script := testutil.WriteScript(t, "capture", fmt.Sprintf("echo \"$@\" >> %s\n", calls))
	l := &Launcher{
		Executable:       script,
		SessionName:      "Bridge",
		TerminateTimeout: 5 * time.Second,
	}
	session, err := l.Launch(context.Background(), Target{ProcessID: 9})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer session.Stop(time.Second)
	testutil.RequireClosed(t, session.Done(), 5*time.Second, "capture exit")

	data, err := os.ReadFile(calls)
	if err != nil {
		t.Fatalf("reading call log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("capture tool invoked %d times, want 2:\n%s", len(lines), data)
	}
	if lines[0] != "--terminate_existing_session --session_name Bridge" {
		t.Errorf("first invocation = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "--process_id 9 --output_stdout") {
		t.Errorf("second invocation = %q", lines[1])
	}
}

func TestLaunchSurvivesFailingTerminateInvocation(t *testing.T) {
	script := testutil.WriteScript(t, "capture", `if [ "$1" = "--terminate_existing_session" ]; then exit 1; fi
echo ok
`)
	l := &Launcher{Executable: script, TerminateTimeout: 5 * time.Second}
	session, err := l.Launch(context.Background(), Target{ProcessID: 9})
	if err != nil {
		t.Fatalf("Launch after failed terminate invocation: %v", err)
	}
	defer session.Stop(time.Second)
	output, _ := io.ReadAll(session.Stdout())
	if strings.TrimSpace(string(output)) != "ok" {
		t.Errorf("stdout = %q, want ok", output)
	}
}
