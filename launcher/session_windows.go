// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// noSession is WTSGetActiveConsoleSessionId's result when no session is
// attached to the physical console.
const noSession = 0xFFFFFFFF

// launchInSession starts the capture tool in the desktop session that
// owns target, as that session's logged-on user.
func (l *Launcher) launchInSession(target Target, args []string) (*Session, error) {
	logger := l.logger().With("process_id", target.ProcessID)

	sessionID, err := resolveSessionID(target.ProcessID)
	if err != nil {
		return nil, &LaunchError{Cause: CauseNoSession, Err: err}
	}
	logger.Debug("resolved target session", "session_id", sessionID)

	if err := enableLaunchPrivileges(); err != nil {
		return nil, &LaunchError{Cause: CausePermissionDenied, Err: err}
	}

	token, err := sessionToken(sessionID)
	if err != nil {
		return nil, err
	}
	defer token.Close()

	var environment *uint16
	if err := windows.CreateEnvironmentBlock(&environment, token, false); err != nil {
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "creating user environment", Err: err}
	}
	defer windows.DestroyEnvironmentBlock(environment)

	stdoutRead, stdoutWrite, err := childPipe()
	if err != nil {
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "creating stdout pipe", Err: err}
	}
	defer windows.CloseHandle(stdoutWrite)
	stderrRead, stderrWrite, err := childPipe()
	if err != nil {
		windows.CloseHandle(stdoutRead)
		return nil, &LaunchError{Cause: CauseLaunchFailed, Message: "creating stderr pipe", Err: err}
	}
	defer windows.CloseHandle(stderrWrite)

	info, err := createProcessAsUser(token, l.Executable, args, environment, stdoutWrite, stderrWrite)
	if err != nil {
		windows.CloseHandle(stdoutRead)
		windows.CloseHandle(stderrRead)
		return nil, classifyStartError(err)
	}
	windows.CloseHandle(info.Thread)

	stdout := os.NewFile(uintptr(stdoutRead), "capture-stdout")
	stderr := os.NewFile(uintptr(stderrRead), "capture-stderr")
	proc := &windowsProcess{handle: info.Process}
	return newSession(info.ProcessId, sessionID, target, proc, stdout, stderr, l.logger()), nil
}

// resolveSessionID finds the interactive session that owns pid: the
// session recorded in the process's token, then ProcessIdToSessionId,
// then the session attached to the physical console. Session 0 is the
// services session and has no desktop, so it never resolves.
func resolveSessionID(pid uint32) (uint32, error) {
	var errs []error

	if sessionID, err := tokenSessionID(pid); err != nil {
		errs = append(errs, err)
	} else if sessionID != 0 {
		return sessionID, nil
	}

	var sessionID uint32
	if err := windows.ProcessIdToSessionId(pid, &sessionID); err != nil {
		errs = append(errs, fmt.Errorf("ProcessIdToSessionId(%d): %w", pid, err))
	} else if sessionID != 0 {
		return sessionID, nil
	}

	if console := windows.WTSGetActiveConsoleSessionId(); console != noSession && console != 0 {
		return console, nil
	}
	errs = append(errs, errors.New("no session attached to the console"))
	return 0, errors.Join(errs...)
}

func tokenSessionID(pid uint32) (uint32, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return 0, fmt.Errorf("opening process %d: %w", pid, err)
	}
	defer windows.CloseHandle(handle)

	var token windows.Token
	if err := windows.OpenProcessToken(handle, windows.TOKEN_QUERY, &token); err != nil {
		return 0, fmt.Errorf("opening token of process %d: %w", pid, err)
	}
	defer token.Close()

	var sessionID, returned uint32
	if err := windows.GetTokenInformation(token, windows.TokenSessionId,
		(*byte)(unsafe.Pointer(&sessionID)), uint32(unsafe.Sizeof(sessionID)), &returned); err != nil {
		return 0, fmt.Errorf("reading session of process %d: %w", pid, err)
	}
	return sessionID, nil
}

// sessionToken returns a primary token for the user logged on to
// sessionID, bound to that session. The caller closes it.
func sessionToken(sessionID uint32) (windows.Token, error) {
	var userToken windows.Token
	if err := windows.WTSQueryUserToken(sessionID, &userToken); err != nil {
		if errors.Is(err, windows.ERROR_NO_TOKEN) {
			return 0, &LaunchError{Cause: CauseNoSession, Message: fmt.Sprintf("no user logged on to session %d", sessionID), Err: err}
		}
		return 0, &LaunchError{Cause: CausePermissionDenied, Message: "querying session user token", Err: err}
	}
	defer userToken.Close()

	var primary windows.Token
	if err := windows.DuplicateTokenEx(userToken, windows.MAXIMUM_ALLOWED, nil,
		windows.SecurityIdentification, windows.TokenPrimary, &primary); err != nil {
		return 0, &LaunchError{Cause: CauseLaunchFailed, Message: "duplicating user token", Err: err}
	}

	if err := windows.SetTokenInformation(primary, windows.TokenSessionId,
		(*byte)(unsafe.Pointer(&sessionID)), uint32(unsafe.Sizeof(sessionID))); err != nil {
		primary.Close()
		return 0, classifyTokenError("binding token to session", err)
	}
	return primary, nil
}

func classifyTokenError(message string, err error) *LaunchError {
	launchErr := classifyStartError(err)
	launchErr.Message = message
	return launchErr
}

// childPipe creates an anonymous pipe whose write end is inheritable
// and whose read end is not.
func childPipe() (read, write windows.Handle, err error) {
	attributes := windows.SecurityAttributes{InheritHandle: 1}
	attributes.Length = uint32(unsafe.Sizeof(attributes))
	if err := windows.CreatePipe(&read, &write, &attributes, 0); err != nil {
		return 0, 0, err
	}
	if err := windows.SetHandleInformation(read, windows.HANDLE_FLAG_INHERIT, 0); err != nil {
		windows.CloseHandle(read)
		windows.CloseHandle(write)
		return 0, 0, err
	}
	return read, write, nil
}

// createProcessAsUser starts executable under token with stdout and
// stderr as its standard output handles. The inherited handle list is
// restricted to those two, so concurrent handle creation elsewhere in
// the server cannot leak into the capture tool.
func createProcessAsUser(token windows.Token, executable string, args []string, environment *uint16, stdout, stderr windows.Handle) (*windows.ProcessInformation, error) {
	application, err := windows.UTF16PtrFromString(executable)
	if err != nil {
		return nil, err
	}
	commandLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(append([]string{executable}, args...)))
	if err != nil {
		return nil, err
	}

	attributes, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("allocating attribute list: %w", err)
	}
	defer attributes.Delete()
	inherited := []windows.Handle{stdout, stderr}
	if err := attributes.Update(windows.PROC_THREAD_ATTRIBUTE_HANDLE_LIST,
		unsafe.Pointer(&inherited[0]), uintptr(len(inherited))*unsafe.Sizeof(inherited[0])); err != nil {
		return nil, fmt.Errorf("setting inherited handle list: %w", err)
	}

	startup := windows.StartupInfoEx{
		StartupInfo: windows.StartupInfo{
			Flags:     windows.STARTF_USESTDHANDLES,
			StdOutput: stdout,
			StdErr:    stderr,
		},
		ProcThreadAttributeList: attributes.List(),
	}
	startup.Cb = uint32(unsafe.Sizeof(startup))

	var info windows.ProcessInformation
	flags := uint32(windows.CREATE_NO_WINDOW | windows.CREATE_UNICODE_ENVIRONMENT | windows.EXTENDED_STARTUPINFO_PRESENT)
	if err := windows.CreateProcessAsUser(token, application, commandLine, nil, nil, true,
		flags, environment, nil, &startup.StartupInfo, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// windowsProcess adapts a process handle to the process interface. The
// handle is closed once wait returns; kill after that is a no-op.
type windowsProcess struct {
	mu     sync.Mutex
	handle windows.Handle
	closed bool
}

func (p *windowsProcess) kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return windows.TerminateProcess(p.handle, 1)
}

func (p *windowsProcess) wait() (int, error) {
	defer func() {
		p.mu.Lock()
		windows.CloseHandle(p.handle)
		p.closed = true
		p.mu.Unlock()
	}()

	event, err := windows.WaitForSingleObject(p.handle, windows.INFINITE)
	if err != nil {
		return -1, fmt.Errorf("waiting for capture process: %w", err)
	}
	if event != windows.WAIT_OBJECT_0 {
		return -1, fmt.Errorf("waiting for capture process: unexpected wait result %#x", event)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(p.handle, &code); err != nil {
		return -1, fmt.Errorf("reading capture exit code: %w", err)
	}
	return int(code), nil
}
