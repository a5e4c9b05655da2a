// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/framebridge/frametime"
	"github.com/bureau-foundation/framebridge/launcher"
	"github.com/bureau-foundation/framebridge/lib/clock"
	"github.com/bureau-foundation/framebridge/lib/ipc"
	"github.com/bureau-foundation/framebridge/lib/netutil"
	"github.com/bureau-foundation/framebridge/lib/observability"
	"github.com/bureau-foundation/framebridge/lib/pipe"
	"github.com/bureau-foundation/framebridge/lib/procinfo"
)

// DefaultWriteTimeout bounds a single write to the client when
// Server.WriteTimeout is zero.
const DefaultWriteTimeout = 2 * time.Second

// State is the server's connection state.
type State int

const (
	// StateIdle: not listening (before Start, after shutdown).
	StateIdle State = iota
	// StateWaitingForClient: listening, no client connected.
	StateWaitingForClient
	// StateConnected: one client connected.
	StateConnected
	// StateDisconnected: the client has gone and the server is tearing
	// down its session before listening again.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForClient:
		return "waiting_for_client"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var errNoClient = errors.New("no client connected")

// Server accepts one client at a time on a local pipe, launches capture
// sessions on its behalf, and pushes the resulting frame statistics to
// it.
type Server struct {
	// PipeName is the pipe to listen on (see lib/pipe).
	PipeName string

	// ListenOptions configures the pipe's access control.
	ListenOptions pipe.ListenOptions

	// Launcher starts capture subprocesses. Required.
	Launcher Launcher

	// LookupProcess confirms a start request's target is running. If
	// nil, procinfo.Lookup is used.
	LookupProcess func(ctx context.Context, pid uint32) (procinfo.Process, error)

	// Profile, WindowSize, and MinPercentileSamples configure each
	// session's frame engine (see frametime.Options).
	Profile              frametime.ColumnProfile
	WindowSize           int
	MinPercentileSamples int

	// PushQueue is the metrics push queue capacity. Zero selects
	// DefaultPushQueue.
	PushQueue int

	// KillGrace bounds how long stopping a session waits for the
	// capture subprocess to exit. Zero selects launcher.DefaultKillGrace.
	KillGrace time.Duration

	// WriteTimeout bounds each write to the client. A client that
	// cannot accept a message within it is disconnected. Zero selects
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// StateFile, when set, records the running capture subprocess so a
	// restarted server can terminate one orphaned by a crash.
	StateFile string

	// CaptureExecutable is recorded in the state file and used to
	// confirm an orphaned pid still runs the capture tool.
	CaptureExecutable string

	// OrphanMaxAge bounds how old a leftover capture record may be for
	// its pid to be considered. Zero selects DefaultOrphanMaxAge.
	OrphanMaxAge time.Duration

	// Metrics receives counters and gauges. If nil, a private
	// registry is created and nothing exports it.
	Metrics *observability.Metrics

	// Clock times session teardown. If nil, the real clock is used.
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-message events are logged at Debug level; lifecycle at
	// Info; failures at Warn/Error.
	Logger *slog.Logger

	listener        net.Listener
	cancel          context.CancelFunc
	done            chan struct{}
	connectionCount int64

	mu     sync.Mutex
	state  State
	client *clientConn

	// sessionMu serializes start, stop, and teardown so at most one
	// capture session exists.
	sessionMu sync.Mutex
	session   *activeSession

	activeEngine    atomic.Pointer[frametime.Engine]
	activePID       atomic.Uint32
	activeTarget    atomic.Uint32
	framesAccepted  atomic.Uint64
	framesRejected  atomic.Uint64
	pushesDropped   atomic.Uint64
	sessionsStarted atomic.Uint64
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) clock() clock.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return clock.Real()
}

func (s *Server) killGrace() time.Duration {
	if s.KillGrace > 0 {
		return s.KillGrace
	}
	return launcher.DefaultKillGrace
}

func (s *Server) lookupProcess(ctx context.Context, pid uint32) (procinfo.Process, error) {
	if s.LookupProcess != nil {
		return s.LookupProcess(ctx, pid)
	}
	return procinfo.Lookup(ctx, pid)
}

func (s *Server) writeTimeout() time.Duration {
	if s.WriteTimeout > 0 {
		return s.WriteTimeout
	}
	return DefaultWriteTimeout
}

func (s *Server) pushQueue() int {
	if s.PushQueue > 0 {
		return s.PushQueue
	}
	return DefaultPushQueue
}

// Start terminates any capture orphaned by a previous instance, then
// listens on the pipe and serves clients in the background until Stop
// is called or ctx is cancelled. It returns once the pipe is
// listening.
func (s *Server) Start(ctx context.Context) error {
	if s.PipeName == "" {
		return fmt.Errorf("bridge: PipeName is required")
	}
	if s.Launcher == nil {
		return fmt.Errorf("bridge: Launcher is required")
	}
	if s.Metrics == nil {
		s.Metrics = observability.New()
	}

	s.recoverOrphan(ctx)

	listener, err := pipe.Listen(s.PipeName, s.ListenOptions)
	if err != nil {
		return fmt.Errorf("bridge: listening on %s: %w", s.PipeName, err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.setState(StateWaitingForClient)

	go func() {
		defer close(s.done)
		s.acceptLoop(ctx)
	}()

	s.logger().Info("bridge server started", "pipe", s.PipeName)
	return nil
}

// Stop shuts the server down: it stops listening, disconnects the
// client, stops any capture session, and waits for all of it to finish.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.done != nil {
		<-s.done
	}
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	if s.done != nil {
		<-s.done
	}
}

// acceptLoop serves one client at a time. Accept is not called again
// until the previous connection and its session are fully torn down,
// so a second client waits in the pipe's backlog.
func (s *Server) acceptLoop(ctx context.Context) {
	defer func() {
		s.stopSession("server shutdown")
		s.setState(StateIdle)
		s.logger().Info("bridge server stopped")
	}()

	for {
		connection, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger().Error("pipe listener closed unexpectedly", "error", err)
				return
			}
			s.logger().Error("accept failed", "error", err)
			continue
		}

		s.connectionCount++
		s.serveConnection(ctx, connection, s.connectionCount)

		if ctx.Err() != nil {
			return
		}
		s.setState(StateWaitingForClient)
	}
}

// serveConnection runs one client connection to completion: it reads
// and dispatches requests until the client disconnects, then stops any
// session the client started.
func (s *Server) serveConnection(ctx context.Context, connection net.Conn, connectionID int64) {
	logger := s.logger().With("connection_id", connectionID)
	logger.Info("client connected")

	client := &clientConn{connection: connection, writeTimeout: s.writeTimeout()}
	s.mu.Lock()
	s.client = client
	s.state = StateConnected
	s.mu.Unlock()
	s.Metrics.ClientConnected.Set(1)

	stopClosing := context.AfterFunc(ctx, func() { connection.Close() })
	defer stopClosing()

	if err := client.send(ipc.Ack{Detail: ipc.ConnectedDetail}); err != nil {
		logger.Warn("sending connected ack failed", "error", err)
	} else {
		s.readLoop(ctx, client, logger)
	}

	s.setState(StateDisconnected)
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	connection.Close()
	s.Metrics.ClientConnected.Set(0)

	s.stopSession("client disconnected")
	logger.Info("client disconnected")
}

func (s *Server) readLoop(ctx context.Context, client *clientConn, logger *slog.Logger) {
	reader := ipc.NewReader(client.connection)
	for {
		message, err := reader.Next()
		if err != nil {
			var unknown *ipc.UnknownKindError
			switch {
			case errors.As(err, &unknown):
				logger.Warn("ignoring message of unknown kind", "kind", unknown.Kind)
				continue
			case ipc.Skippable(err):
				logger.Warn("ignoring malformed message", "error", err)
				continue
			case errors.Is(err, io.EOF), netutil.IsExpectedCloseError(err):
			default:
				logger.Warn("reading from client failed", "error", err)
			}
			return
		}
		s.handleMessage(ctx, client, message, logger)
	}
}

func (s *Server) handleMessage(ctx context.Context, client *clientConn, message ipc.Message, logger *slog.Logger) {
	s.Metrics.Requests.WithLabelValues(string(message.Kind())).Inc()
	logger = logger.With("kind", string(message.Kind()), "request_id", message.ID())
	logger.Debug("request received")

	var reply ipc.Message
	switch request := message.(type) {
	case ipc.Heartbeat:
		reply = ipc.Ack{RequestID: request.RequestID}

	case ipc.StartRequest:
		if err := s.startMonitoring(ctx, request.Target, logger); err != nil {
			reply = ipc.ErrorReply{RequestID: request.RequestID, Message: err.Error()}
		} else {
			reply = ipc.Ack{
				RequestID: request.RequestID,
				Detail:    fmt.Sprintf("monitoring %s (%d)", request.Target.ProcessName, request.Target.ProcessID),
			}
		}

	case ipc.StopRequest:
		s.stopSession("stop requested")
		reply = ipc.Ack{RequestID: request.RequestID}

	default:
		logger.Warn("ignoring message the server does not accept")
		return
	}

	if err := client.send(reply); err != nil {
		logger.Warn("sending reply failed", "error", err)
	}
}

// send writes an unsolicited message to the current client, if any.
func (s *Server) send(message ipc.Message) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errNoClient
	}
	return client.send(message)
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Stats is a point-in-time view of the server.
type Stats struct {
	State           State
	ClientConnected bool

	// TargetProcessID and CapturePID are zero when no session runs.
	TargetProcessID uint32
	CapturePID      uint32

	// Totals across every session since Start. Rejections of the
	// running session are included.
	SessionsStarted uint64
	FramesAccepted  uint64
	FramesRejected  uint64
	PushesDropped   uint64

	// Latest is the running session's most recent snapshot and
	// WindowSamples the frame times behind it. Both are zero when no
	// session runs.
	Latest        ipc.MetricsPayload
	WindowSamples int
}

// Stats returns the server's current state and totals.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		State:           s.state,
		ClientConnected: s.client != nil,
	}
	s.mu.Unlock()

	stats.TargetProcessID = s.activeTarget.Load()
	stats.CapturePID = s.activePID.Load()
	stats.SessionsStarted = s.sessionsStarted.Load()
	stats.FramesAccepted = s.framesAccepted.Load()
	stats.FramesRejected = s.framesRejected.Load()
	stats.PushesDropped = s.pushesDropped.Load()
	if engine := s.activeEngine.Load(); engine != nil {
		stats.FramesRejected += rejected(engine.Counters())
		stats.Latest = engine.Latest()
		stats.WindowSamples = len(engine.Samples())
	}
	return stats
}

// clientConn serializes writes to one client connection.
type clientConn struct {
	connection   net.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

// send encodes and writes one message. A failed write closes the
// connection, which ends the read loop and tears the client down.
func (c *clientConn) send(message ipc.Message) error {
	data, err := ipc.Encode(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connection.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.connection.Close()
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := c.connection.Write(data); err != nil {
		c.connection.Close()
		return fmt.Errorf("writing %s: %w", message.Kind(), err)
	}
	return nil
}
