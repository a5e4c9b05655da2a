// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridgeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/framebridge/lib/clock"
	"github.com/bureau-foundation/framebridge/lib/ipc"
	"github.com/bureau-foundation/framebridge/lib/pipe"
)

const (
	// DefaultPipeName is the server's default pipe.
	DefaultPipeName = `\\.\pipe\framebridge`

	// DefaultConnectTimeout bounds Connect when ConnectTimeout is zero.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultRequestTimeout bounds each request when RequestTimeout is
	// zero.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultMetricsBuffer is the Metrics channel capacity when
	// MetricsBuffer is zero.
	DefaultMetricsBuffer = 64
)

var (
	// ErrNotConnected is returned by requests made while no connection
	// is open. No I/O is attempted.
	ErrNotConnected = errors.New("not connected to the bridge server")

	// ErrDisconnected is returned by requests whose connection closed
	// before the reply arrived.
	ErrDisconnected = errors.New("connection to the bridge server closed")

	// ErrTimeout is returned by requests that received no reply within
	// RequestTimeout.
	ErrTimeout = errors.New("bridge server did not reply in time")
)

// ServerError is the server's Error reply to a request.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Telemetry is one metrics push as received by the client.
type Telemetry struct {
	ipc.MetricsPayload

	// ReceivedAt is when the client read the push.
	ReceivedAt time.Time
}

// Client is the unprivileged side of framebridge. It holds at most one
// connection to the server. Configure the exported fields before the
// first Connect; they must not change afterwards.
type Client struct {
	// PipeName is the server's pipe. Empty means DefaultPipeName.
	PipeName string

	Logger *slog.Logger

	// Clock drives request timeouts and keepalive. Nil means the real
	// clock.
	Clock clock.Clock

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// KeepAlive, when positive, sends a Heartbeat at this interval. A
	// heartbeat that fails closes the connection.
	KeepAlive time.Duration

	// MetricsBuffer is the capacity of the Metrics channel. When the
	// reader falls behind, the oldest telemetry is dropped.
	MetricsBuffer int

	// OnMetrics, if set, is called from the reader goroutine for every
	// push before it is queued on the Metrics channel. It must not
	// block.
	OnMetrics func(Telemetry)

	// OnServerError, if set, is called from the reader goroutine with
	// every unsolicited Error from the server, such as a capture that
	// exited with access denied. It must not block.
	OnServerError func(message string)

	// OnDisconnected, if set, is called once per connection when it
	// closes, with the read error (nil after Close or a clean EOF).
	OnDisconnected func(error)

	initOnce sync.Once
	metrics  chan Telemetry

	mu        sync.Mutex
	current   *connection
	lastError string
}

func (c *Client) init() {
	c.initOnce.Do(func() {
		size := c.MetricsBuffer
		if size <= 0 {
			size = DefaultMetricsBuffer
		}
		c.metrics = make(chan Telemetry, size)
	})
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) clock() clock.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clock.Real()
}

func (c *Client) pipeName() string {
	if c.PipeName != "" {
		return c.PipeName
	}
	return DefaultPipeName
}

func (c *Client) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c *Client) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

// Connect opens a connection if none is open and reports whether the
// client is connected. Failures are logged and recorded in LastError.
func (c *Client) Connect(ctx context.Context) bool {
	if err := c.ConnectErr(ctx); err != nil {
		c.logger().Warn("connecting to bridge server failed", "pipe", c.pipeName(), "error", err)
		c.setLastError(err.Error())
		return false
	}
	return true
}

// ConnectErr opens a connection if none is open. It returns once the
// server has acknowledged the client; a server busy with another client
// leaves this one queued until ConnectTimeout or ctx expires.
func (c *Client) ConnectErr(ctx context.Context) error {
	c.init()
	if c.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout())
	defer cancel()

	netConnection, err := pipe.Dial(ctx, c.pipeName())
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.pipeName(), err)
	}
	conn := newConnection(netConnection, c.logger())
	go c.readLoop(conn)

	select {
	case <-conn.ready:
	case <-conn.closed:
		return fmt.Errorf("server closed the connection before acknowledging it: %w", errors.Join(ErrDisconnected, conn.err))
	case <-ctx.Done():
		conn.close(nil)
		return fmt.Errorf("waiting for the server to accept the connection: %w", ctx.Err())
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		conn.close(nil)
		return nil
	}
	select {
	case <-conn.closed:
		c.mu.Unlock()
		return fmt.Errorf("connection closed during connect: %w", errors.Join(ErrDisconnected, conn.err))
	default:
	}
	c.current = conn
	conn.established.Store(true)
	c.mu.Unlock()

	if c.KeepAlive > 0 {
		go c.keepAlive(conn)
	}
	c.logger().Info("connected to bridge server", "pipe", c.pipeName())
	return nil
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Disconnected returns a channel closed when the current connection
// closes. With no connection open it returns a closed channel.
func (c *Client) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.current.closed
}

// Metrics returns the channel of received telemetry. It is shared by
// every connection the client makes and is never closed.
func (c *Client) Metrics() <-chan Telemetry {
	c.init()
	return c.metrics
}

// LastError returns the most recent failure: a request error or an
// unsolicited Error from the server (for example, the capture tool
// exiting with access denied).
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Client) setLastError(message string) {
	c.mu.Lock()
	c.lastError = message
	c.mu.Unlock()
}

// StartMonitoring asks the server to capture frames of the given
// process and reports whether it acknowledged. On failure the reason
// is available from LastError.
func (c *Client) StartMonitoring(ctx context.Context, processID uint32, processName string) bool {
	_, err := c.Request(ctx, ipc.StartRequest{
		RequestID: uuid.NewString(),
		Target:    ipc.StartPayload{ProcessID: processID, ProcessName: processName},
	})
	return c.result("start monitoring", err)
}

// StopMonitoring asks the server to stop capturing.
func (c *Client) StopMonitoring(ctx context.Context) bool {
	_, err := c.Request(ctx, ipc.StopRequest{RequestID: uuid.NewString()})
	return c.result("stop monitoring", err)
}

// Ping sends a Heartbeat and reports whether the server acknowledged.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Request(ctx, ipc.Heartbeat{RequestID: uuid.NewString()})
	return c.result("ping", err)
}

func (c *Client) result(operation string, err error) bool {
	if err == nil {
		return true
	}
	c.logger().Warn("bridge request failed", "operation", operation, "error", err)
	c.setLastError(err.Error())
	return false
}

// Request sends a request message and waits for the matching Ack. An
// Error reply is returned as *ServerError. The message must carry a
// unique request id.
func (c *Client) Request(ctx context.Context, message ipc.Message) (ipc.Ack, error) {
	requestID := message.ID()
	if requestID == "" {
		return ipc.Ack{}, fmt.Errorf("%s has no request id", message.Kind())
	}

	c.mu.Lock()
	conn := c.current
	c.mu.Unlock()
	if conn == nil {
		return ipc.Ack{}, ErrNotConnected
	}

	reply, err := conn.addPending(requestID)
	if err != nil {
		return ipc.Ack{}, err
	}
	defer conn.removePending(requestID)

	if err := conn.write(message); err != nil {
		conn.close(err)
		return ipc.Ack{}, fmt.Errorf("sending %s: %w", message.Kind(), err)
	}

	timeout := c.clock().After(c.requestTimeout())
	select {
	case response := <-reply:
		switch response := response.(type) {
		case ipc.Ack:
			return response, nil
		case ipc.ErrorReply:
			return ipc.Ack{}, &ServerError{Message: response.Message}
		default:
			return ipc.Ack{}, fmt.Errorf("unexpected %s reply to %s", response.Kind(), message.Kind())
		}
	case <-conn.closed:
		return ipc.Ack{}, ErrDisconnected
	case <-timeout:
		return ipc.Ack{}, fmt.Errorf("%s %s: %w", message.Kind(), requestID, ErrTimeout)
	case <-ctx.Done():
		return ipc.Ack{}, ctx.Err()
	}
}

// Close closes the current connection, if any. Pending requests fail
// with ErrDisconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.current
	c.current = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.close(nil)
	<-conn.readerDone
	return nil
}

// readLoop dispatches server messages until the connection closes.
func (c *Client) readLoop(conn *connection) {
	defer close(conn.readerDone)

	reader := ipc.NewReader(conn.netConnection)
	for {
		message, err := reader.Next()
		if ipc.Skippable(err) {
			conn.logger.Debug("ignoring undecodable server message", "error", err)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			conn.close(err)
			break
		}
		c.dispatch(conn, message)
	}
	c.disconnected(conn)
}

func (c *Client) dispatch(conn *connection, message ipc.Message) {
	switch message := message.(type) {
	case ipc.MetricsPush:
		c.deliver(Telemetry{MetricsPayload: message.Metrics, ReceivedAt: c.clock().Now()})

	case ipc.Ack:
		if message.RequestID == "" {
			if message.Detail == ipc.ConnectedDetail {
				conn.markReady()
			}
			return
		}
		conn.resolve(message.RequestID, message)

	case ipc.ErrorReply:
		if message.RequestID == "" {
			conn.logger.Warn("bridge server reported an error", "error", message.Message)
			c.setLastError(message.Message)
			if c.OnServerError != nil {
				c.OnServerError(message.Message)
			}
			return
		}
		conn.resolve(message.RequestID, message)

	default:
		conn.logger.Debug("ignoring unexpected server message", "kind", string(message.Kind()))
	}
}

// deliver hands telemetry to OnMetrics and the Metrics channel,
// dropping the oldest queued telemetry when the channel is full.
func (c *Client) deliver(telemetry Telemetry) {
	if c.OnMetrics != nil {
		c.OnMetrics(telemetry)
	}
	for {
		select {
		case c.metrics <- telemetry:
			return
		default:
		}
		select {
		case <-c.metrics:
		default:
		}
	}
}

// disconnected clears the current connection if it is conn and
// notifies OnDisconnected. Connections that never became current (a
// failed Connect) are not reported.
func (c *Client) disconnected(conn *connection) {
	c.mu.Lock()
	if c.current == conn {
		c.current = nil
	}
	c.mu.Unlock()

	if !conn.established.Load() {
		return
	}
	conn.logger.Info("disconnected from bridge server", "error", conn.err)
	if c.OnDisconnected != nil {
		c.OnDisconnected(conn.err)
	}
}

// keepAlive pings on every tick until conn closes. A failed ping
// closes conn.
func (c *Client) keepAlive(conn *connection) {
	ticker := c.clock().NewTicker(c.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-conn.closed:
			return
		case <-ticker.C:
		}
		_, err := c.Request(context.Background(), ipc.Heartbeat{RequestID: uuid.NewString()})
		if err != nil {
			if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrDisconnected) {
				return
			}
			conn.logger.Warn("keepalive failed; closing connection", "error", err)
			conn.close(err)
			return
		}
	}
}
