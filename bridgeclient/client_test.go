// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridgeclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/framebridge/lib/clock"
	"github.com/bureau-foundation/framebridge/lib/ipc"
	"github.com/bureau-foundation/framebridge/lib/pipe"
	"github.com/bureau-foundation/framebridge/lib/testutil"
)

const testTimeout = 5 * time.Second

// scriptedServer accepts connections on a test pipe and hands each one
// to the test, which plays the server's side of the protocol.
type scriptedServer struct {
	name        string
	connections chan *serverSide
}

type serverSide struct {
	connection net.Conn
	received   chan ipc.Message
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	name := testutil.PipeName(t)
	listener, err := pipe.Listen(name, pipe.ListenOptions{})
	if err != nil {
		t.Fatalf("listening on %s: %v", name, err)
	}
	t.Cleanup(func() { listener.Close() })

	server := &scriptedServer{name: name, connections: make(chan *serverSide, 4)}
	go func() {
		for {
			connection, err := listener.Accept()
			if err != nil {
				return
			}
			side := &serverSide{connection: connection, received: make(chan ipc.Message, 64)}
			t.Cleanup(func() { connection.Close() })
			go func() {
				defer close(side.received)
				reader := ipc.NewReader(connection)
				for {
					message, err := reader.Next()
					if ipc.Skippable(err) {
						continue
					}
					if err != nil {
						return
					}
					side.received <- message
				}
			}()
			server.connections <- side
		}
	}()
	return server
}

func (s *serverSide) send(t *testing.T, message ipc.Message) {
	t.Helper()
	data, err := ipc.Encode(message)
	if err != nil {
		t.Fatalf("encoding %T: %v", message, err)
	}
	if _, err := s.connection.Write(data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (s *serverSide) receive(t *testing.T) ipc.Message {
	t.Helper()
	return testutil.RequireReceive(t, s.received, testTimeout, "waiting for client request")
}

func newClient(server *scriptedServer) *Client {
	return &Client{
		PipeName: server.name,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// connect runs Connect against the scripted server, acknowledging the
// connection from the server side.
func connect(t *testing.T, client *Client, server *scriptedServer) *serverSide {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- client.ConnectErr(context.Background()) }()

	side := testutil.RequireReceive(t, server.connections, testTimeout, "server accept")
	side.send(t, ipc.Ack{Detail: ipc.ConnectedDetail})
	if err := testutil.RequireReceive(t, result, testTimeout, "Connect"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return side
}

// answer replies to the next request with an Ack and returns the
// request.
func (s *serverSide) answer(t *testing.T) ipc.Message {
	t.Helper()
	request := s.receive(t)
	s.send(t, ipc.Ack{RequestID: request.ID()})
	return request
}

func TestRequestsFailWhileDisconnected(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)

	if client.StartMonitoring(context.Background(), 42, "game.exe") {
		t.Fatal("StartMonitoring succeeded without a connection")
	}
	if !strings.Contains(client.LastError(), "not connected") {
		t.Errorf("LastError = %q, want not connected", client.LastError())
	}
	if client.StopMonitoring(context.Background()) || client.Ping(context.Background()) {
		t.Error("request succeeded without a connection")
	}
	if _, err := client.Request(context.Background(), ipc.Heartbeat{RequestID: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Request error = %v, want ErrNotConnected", err)
	}
	testutil.RequireNoReceive(t, server.connections, 100*time.Millisecond, "request dialed the server")

	select {
	case <-client.Disconnected():
	default:
		t.Error("Disconnected channel open with no connection")
	}
}

func TestPing(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	side := connect(t, client, server)

	result := make(chan bool, 1)
	go func() { result <- client.Ping(context.Background()) }()

	request := side.answer(t)
	if _, ok := request.(ipc.Heartbeat); !ok {
		t.Fatalf("request = %T, want Heartbeat", request)
	}
	if !testutil.RequireReceive(t, result, testTimeout, "Ping result") {
		t.Errorf("Ping failed: %s", client.LastError())
	}
}

func TestStartMonitoringSendsTarget(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	side := connect(t, client, server)

	result := make(chan bool, 1)
	go func() { result <- client.StartMonitoring(context.Background(), 4242, "game.exe") }()

	request, ok := side.answer(t).(ipc.StartRequest)
	if !ok {
		t.Fatal("request is not a StartRequest")
	}
	if request.Target != (ipc.StartPayload{ProcessID: 4242, ProcessName: "game.exe"}) {
		t.Errorf("Target = %+v", request.Target)
	}
	if _, err := uuid.Parse(request.RequestID); err != nil {
		t.Errorf("RequestID %q is not a UUID: %v", request.RequestID, err)
	}
	if !testutil.RequireReceive(t, result, testTimeout, "StartMonitoring result") {
		t.Errorf("StartMonitoring failed: %s", client.LastError())
	}
}

func TestStartMonitoringServerError(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	side := connect(t, client, server)

	result := make(chan bool, 1)
	go func() { result <- client.StartMonitoring(context.Background(), 4242, "game.exe") }()

	request := side.receive(t)
	side.send(t, ipc.ErrorReply{RequestID: request.ID(), Message: "executable not found"})
	if testutil.RequireReceive(t, result, testTimeout, "StartMonitoring result") {
		t.Fatal("StartMonitoring succeeded after an Error reply")
	}
	if client.LastError() != "executable not found" {
		t.Errorf("LastError = %q", client.LastError())
	}

	var serverErr *ServerError
	request2 := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), ipc.StopRequest{RequestID: "stop-1"})
		request2 <- err
	}()
	side.receive(t)
	side.send(t, ipc.ErrorReply{RequestID: "stop-1", Message: "nope"})
	if err := testutil.RequireReceive(t, request2, testTimeout, "Request result"); !errors.As(err, &serverErr) || serverErr.Message != "nope" {
		t.Errorf("Request error = %v, want *ServerError{nope}", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	server := newScriptedServer(t)
	fakeClock := clock.Fake(time.Unix(1_700_000_000, 0))
	client := newClient(server)
	client.Clock = fakeClock
	side := connect(t, client, server)

	result := make(chan bool, 1)
	go func() { result <- client.Ping(context.Background()) }()

	request := side.receive(t)
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(DefaultRequestTimeout)

	if testutil.RequireReceive(t, result, testTimeout, "Ping result") {
		t.Fatal("Ping succeeded without a reply")
	}
	if !strings.Contains(client.LastError(), "did not reply") {
		t.Errorf("LastError = %q, want timeout", client.LastError())
	}

	// A reply after the timeout is discarded and the connection stays
	// usable.
	side.send(t, ipc.Ack{RequestID: request.ID()})
	go func() { result <- client.Ping(context.Background()) }()
	side.answer(t)
	if !testutil.RequireReceive(t, result, testTimeout, "second Ping result") {
		t.Errorf("Ping after late reply failed: %s", client.LastError())
	}
}

func TestMetricsDelivered(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	var callbacks atomic.Int32
	client.OnMetrics = func(Telemetry) { callbacks.Add(1) }
	side := connect(t, client, server)

	side.send(t, ipc.MetricsPush{Metrics: ipc.MetricsPayload{FPS: 144, AverageFrameTimeMs: 6.94}})
	telemetry := testutil.RequireReceive(t, client.Metrics(), testTimeout, "telemetry")
	if telemetry.FPS != 144 || telemetry.AverageFrameTimeMs != 6.94 {
		t.Errorf("telemetry = %+v", telemetry)
	}
	if telemetry.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
	if callbacks.Load() != 1 {
		t.Errorf("OnMetrics called %d times, want 1", callbacks.Load())
	}
}

func TestMetricsDropOldest(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	client.MetricsBuffer = 2
	var callbacks atomic.Int32
	client.OnMetrics = func(Telemetry) { callbacks.Add(1) }
	side := connect(t, client, server)

	for fps := 1.0; fps <= 5; fps++ {
		side.send(t, ipc.MetricsPush{Metrics: ipc.MetricsPayload{FPS: fps}})
	}

	// The reader handles messages in order, so once the Ping is answered
	// every push before it has been queued.
	result := make(chan bool, 1)
	go func() { result <- client.Ping(context.Background()) }()
	side.answer(t)
	testutil.RequireReceive(t, result, testTimeout, "Ping")

	if callbacks.Load() != 5 {
		t.Errorf("OnMetrics called %d times, want 5", callbacks.Load())
	}
	first := testutil.RequireReceive(t, client.Metrics(), testTimeout, "first")
	second := testutil.RequireReceive(t, client.Metrics(), testTimeout, "second")
	if first.FPS != 4 || second.FPS != 5 {
		t.Errorf("queued FPS = %v, %v; want 4, 5", first.FPS, second.FPS)
	}
}

func TestOversizedServerLineSkipped(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	side := connect(t, client, server)

	if _, err := side.connection.Write([]byte(strings.Repeat("m", ipc.MaxLineLength+1) + "\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}

	result := make(chan bool, 1)
	go func() { result <- client.Ping(context.Background()) }()
	side.answer(t)
	if !testutil.RequireReceive(t, result, testTimeout, "Ping result") {
		t.Errorf("Ping failed after an oversized line: %s", client.LastError())
	}
}

func TestUnsolicitedErrorRecorded(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	reported := make(chan string, 1)
	client.OnServerError = func(message string) { reported <- message }
	side := connect(t, client, server)

	side.send(t, ipc.ErrorReply{Message: "permission denied: capture tool exited with code 6 (access denied)"})

	// A following round trip guarantees the error was processed.
	result := make(chan bool, 1)
	go func() { result <- client.Ping(context.Background()) }()
	side.answer(t)
	testutil.RequireReceive(t, result, testTimeout, "Ping")

	if !strings.Contains(client.LastError(), "code 6") {
		t.Errorf("LastError = %q", client.LastError())
	}
	if message := testutil.RequireReceive(t, reported, testTimeout, "OnServerError"); !strings.Contains(message, "code 6") {
		t.Errorf("OnServerError message = %q", message)
	}
	if !client.Connected() {
		t.Error("unsolicited error disconnected the client")
	}
}

func TestServerDisconnectFailsPending(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	disconnects := make(chan error, 1)
	client.OnDisconnected = func(err error) { disconnects <- err }
	side := connect(t, client, server)
	disconnected := client.Disconnected()

	result := make(chan bool, 1)
	go func() { result <- client.StopMonitoring(context.Background()) }()
	side.receive(t)
	side.connection.Close()

	if testutil.RequireReceive(t, result, testTimeout, "StopMonitoring result") {
		t.Fatal("StopMonitoring succeeded after the server closed")
	}
	if !strings.Contains(client.LastError(), "closed") {
		t.Errorf("LastError = %q", client.LastError())
	}
	testutil.RequireClosed(t, disconnected, testTimeout, "Disconnected")
	if err := testutil.RequireReceive(t, disconnects, testTimeout, "OnDisconnected"); err != nil {
		t.Errorf("OnDisconnected error = %v, want nil for a clean close", err)
	}
	if client.Connected() {
		t.Error("Connected after server close")
	}
}

func TestConnectWaitsForAcknowledgement(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	client.ConnectTimeout = 100 * time.Millisecond

	err := client.ConnectErr(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded without the server acknowledging")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect error = %v, want deadline exceeded", err)
	}
	if client.Connected() {
		t.Error("Connected after failed Connect")
	}
	if client.Connect(context.Background()) {
		t.Error("Connect (bool) succeeded without acknowledgement")
	}
	if client.LastError() == "" {
		t.Error("failed Connect did not record LastError")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	connect(t, client, server)

	if !client.Connect(context.Background()) {
		t.Fatalf("second Connect failed: %s", client.LastError())
	}
	testutil.RequireNoReceive(t, server.connections, 100*time.Millisecond, "second Connect dialed again")
}

func TestCloseFailsPendingAndIsIdempotent(t *testing.T) {
	server := newScriptedServer(t)
	client := newClient(server)
	side := connect(t, client, server)

	result := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), ipc.Heartbeat{RequestID: "hb"})
		result <- err
	}()
	side.receive(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := testutil.RequireReceive(t, result, testTimeout, "Request result"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("pending request error = %v, want ErrDisconnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestKeepAliveSendsHeartbeats(t *testing.T) {
	server := newScriptedServer(t)
	fakeClock := clock.Fake(time.Unix(1_700_000_000, 0))
	client := newClient(server)
	client.Clock = fakeClock
	client.KeepAlive = 10 * time.Second
	side := connect(t, client, server)

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(10 * time.Second)
	if _, ok := side.answer(t).(ipc.Heartbeat); !ok {
		t.Fatal("keepalive did not send a Heartbeat")
	}
}
