// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// Kind discriminates the message types on the wire. The string values
// are part of the protocol and must not change.
type Kind string

const (
	// KindHeartbeat is a liveness check from the client. The server
	// answers with an Ack carrying the same request id and changes no
	// state.
	KindHeartbeat Kind = "Heartbeat"

	// KindStartRequest asks the server to begin capturing frame timing
	// for a target process, replacing any session already running.
	KindStartRequest Kind = "StartMonitoringRequest"

	// KindStopRequest asks the server to tear down the active capture
	// session. Stopping when nothing is running still succeeds.
	KindStopRequest Kind = "StopMonitoringRequest"

	// KindMetrics is an unsolicited push of the latest rolling
	// statistics. It never carries a request id.
	KindMetrics Kind = "Metrics"

	// KindAck acknowledges a request. The server also sends one
	// unsolicited Ack with detail "connected" when a client attaches.
	KindAck Kind = "Ack"

	// KindError reports a failed request, or (without a request id) a
	// capture session that ended abnormally.
	KindError Kind = "Error"
)

// ConnectedDetail is the Detail of the unsolicited Ack the server sends
// as soon as it accepts a client.
const ConnectedDetail = "connected"

// Message is one protocol message. The concrete types are [Heartbeat],
// [StartRequest], [StopRequest], [MetricsPush], [Ack], and
// [ErrorReply]; the interface is sealed so no other package can add a
// kind that the codec does not know how to encode.
type Message interface {
	// Kind returns the wire discriminator for this message.
	Kind() Kind

	// ID returns the correlation identifier, or "" for messages that
	// are not part of a request/response pair.
	ID() string

	isMessage()
}

// Heartbeat checks the server is alive without changing state.
type Heartbeat struct {
	RequestID string
}

// StartRequest asks the server to start a capture session.
type StartRequest struct {
	RequestID string
	Target    StartPayload
}

// StopRequest asks the server to stop the active capture session.
type StopRequest struct {
	RequestID string
}

// MetricsPush carries one rolling-statistics snapshot.
type MetricsPush struct {
	Metrics MetricsPayload
}

// Ack is a successful response. Detail is free text for logging; the
// client does not interpret it.
type Ack struct {
	RequestID string
	Detail    string
}

// ErrorReply is a failed response. Message is human-readable and is
// shown to the user as-is.
type ErrorReply struct {
	RequestID string
	Message   string
}

func (Heartbeat) Kind() Kind    { return KindHeartbeat }
func (StartRequest) Kind() Kind { return KindStartRequest }
func (StopRequest) Kind() Kind  { return KindStopRequest }
func (MetricsPush) Kind() Kind  { return KindMetrics }
func (Ack) Kind() Kind          { return KindAck }
func (ErrorReply) Kind() Kind   { return KindError }

func (m Heartbeat) ID() string    { return m.RequestID }
func (m StartRequest) ID() string { return m.RequestID }
func (m StopRequest) ID() string  { return m.RequestID }
func (MetricsPush) ID() string    { return "" }
func (m Ack) ID() string          { return m.RequestID }
func (m ErrorReply) ID() string   { return m.RequestID }

func (Heartbeat) isMessage()    {}
func (StartRequest) isMessage() {}
func (StopRequest) isMessage()  {}
func (MetricsPush) isMessage()  {}
func (Ack) isMessage()          {}
func (ErrorReply) isMessage()   {}

// StartPayload identifies the process whose frames should be captured.
type StartPayload struct {
	// ProcessID is the target's operating system process id.
	ProcessID uint32 `json:"processId"`

	// ProcessName is the target's executable name (e.g. "game.exe").
	// Used for logging and for name-based capture selection.
	ProcessName string `json:"processName"`
}

// Validate reports whether the payload names a usable target.
func (p StartPayload) Validate() error {
	if p.ProcessID == 0 {
		return fmt.Errorf("processId must be positive")
	}
	if p.ProcessName == "" {
		return fmt.Errorf("processName is required")
	}
	return nil
}

// MetricsPayload is an immutable snapshot of the rolling frame
// statistics. Times are in milliseconds; GPUUtilization is a
// percentage in [0, 100]. Every field is zero until the first sample
// has been accepted.
type MetricsPayload struct {
	AverageFrameTimeMs    float64 `json:"averageFrameTimeMs"`
	FPS                   float64 `json:"fps"`
	OnePercentLowFPS      float64 `json:"onePercentLowFps"`
	PointOnePercentLowFPS float64 `json:"pointOnePercentLowFps"`
	GPULatencyMs          float64 `json:"gpuLatencyMs"`
	GPUTimeMs             float64 `json:"gpuTimeMs"`
	GPUBusyMs             float64 `json:"gpuBusyMs"`
	GPUWaitMs             float64 `json:"gpuWaitMs"`
	DisplayLatencyMs      float64 `json:"displayLatencyMs"`
	CPUBusyMs             float64 `json:"cpuBusyMs"`
	CPUWaitMs             float64 `json:"cpuWaitMs"`
	GPUUtilization        float64 `json:"gpuUtilization"`
}
