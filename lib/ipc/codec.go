// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/framebridge/lib/lineio"
)

// MaxLineLength bounds a single encoded message. A metrics push is
// well under 1 KB; a longer line is discarded rather than buffered.
const MaxLineLength = 1024 * 1024

// envelope is the flat JSON shape of every message. Only the fields
// belonging to Kind are populated on encode, and only those fields are
// read on decode.
type envelope struct {
	Kind      Kind            `json:"kind"`
	RequestID string          `json:"requestId,omitempty"`
	Start     *StartPayload   `json:"start,omitempty"`
	Metrics   *MetricsPayload `json:"metrics,omitempty"`
	Error     string          `json:"error,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// DecodeError reports a line that is not a valid message. The line is
// retained (truncated) for logging.
type DecodeError struct {
	Line   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decoding message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownKindError reports a well-formed message whose kind this
// version does not understand. Peers built against a newer protocol
// may send these; receivers log and skip them.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown message kind %q", e.Kind)
}

// Encode serializes m as a single line of JSON terminated by '\n'.
func Encode(m Message) ([]byte, error) {
	var wire envelope
	switch message := m.(type) {
	case Heartbeat:
		wire = envelope{Kind: KindHeartbeat, RequestID: message.RequestID}
	case StartRequest:
		target := message.Target
		wire = envelope{Kind: KindStartRequest, RequestID: message.RequestID, Start: &target}
	case StopRequest:
		wire = envelope{Kind: KindStopRequest, RequestID: message.RequestID}
	case MetricsPush:
		metrics := message.Metrics
		wire = envelope{Kind: KindMetrics, Metrics: &metrics}
	case Ack:
		wire = envelope{Kind: KindAck, RequestID: message.RequestID, Detail: message.Detail}
	case ErrorReply:
		wire = envelope{Kind: KindError, RequestID: message.RequestID, Error: message.Message}
	case nil:
		return nil, fmt.Errorf("encoding message: nil message")
	default:
		return nil, fmt.Errorf("encoding message: unsupported type %T", m)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", wire.Kind, err)
	}
	return append(data, '\n'), nil
}

// Decode parses one line (with or without its trailing newline) into a
// Message. It never panics: malformed input yields a *DecodeError and
// an unrecognized kind yields an *UnknownKindError.
func Decode(line []byte) (Message, error) {
	var wire envelope
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &DecodeError{Line: truncate(line), Reason: "invalid JSON", Err: err}
	}

	switch wire.Kind {
	case KindHeartbeat:
		return Heartbeat{RequestID: wire.RequestID}, nil
	case KindStartRequest:
		if wire.Start == nil {
			return nil, &DecodeError{Line: truncate(line), Reason: "start request without start payload"}
		}
		return StartRequest{RequestID: wire.RequestID, Target: *wire.Start}, nil
	case KindStopRequest:
		return StopRequest{RequestID: wire.RequestID}, nil
	case KindMetrics:
		if wire.Metrics == nil {
			return nil, &DecodeError{Line: truncate(line), Reason: "metrics message without metrics payload"}
		}
		return MetricsPush{Metrics: *wire.Metrics}, nil
	case KindAck:
		return Ack{RequestID: wire.RequestID, Detail: wire.Detail}, nil
	case KindError:
		if wire.Error == "" {
			return nil, &DecodeError{Line: truncate(line), Reason: "error message without error text"}
		}
		return ErrorReply{RequestID: wire.RequestID, Message: wire.Error}, nil
	case "":
		return nil, &DecodeError{Line: truncate(line), Reason: "missing kind"}
	default:
		return nil, &UnknownKindError{Kind: wire.Kind}
	}
}

// Reader reads newline-delimited messages from a stream.
type Reader struct {
	lines *lineio.Reader
}

// NewReader returns a Reader over r that accepts lines of up to
// MaxLineLength bytes.
func NewReader(r io.Reader) *Reader {
	return &Reader{lines: lineio.NewReader(r, MaxLineLength)}
}

// Next returns the next message. A bad line (malformed, oversized, or
// of an unknown kind) yields an error for which Skippable is true, and
// the Reader moves on to the following line. Any other error, io.EOF
// included, ends the stream.
func (r *Reader) Next() (Message, error) {
	line, err := r.lines.Next()
	if err != nil {
		var tooLong *lineio.TooLongError
		if errors.As(err, &tooLong) {
			return nil, &DecodeError{Reason: "line too long", Err: err}
		}
		return nil, err
	}
	return Decode(line)
}

// Skippable reports whether err describes a single bad line that the
// receiver should log and skip.
func Skippable(err error) bool {
	var decodeErr *DecodeError
	var unknown *UnknownKindError
	return errors.As(err, &decodeErr) || errors.As(err, &unknown)
}

// truncate limits the copy of a bad line kept in a DecodeError.
func truncate(line []byte) string {
	const limit = 256
	if len(line) > limit {
		return string(line[:limit]) + "..."
	}
	return string(line)
}
