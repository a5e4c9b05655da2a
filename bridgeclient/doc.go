// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridgeclient is the unprivileged client of the framebridge
// server.
//
// A [Client] holds at most one pipe connection. Requests
// (StartMonitoring, StopMonitoring, Ping) carry a fresh UUID request id
// and wait for the matching Ack or Error, bounded by RequestTimeout;
// a reply that arrives after its request timed out is discarded.
// Requests made while disconnected fail immediately without touching
// the pipe.
//
// A reader goroutine per connection routes replies to their pending
// requests, delivers Metrics pushes as [Telemetry] to OnMetrics and to
// the Metrics channel (dropping the oldest when the consumer falls
// behind), and records unsolicited server errors for LastError. When
// the server closes the pipe every pending request fails with
// [ErrDisconnected], the Disconnected channel closes, and
// OnDisconnected runs.
package bridgeclient
