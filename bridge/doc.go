// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the privileged side of framebridge: a
// server that listens on a local pipe, accepts one client at a time,
// and runs frame-timing capture sessions on that client's behalf.
//
// The client sends newline-delimited JSON requests (see lib/ipc):
// Heartbeat, StartMonitoringRequest, and StopMonitoringRequest. Every
// request is answered with an Ack or an Error carrying its request id.
// The server also sends unsolicited messages: an Ack with Detail
// "connected" as soon as a client connects, a Metrics push for every
// accepted frame, and an Error when the capture tool exits abnormally.
//
// [Server] owns the connection lifecycle:
//
//	Idle -> WaitingForClient -> Connected -> Disconnected -> WaitingForClient
//
// Accept is only called again after the previous client and its
// session have been fully torn down, so a second client queues in the
// pipe's backlog rather than sharing the server.
//
// A capture session is a [Capture] (normally a *launcher.Session)
// wired to a frametime.Engine. The engine's sink feeds a [PushQueue],
// a bounded FIFO that drops the oldest snapshot when the client falls
// behind; a sender goroutine drains it to the client in parse order.
// The session is stopped exactly once: on StopMonitoringRequest, on a
// replacing start, when the client disconnects, when the capture tool
// exits on its own, or at shutdown.
//
// When StateFile is set, the running capture's pid is recorded there
// so that a server restarted after a crash can terminate the orphaned
// capture before accepting clients.
package bridge
