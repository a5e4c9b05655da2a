// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the newline-delimited JSON messages exchanged
// between the framebridge server and its client over the bridge pipe.
// Both bridge and bridgeclient import this package so the wire types
// are defined once rather than mirrored.
//
// Each message kind is its own Go type implementing [Message]; a value
// can only carry the payload its kind allows. [Encode] produces one
// line of JSON terminated by '\n'; [Decode] parses one line and reports
// malformed input as a [*DecodeError] and unrecognized kinds as an
// [*UnknownKindError]. Neither error is fatal to a connection: callers
// log the line and keep reading.
package ipc
