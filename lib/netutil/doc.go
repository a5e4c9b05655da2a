// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors that occur during normal teardown
// of a bridge connection, so callers can tell a client that went away
// from a transport failure worth logging.
package netutil
