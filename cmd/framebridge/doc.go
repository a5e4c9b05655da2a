// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Framebridge is the command-line client for framebridge-server. It
// checks the server (ping), monitors a process and prints its frame
// statistics (start), shows them in a live terminal view (watch), and
// stops a running capture (stop).
package main
