// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procinfo looks up processes by pid through gopsutil: the
// target a client asks to monitor, and orphaned capture processes left
// by a previous server instance.
package procinfo
