// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lineio reads newline-delimited input with a per-line length
// limit that, unlike [bufio.Scanner], survives an oversized line: the
// line is discarded up to its newline, reported once, and reading
// continues with the next line.
package lineio
