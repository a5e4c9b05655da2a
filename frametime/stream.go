// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frametime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bureau-foundation/framebridge/lib/lineio"
)

// maxCaptureLine bounds one line of capture output. PresentMon rows
// with every column enabled are a few hundred bytes. Longer lines are
// discarded and reading continues.
const maxCaptureLine = 64 * 1024

// Consume feeds every line of r to the engine until r reaches EOF, r
// fails, or ctx is cancelled. Cancellation does not interrupt a blocked
// read: the caller closes r (by stopping the session) to unblock it.
// EOF and reads from an already-closed file return nil. An oversized
// line counts as malformed and is skipped.
func (e *Engine) Consume(ctx context.Context, r io.Reader) error {
	lines := lineio.NewReader(r, maxCaptureLine)
	for {
		line, err := lines.Next()
		if ctx.Err() != nil {
			return nil
		}
		var tooLong *lineio.TooLongError
		switch {
		case err == nil:
			e.ProcessLine(string(line))
		case errors.As(err, &tooLong):
			e.rejectOversized(err)
		case errors.Is(err, io.EOF), isClosedRead(err):
			return nil
		default:
			return fmt.Errorf("reading capture output: %w", err)
		}
	}
}

// LogStream logs every non-blank line of r at warn level until EOF or
// ctx cancellation. Used for the capture tool's stderr, which carries
// only human-readable diagnostics.
func LogStream(ctx context.Context, r io.Reader, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	lines := lineio.NewReader(r, maxCaptureLine)
	for {
		raw, err := lines.Next()
		if ctx.Err() != nil {
			return nil
		}
		var tooLong *lineio.TooLongError
		switch {
		case err == nil:
			if line := strings.TrimSpace(string(raw)); line != "" {
				logger.Warn("capture tool stderr", "line", line)
			}
		case errors.As(err, &tooLong):
			logger.Warn("capture tool stderr line discarded", "length", tooLong.Length)
		case errors.Is(err, io.EOF), isClosedRead(err):
			return nil
		default:
			return fmt.Errorf("reading capture diagnostics: %w", err)
		}
	}
}

// isClosedRead reports whether err came from reading a pipe whose read
// end was closed out from under the reader during session teardown.
func isClosedRead(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
