// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lineio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// TooLongError reports a line longer than the reader's limit. The line
// has already been discarded.
type TooLongError struct {
	Length int
	Limit  int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("line of %d bytes exceeds the %d byte limit", e.Length, e.Limit)
}

// Reader returns one line at a time from an underlying reader.
type Reader struct {
	reader *bufio.Reader
	limit  int
	line   []byte
}

// NewReader returns a Reader that accepts lines of up to limit bytes,
// not counting the line terminator.
func NewReader(r io.Reader, limit int) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, 4096), limit: limit}
}

// Next returns the next line with its "\n" or "\r\n" terminator
// removed. The slice is only valid until the following call.
//
// A line longer than the limit yields a *TooLongError and the Reader
// stays usable. A final line without a terminator is returned before
// io.EOF. Any other error comes from the underlying reader and ends the
// stream.
func (r *Reader) Next() ([]byte, error) {
	r.line = r.line[:0]
	length := 0
	overflowed := false
	for {
		chunk, err := r.reader.ReadSlice('\n')
		length += len(chunk)
		if !overflowed {
			if len(r.line)+len(chunk) > r.limit+2 {
				overflowed = true
				r.line = r.line[:0]
			} else {
				r.line = append(r.line, chunk...)
			}
		}

		switch {
		case err == nil:
			return r.finish(length, overflowed, chunk)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && length > 0:
			return r.finish(length, overflowed, chunk)
		default:
			return nil, err
		}
	}
}

// finish trims the terminator from the accumulated line. last is the
// final chunk read, used to size the terminator of a discarded line.
func (r *Reader) finish(length int, overflowed bool, last []byte) ([]byte, error) {
	if overflowed {
		switch {
		case bytes.HasSuffix(last, []byte("\r\n")):
			length -= 2
		case bytes.HasSuffix(last, []byte("\n")):
			length--
		}
		return nil, &TooLongError{Length: length, Limit: r.limit}
	}
	line := bytes.TrimSuffix(r.line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > r.limit {
		return nil, &TooLongError{Length: len(line), Limit: r.limit}
	}
	return line, nil
}
