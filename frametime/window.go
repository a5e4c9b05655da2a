// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frametime

import "fmt"

// DefaultWindowSize is the number of frame times retained for the
// rolling statistics. At 144 FPS this is about seven seconds of frames;
// the 0.1% low needs at least 1000 samples to mean a single frame.
const DefaultWindowSize = 1000

// Window is a fixed-capacity circular buffer of frame times. Pushing
// into a full window evicts the oldest value. Window is not safe for
// concurrent use; its owning Engine serializes access.
type Window struct {
	values   []float64
	capacity int
	// start is the position of the oldest value; length is the number
	// of values stored (at most capacity).
	start  int
	length int
}

// NewWindow creates an empty window holding at most capacity values.
// The capacity must be positive.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		panic(fmt.Sprintf("frametime: window capacity must be positive, got %d", capacity))
	}
	return &Window{
		values:   make([]float64, capacity),
		capacity: capacity,
	}
}

// Push appends a value, evicting the oldest one if the window is full.
func (w *Window) Push(value float64) {
	if w.length < w.capacity {
		w.values[(w.start+w.length)%w.capacity] = value
		w.length++
		return
	}
	w.values[w.start] = value
	w.start = (w.start + 1) % w.capacity
}

// Len returns the number of values currently stored.
func (w *Window) Len() int { return w.length }

// Capacity returns the maximum number of values the window retains.
func (w *Window) Capacity() int { return w.capacity }

// Values returns a copy of the stored values, oldest first.
func (w *Window) Values() []float64 {
	result := make([]float64, w.length)
	for i := range w.length {
		result[i] = w.values[(w.start+i)%w.capacity]
	}
	return result
}

// Reset empties the window without releasing its storage.
func (w *Window) Reset() {
	w.start = 0
	w.length = 0
}
