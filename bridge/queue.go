// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/framebridge/lib/ipc"
)

// DefaultPushQueue is the push queue capacity when the server's
// PushQueue is zero.
const DefaultPushQueue = 64

// PushQueue is a bounded FIFO of metrics snapshots between the frame
// engine (producer) and the sender goroutine (consumer). When a Push
// would exceed the capacity, the oldest snapshot is dropped: a client
// that falls behind sees the newest statistics rather than stalling
// the parser.
//
// The notify channel (capacity 1) wakes the sender when snapshots are
// queued. The sender selects on Notify() alongside its context and
// drains with Pop until the queue is empty.
//
// Thread-safe: all methods may be called concurrently.
type PushQueue struct {
	mu       sync.Mutex
	entries  []ipc.MetricsPayload
	capacity int
	dropped  uint64
	notify   chan struct{}
}

// NewPushQueue creates a queue holding at most capacity snapshots.
// The capacity must be positive.
func NewPushQueue(capacity int) *PushQueue {
	if capacity <= 0 {
		panic(fmt.Sprintf("push queue: capacity must be positive, got %d", capacity))
	}
	return &PushQueue{
		entries:  make([]ipc.MetricsPayload, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends a snapshot, dropping the oldest if the queue is full.
// It reports whether a snapshot was dropped.
func (q *PushQueue) Push(payload ipc.MetricsPayload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.entries) == q.capacity {
		copy(q.entries, q.entries[1:])
		q.entries = q.entries[:len(q.entries)-1]
		q.dropped++
		dropped = true
	}
	q.entries = append(q.entries, payload)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes and returns the oldest snapshot. The second result is
// false when the queue is empty.
func (q *PushQueue) Pop() (ipc.MetricsPayload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ipc.MetricsPayload{}, false
	}
	payload := q.entries[0]
	copy(q.entries, q.entries[1:])
	q.entries = q.entries[:len(q.entries)-1]
	return payload, true
}

// Len returns the number of queued snapshots.
func (q *PushQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns the number of snapshots dropped since creation.
func (q *PushQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify returns a channel that receives a signal when snapshots have
// been queued since the last receive.
func (q *PushQueue) Notify() <-chan struct{} {
	return q.notify
}
