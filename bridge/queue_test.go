// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"sync"
	"testing"

	"github.com/bureau-foundation/framebridge/lib/ipc"
)

func snapshot(fps float64) ipc.MetricsPayload {
	return ipc.MetricsPayload{FPS: fps}
}

func TestPushQueueFIFO(t *testing.T) {
	queue := NewPushQueue(4)
	for _, fps := range []float64{1, 2, 3} {
		if queue.Push(snapshot(fps)) {
			t.Fatalf("Push(%v) reported a drop below capacity", fps)
		}
	}
	for _, want := range []float64{1, 2, 3} {
		got, ok := queue.Pop()
		if !ok {
			t.Fatalf("Pop: queue empty, want %v", want)
		}
		if got.FPS != want {
			t.Errorf("Pop = %v, want %v", got.FPS, want)
		}
	}
	if _, ok := queue.Pop(); ok {
		t.Error("Pop on empty queue returned a value")
	}
}

func TestPushQueueDropsOldest(t *testing.T) {
	queue := NewPushQueue(3)
	for fps := 1.0; fps <= 5; fps++ {
		queue.Push(snapshot(fps))
	}
	if queue.Len() != 3 {
		t.Fatalf("Len = %d, want 3", queue.Len())
	}
	if queue.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", queue.Dropped())
	}
	for _, want := range []float64{3, 4, 5} {
		got, _ := queue.Pop()
		if got.FPS != want {
			t.Errorf("Pop = %v, want %v", got.FPS, want)
		}
	}
}

func TestPushQueueNotifyCoalesces(t *testing.T) {
	queue := NewPushQueue(8)
	queue.Push(snapshot(1))
	queue.Push(snapshot(2))

	select {
	case <-queue.Notify():
	default:
		t.Fatal("no notification after Push")
	}
	select {
	case <-queue.Notify():
		t.Fatal("second notification for pushes made before the first receive")
	default:
	}
	if queue.Len() != 2 {
		t.Errorf("Len = %d, want 2", queue.Len())
	}
}

func TestPushQueueConcurrentProducers(t *testing.T) {
	queue := NewPushQueue(16)
	var group sync.WaitGroup
	for producer := range 4 {
		group.Add(1)
		go func() {
			defer group.Done()
			for i := range 100 {
				queue.Push(snapshot(float64(producer*1000 + i)))
			}
		}()
	}
	group.Wait()

	if queue.Len() != 16 {
		t.Errorf("Len = %d, want 16", queue.Len())
	}
	if queue.Dropped() != 400-16 {
		t.Errorf("Dropped = %d, want %d", queue.Dropped(), 400-16)
	}
}

func TestNewPushQueueRejectsZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewPushQueue(0) did not panic")
		}
	}()
	NewPushQueue(0)
}
