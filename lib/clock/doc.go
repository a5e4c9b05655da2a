// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The bridge client's request timeouts and the watch command's
// heartbeat ticker take a Clock instead of calling the time package, so
// tests can drive them deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := &bridgeclient.Client{Clock: fake}
//	go client.StartMonitoring(ctx, 42, "game.exe")
//	fake.WaitForTimers(1)            // the request registered its timeout
//	fake.Advance(5 * time.Second)    // and now it fires
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing past it.
package clock
