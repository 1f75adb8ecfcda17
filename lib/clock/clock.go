// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that warren's polling loops are testable.
//
// The completion detector, health prober, rate limiter, circuit breaker,
// and SSE heartbeat all run on timers. Production code injects Real();
// tests inject Fake() and drive it explicitly with Advance, so no test
// waits on wall-clock time. Structs that need time carry a clock.Clock
// field instead of calling the time package directly.
//
// The usual test sequence:
//
//	fake := clock.Fake(time.Unix(0, 0))
//	// ... start the loop under test ...
//	fake.WaitForTimers(1)          // loop has registered its timer
//	fake.Advance(30 * time.Second) // fire it deterministically
package clock

import "time"

// Clock is the time surface warren components depend on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run once d has elapsed. The returned
	// Timer cancels the pending call via Stop; its C field is nil,
	// matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. C has capacity 1: ticks a slow
// consumer misses are dropped, not queued, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop ends tick delivery. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the interval and restarts the cycle; the next tick
// arrives after the new duration.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a single scheduled event. For AfterFunc timers C is nil.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the timer. Returns false if it already fired or was
// already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer for d from now. Returns whether the timer was
// still pending before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Real returns the Clock backed by the time package.
func Real() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (systemClock) Sleep(d time.Duration)                  { time.Sleep(d) }

func (systemClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop, reset: timer.Reset}
}

func (systemClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop, reset: ticker.Reset}
}
