// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only through
// Advance. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	f := &FakeClock{now: initial}
	f.registered = sync.NewCond(&f.mu)
	return f
}

// FakeClock is a deterministic Clock for tests. Timers, tickers, and
// sleeps register as pending entries that fire, in deadline order, when
// Advance moves the clock past them.
//
// AfterFunc callbacks run synchronously inside Advance. Calling Advance
// or Sleep from inside such a callback deadlocks.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	pending    []*pendingTimer
	registered *sync.Cond
}

// pendingTimer is one scheduled event: a timer channel send, a ticker
// tick, or an AfterFunc callback.
type pendingTimer struct {
	fires time.Time

	// ch receives the fire time; nil for AfterFunc entries.
	ch chan time.Time
	// fn runs at fire time; nil for channel entries.
	fn func()
	// every is non-zero for tickers, which re-arm after each fire.
	every time.Duration

	cancelled bool
	// done marks a one-shot entry that already fired, so overlapping
	// Advance calls cannot fire it twice.
	done bool
}

// Now returns the frozen current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot channel entry. Non-positive d delivers
// immediately without registering anything.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.add(&pendingTimer{fires: f.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers a one-shot callback entry. Non-positive d runs f
// synchronously before returning.
func (f *FakeClock) AfterFunc(d time.Duration, fn func()) *Timer {
	f.mu.Lock()
	if d <= 0 {
		f.mu.Unlock()
		fn()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	entry := &pendingTimer{fires: f.now.Add(d), fn: fn}
	f.add(entry)
	f.mu.Unlock()

	return &Timer{
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if entry.cancelled || entry.done {
				return false
			}
			entry.cancelled = true
			return true
		},
		reset: func(d time.Duration) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			active := !entry.cancelled && !entry.done
			entry.cancelled = false
			entry.done = false
			entry.fires = f.now.Add(d)
			if !active {
				// Fired entries were dropped from the pending list;
				// re-arming puts the same entry back.
				f.add(entry)
			}
			return active
		},
	}
}

// NewTicker registers a repeating entry. Panics if d <= 0.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	f.mu.Lock()
	ch := make(chan time.Time, 1)
	entry := &pendingTimer{fires: f.now.Add(d), ch: ch, every: d}
	f.add(entry)
	f.mu.Unlock()

	return &Ticker{
		C: ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			entry.cancelled = true
		},
		reset: func(d time.Duration) {
			f.mu.Lock()
			defer f.mu.Unlock()
			entry.every = d
			entry.fires = f.now.Add(d)
			entry.cancelled = false
		},
	}
}

// Sleep blocks until the clock advances past d. Non-positive d returns
// immediately.
func (f *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-f.After(d)
}

// Advance moves the clock forward by d, firing every entry whose
// deadline falls within the new time, earliest first. Channel sends are
// non-blocking (a full buffer drops the tick, like time.Ticker);
// callbacks run synchronously in the calling goroutine. Tickers that
// span several intervals fire once per interval.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now
	f.mu.Unlock()

	for {
		entry := f.takeNextExpired(target)
		if entry == nil {
			return
		}
		if entry.fn != nil {
			entry.fn()
		} else {
			select {
			case entry.ch <- target:
			default:
			}
		}
	}
}

// takeNextExpired pops the earliest entry due at or before target,
// re-arming tickers and marking one-shots done. Cancelled entries are
// dropped on the way. Returns nil when nothing else is due.
func (f *FakeClock) takeNextExpired(target time.Time) *pendingTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.pending) > 0 {
		entry := f.pending[0]
		if entry.cancelled {
			f.pending = f.pending[1:]
			continue
		}
		if entry.fires.After(target) {
			// The pending list is deadline-sorted: nothing later in
			// it can be due either.
			return nil
		}
		f.pending = f.pending[1:]
		if entry.every > 0 {
			fired := *entry
			entry.fires = entry.fires.Add(entry.every)
			f.add(entry)
			return &fired
		}
		entry.done = true
		return entry
	}
	return nil
}

// add inserts an entry keeping the pending list sorted by deadline.
// Caller holds f.mu.
func (f *FakeClock) add(entry *pendingTimer) {
	position := len(f.pending)
	for i, existing := range f.pending {
		if entry.fires.Before(existing.fires) {
			position = i
			break
		}
	}
	f.pending = append(f.pending, nil)
	copy(f.pending[position+1:], f.pending[position:])
	f.pending[position] = entry
	f.registered.Broadcast()
}

// WaitForTimers blocks until at least n entries are pending. Use this
// before Advance to eliminate the race between a goroutine registering
// its timer and the test firing it.
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.registered.Wait()
	}
}

// PendingCount returns the number of live pending entries.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *FakeClock) pendingLocked() int {
	count := 0
	for _, entry := range f.pending {
		if !entry.cancelled {
			count++
		}
	}
	return count
}
