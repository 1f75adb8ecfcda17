// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceMovesNow(t *testing.T) {
	fake := Fake(epoch)
	if got := fake.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	fake.Advance(42 * time.Second)
	if got, want := fake.Now(), epoch.Add(42*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfter(t *testing.T) {
	fake := Fake(epoch)
	ch := fake.After(5 * time.Second)

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(1 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-fake.After(d):
		default:
			t.Fatalf("After(%v) should deliver immediately", d)
		}
	}
}

func TestFakeAfterFuncStopAndReset(t *testing.T) {
	fake := Fake(epoch)
	var fired atomic.Int32
	timer := fake.AfterFunc(3*time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
	fake.Advance(5 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("stopped timer fired")
	}

	// Reset re-arms a stopped timer.
	if timer.Reset(2 * time.Second) {
		t.Fatal("Reset on a stopped timer should report inactive")
	}
	fake.Advance(2 * time.Second)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times after re-arm, want 1", got)
	}
}

func TestFakeCallbacksFireInDeadlineOrder(t *testing.T) {
	fake := Fake(epoch)

	var mu sync.Mutex
	var order []int
	for _, seconds := range []int{3, 1, 2} {
		fake.AfterFunc(time.Duration(seconds)*time.Second, func() {
			mu.Lock()
			order = append(order, seconds)
			mu.Unlock()
		})
	}

	fake.Advance(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks fired as %v, want [1 2 3]", order)
	}
}

func TestFakeOneShotFiresOnce(t *testing.T) {
	fake := Fake(epoch)
	var fired atomic.Int32
	fake.AfterFunc(time.Second, func() { fired.Add(1) })

	fake.Advance(time.Second)
	fake.Advance(time.Second)
	if got := fired.Load(); got != 1 {
		t.Fatalf("one-shot fired %d times, want 1", got)
	}
}

func TestFakeTicker(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	for tick := 0; tick < 3; tick++ {
		fake.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("no tick after interval %d", tick+1)
		}
	}
}

func TestFakeTickerDropsUnreadTicks(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	// Five intervals without a reader: buffer capacity is 1, the rest
	// must drop.
	fake.Advance(5 * time.Second)

	select {
	case <-ticker.C:
	default:
		t.Fatal("expected one buffered tick")
	}
	select {
	case <-ticker.C:
		t.Fatal("extra ticks should have been dropped")
	default:
	}
}

func TestFakeTickerStopAndReset(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(10 * time.Second)

	ticker.Reset(time.Second)
	fake.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick after Reset to a shorter interval")
	}

	ticker.Stop()
	fake.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("tick delivered after Stop")
	default:
	}
}

func TestFakeTickerPanicsOnNonPositiveInterval(t *testing.T) {
	fake := Fake(epoch)
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) should panic")
		}
	}()
	fake.NewTicker(0)
}

func TestFakeSleepUnblocksOnAdvance(t *testing.T) {
	fake := Fake(epoch)

	done := make(chan struct{})
	go func() {
		fake.Sleep(3 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(3 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeWaitForTimersAndPendingCount(t *testing.T) {
	fake := Fake(epoch)

	for i := 0; i < 3; i++ {
		go fake.Sleep(5 * time.Second)
	}
	fake.WaitForTimers(3)
	if got := fake.PendingCount(); got != 3 {
		t.Fatalf("PendingCount() = %d, want 3", got)
	}

	fake.Advance(5 * time.Second)
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() after firing = %d, want 0", got)
	}
}

func TestFakePendingCountExcludesStopped(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(time.Second)
	fake.After(2 * time.Second)

	ticker.Stop()
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1", got)
	}
}

func TestClockInterfaceSatisfied(t *testing.T) {
	var _ Clock = (*FakeClock)(nil)
	var _ Clock = Real()
}
