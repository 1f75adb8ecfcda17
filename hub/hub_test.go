// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package hub_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lib/testutil"
)

const receiveTimeout = 5 * time.Second

func testEpoch() time.Time {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
}

// requireEvent receives one event and asserts its kind.
func requireEvent(t *testing.T, sub *hub.Subscription, kind string) hub.Event {
	t.Helper()
	event := testutil.RequireReceive(t, sub.Events(), receiveTimeout, "waiting for %s", kind)
	if event.Kind != kind {
		t.Fatalf("event kind = %q, want %q (payload %v)", event.Kind, kind, event.Payload)
	}
	return event
}

// requireStreamClosed drains any buffered events and then asserts the
// subscription's channel is closed.
func requireStreamClosed(t *testing.T, sub *hub.Subscription) {
	t.Helper()
	deadline := time.After(receiveTimeout)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for subscription channel to close")
		}
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Clock: clock.Fake(testEpoch())})
	defer h.Close()

	sub := h.Subscribe()
	defer sub.Close()
	requireEvent(t, sub, hub.KindHubStateChanged)

	h.Publish(hub.KindContainerStopped, "dev-1", map[string]any{"state": "stopped"})
	h.Publish(hub.KindContainerRecycled, "dev-1", nil)

	stopped := requireEvent(t, sub, hub.KindContainerStopped)
	recycled := requireEvent(t, sub, hub.KindContainerRecycled)
	if stopped.Container != "dev-1" || recycled.Container != "dev-1" {
		t.Fatalf("container = %q / %q, want dev-1", stopped.Container, recycled.Container)
	}
	if recycled.ID <= stopped.ID {
		t.Fatalf("event IDs not increasing: stopped=%d recycled=%d", stopped.ID, recycled.ID)
	}
}

func TestEventTimestampsComeFromClock(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(testEpoch())
	h := hub.New(hub.Config{Clock: fake})
	defer h.Close()

	sub := h.Subscribe()
	defer sub.Close()
	requireEvent(t, sub, hub.KindHubStateChanged)

	h.Publish(hub.KindTaskStarted, "dev-1", nil)
	fake.Advance(3 * time.Second)
	h.Publish(hub.KindTaskCompleted, "dev-1", nil)

	first := requireEvent(t, sub, hub.KindTaskStarted)
	second := requireEvent(t, sub, hub.KindTaskCompleted)
	if !first.Timestamp.Equal(testEpoch()) {
		t.Fatalf("first timestamp = %v, want %v", first.Timestamp, testEpoch())
	}
	if got, want := second.Timestamp, testEpoch().Add(3*time.Second); !got.Equal(want) {
		t.Fatalf("second timestamp = %v, want %v", got, want)
	}
}

func TestBacklogDropsOldest(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Backlog: 5, Clock: clock.Fake(testEpoch())})
	defer h.Close()

	sub := h.Subscribe()
	defer sub.Close()
	requireEvent(t, sub, hub.KindHubStateChanged)

	// Six events into a capacity-five queue: the first is evicted and
	// exactly the five most recent remain, in emission order.
	for i := 1; i <= 6; i++ {
		h.Publish(hub.KindTaskStarted, "dev-1", map[string]any{"index": i})
	}
	for want := 2; want <= 6; want++ {
		event := requireEvent(t, sub, hub.KindTaskStarted)
		if got := event.Payload["index"].(int); got != want {
			t.Fatalf("drained index = %d, want %d", got, want)
		}
	}

	stats := h.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", stats.Dropped)
	}
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Backlog: 5, Clock: clock.Fake(testEpoch())})
	defer h.Close()

	slow := h.Subscribe()
	defer slow.Close()
	fast := h.Subscribe()
	defer fast.Close()

	// slow sees its own subscribe plus fast's subscribe; fast sees its
	// own. Leave slow's queue untouched from here on.
	requireEvent(t, fast, hub.KindHubStateChanged)

	// Publish and drain fast in lockstep: fast sees every event while
	// slow's queue overflows repeatedly.
	for i := 1; i <= 20; i++ {
		h.Publish(hub.KindTaskStarted, "dev-1", map[string]any{"index": i})
		event := requireEvent(t, fast, hub.KindTaskStarted)
		if got := event.Payload["index"].(int); got != i {
			t.Fatalf("fast subscriber got index %d, want %d", got, i)
		}
	}

	// slow's queue holds the newest five; both state-change events and
	// indexes 1 through 15 were evicted.
	for want := 16; want <= 20; want++ {
		event := requireEvent(t, slow, hub.KindTaskStarted)
		if got := event.Payload["index"].(int); got != want {
			t.Fatalf("slow subscriber got index %d, want %d", got, want)
		}
	}
}

func TestSustainedEvictionForcesDisconnect(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Backlog: 2, EvictionLimit: 3, Clock: clock.Fake(testEpoch())})
	defer h.Close()

	stuck := h.Subscribe()

	// Fill the queue (the subscribe state-change occupies one slot),
	// then keep publishing. Each overflow increments the eviction
	// streak; the third consecutive eviction cuts the subscriber.
	h.Publish(hub.KindTaskStarted, "dev-1", nil)
	for i := 0; i < 3; i++ {
		h.Publish(hub.KindTaskStarted, "dev-1", nil)
	}

	requireStreamClosed(t, stuck)

	stats := h.Stats()
	if stats.Disconnected != 1 {
		t.Fatalf("Disconnected = %d, want 1", stats.Disconnected)
	}
	if stats.Subscribers != 0 {
		t.Fatalf("Subscribers = %d, want 0", stats.Subscribers)
	}

	// A healthy subscriber arriving afterwards still gets service.
	healthy := h.Subscribe()
	defer healthy.Close()
	requireEvent(t, healthy, hub.KindHubStateChanged)
	h.Publish(hub.KindTaskCompleted, "dev-1", nil)
	requireEvent(t, healthy, hub.KindTaskCompleted)
}

func TestForcedDisconnectNotifiesRemainingSubscribers(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Backlog: 2, EvictionLimit: 3, Clock: clock.Fake(testEpoch())})
	defer h.Close()

	observer := h.Subscribe()
	defer observer.Close()
	requireEvent(t, observer, hub.KindHubStateChanged)

	stuck := h.Subscribe()
	_ = stuck
	requireEvent(t, observer, hub.KindHubStateChanged)

	// Keep the observer drained while the stuck subscriber overflows.
	done := make(chan hub.Event, 1)
	go func() {
		for event := range observer.Events() {
			if event.Kind == hub.KindHubStateChanged && event.Payload["change"] == "evicted" {
				done <- event
				return
			}
		}
	}()

	for i := 0; i < 8; i++ {
		h.Publish(hub.KindTaskStarted, "dev-1", nil)
	}

	event := testutil.RequireReceive(t, done, receiveTimeout, "waiting for eviction notice")
	if got := event.Payload["subscribers"].(int); got != 1 {
		t.Fatalf("subscribers after eviction = %d, want 1", got)
	}
}

func TestSubscribeFromReplaysRing(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Clock: clock.Fake(testEpoch())})
	defer h.Close()

	for i := 1; i <= 5; i++ {
		h.Publish(hub.KindTaskStarted, "dev-1", map[string]any{"index": i})
	}

	// Resume after event 2: replay delivers 3, 4, 5 before anything
	// live.
	sub := h.SubscribeFrom(2)
	defer sub.Close()
	for want := 3; want <= 5; want++ {
		event := requireEvent(t, sub, hub.KindTaskStarted)
		if got := event.ID; got != uint64(want) {
			t.Fatalf("replayed event ID = %d, want %d", got, want)
		}
	}
	// The subscription's own state-change event follows the replay.
	requireEvent(t, sub, hub.KindHubStateChanged)
}

func TestReplayRingIsBounded(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Replay: 3, Clock: clock.Fake(testEpoch())})
	defer h.Close()

	for i := 1; i <= 5; i++ {
		h.Publish(hub.KindTaskStarted, "dev-1", map[string]any{"index": i})
	}

	// Events 1 and 2 have fallen out of the ring; replay-from-zero
	// yields only the retained tail.
	sub := h.SubscribeFrom(0)
	defer sub.Close()
	for want := 3; want <= 5; want++ {
		event := requireEvent(t, sub, hub.KindTaskStarted)
		if got := event.ID; got != uint64(want) {
			t.Fatalf("replayed event ID = %d, want %d", got, want)
		}
	}
	requireEvent(t, sub, hub.KindHubStateChanged)
}

func TestSubscriberSetChangesAreAnnounced(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Clock: clock.Fake(testEpoch())})
	defer h.Close()

	first := h.Subscribe()
	defer first.Close()
	event := requireEvent(t, first, hub.KindHubStateChanged)
	if got := event.Payload["subscribers"].(int); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}
	if got := event.Payload["change"]; got != "subscribe" {
		t.Fatalf("change = %v, want subscribe", got)
	}

	second := h.Subscribe()
	event = requireEvent(t, first, hub.KindHubStateChanged)
	if got := event.Payload["subscribers"].(int); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	second.Close()
	event = requireEvent(t, first, hub.KindHubStateChanged)
	if got := event.Payload["subscribers"].(int); got != 1 {
		t.Fatalf("subscribers after unsubscribe = %d, want 1", got)
	}
	if got := event.Payload["change"]; got != "unsubscribe" {
		t.Fatalf("change = %v, want unsubscribe", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Clock: clock.Fake(testEpoch())})
	defer h.Close()

	sub := h.Subscribe()
	sub.Close()
	sub.Close()
	h.Unsubscribe(sub)

	requireStreamClosed(t, sub)
	if got := h.Stats().Subscribers; got != 0 {
		t.Fatalf("Subscribers = %d, want 0", got)
	}
}

func TestCloseDisconnectsEverything(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Clock: clock.Fake(testEpoch())})

	first := h.Subscribe()
	second := h.Subscribe()

	h.Close()
	h.Close()

	requireStreamClosed(t, first)
	requireStreamClosed(t, second)

	// Publish and subscribe after close are inert.
	before := h.Stats().Published
	h.Publish(hub.KindTaskStarted, "dev-1", nil)
	if got := h.Stats().Published; got != before {
		t.Fatalf("Published advanced after Close: %d -> %d", before, got)
	}
	late := h.Subscribe()
	requireStreamClosed(t, late)
}

func TestConcurrentPublishersKeepOrdering(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.Config{Backlog: 1000, Clock: clock.Fake(testEpoch())})
	defer h.Close()

	sub := h.Subscribe()
	defer sub.Close()

	const publishers = 4
	const perPublisher = 50

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				h.Publish(hub.KindTaskStarted, "dev-1", nil)
			}
		}()
	}
	wg.Wait()

	// One subscribe announcement plus every published event, IDs
	// strictly increasing in delivery order.
	total := publishers*perPublisher + 1
	var lastID uint64
	for i := 0; i < total; i++ {
		event := testutil.RequireReceive(t, sub.Events(), receiveTimeout, "event %d of %d", i+1, total)
		if event.ID <= lastID {
			t.Fatalf("event ID %d not greater than previous %d", event.ID, lastID)
		}
		lastID = event.ID
	}
	if got := h.Stats().Published; got != uint64(total) {
		t.Fatalf("Published = %d, want %d", got, total)
	}
}
