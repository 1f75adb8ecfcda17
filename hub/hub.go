// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub is the bounded event broadcast channel between warren's
// producing components (lifecycle manager, query executor, message
// router) and its observers (the SSE gateway, the CLI event follower).
//
// Publish never blocks the publisher: each subscriber owns a
// fixed-capacity queue, and when a queue is full the oldest queued
// event is evicted to make room. Newer state is more valuable to a
// dashboard than history, so the drop policy is drop-oldest, not
// drop-newest. A subscriber that keeps evicting without ever draining
// is forcibly disconnected so it cannot pin memory indefinitely.
//
// The hub keeps a replay ring of recent events so a reconnecting
// observer can request "everything after event N" and fill the gap a
// dropped connection left, the same reconnect contract terminal
// observers use for raw output history.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

// Event kinds published by warren components. Observers treat unknown
// kinds as opaque signals and re-fetch authoritative state rather than
// guessing at the payload shape.
const (
	// Lifecycle manager.
	KindContainerCreated     = "container.created"
	KindContainerStarted     = "container.started"
	KindContainerStopped     = "container.stopped"
	KindContainerRecycled    = "container.recycled"
	KindContainerHealthCheck = "container.health_check"

	// Query executor.
	KindTaskStarted   = "task.started"
	KindTaskCompleted = "task.completed"
	KindTaskFailed    = "task.failed"

	// The hub itself, on subscriber set changes.
	KindHubStateChanged = "hub.state_changed"

	// Message router, on circuit breaker transitions.
	KindTransportDegraded  = "transport.degraded"
	KindTransportRecovered = "transport.recovered"
)

// Event is an immutable fact broadcast to observers. Events are
// append-only and ordered by ID within a single hub instance; no event
// is mutated after emission.
type Event struct {
	// ID is assigned by the hub at publish time, strictly increasing
	// from 1. Observers store the last ID they saw and pass it to
	// SubscribeFrom on reconnect.
	ID uint64 `json:"event_id"`

	// Kind is one of the Kind* constants.
	Kind string `json:"kind"`

	// Container is the container name the event concerns, empty for
	// events without a container subject (hub and transport kinds).
	Container string `json:"container,omitempty"`

	// Payload carries kind-specific detail. Keys and value shapes are
	// documented at each emission site.
	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp is the hub clock's time at publish.
	Timestamp time.Time `json:"timestamp"`
}

const (
	// DefaultBacklog is the per-subscriber queue capacity.
	DefaultBacklog = 50

	// DefaultReplay is the replay ring capacity.
	DefaultReplay = 100

	// DefaultEvictionLimit is the number of consecutive evicting
	// publishes after which a subscriber is forcibly disconnected.
	// With the default backlog a never-draining subscriber is cut
	// after backlog+limit published events.
	DefaultEvictionLimit = 200
)

// Config configures a Hub. The zero value of each field selects the
// package default.
type Config struct {
	// Backlog is the per-subscriber queue capacity.
	Backlog int

	// Replay is the replay ring capacity.
	Replay int

	// EvictionLimit is the consecutive-eviction threshold for forced
	// disconnect.
	EvictionLimit int

	// Clock stamps events. Defaults to clock.Real(); tests inject
	// clock.Fake for deterministic timestamps.
	Clock clock.Clock

	// Logger receives subscribe, unsubscribe, and forced-disconnect
	// records. Defaults to a discard logger.
	Logger *slog.Logger
}

// Hub fans events out to subscribers. All methods are safe for
// concurrent use.
type Hub struct {
	backlog       int
	replay        int
	evictionLimit int
	clk           clock.Clock
	logger        *slog.Logger

	mu          sync.Mutex
	closed      bool
	nextEventID uint64
	nextConnID  uint64
	subscribers map[uint64]*Subscription

	// ring holds the last len(ring) published events for replay.
	// ringNext is the slot the next event lands in; ringCount is the
	// number of valid entries (ringCount == len(ring) once full).
	ring      []Event
	ringNext  int
	ringCount int

	published    uint64
	dropped      uint64
	disconnected uint64
}

// Stats is a point-in-time snapshot of hub counters, exposed on the
// daemon status surface.
type Stats struct {
	Subscribers  int    `json:"subscribers"`
	Published    uint64 `json:"published"`
	Dropped      uint64 `json:"dropped"`
	Disconnected uint64 `json:"disconnected"`
}

// New creates a Hub.
func New(config Config) *Hub {
	if config.Backlog <= 0 {
		config.Backlog = DefaultBacklog
	}
	if config.Replay <= 0 {
		config.Replay = DefaultReplay
	}
	if config.EvictionLimit <= 0 {
		config.EvictionLimit = DefaultEvictionLimit
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		backlog:       config.Backlog,
		replay:        config.Replay,
		evictionLimit: config.EvictionLimit,
		clk:           config.Clock,
		logger:        config.Logger,
		nextEventID:   1,
		subscribers:   make(map[uint64]*Subscription),
		ring:          make([]Event, config.Replay),
	}
}

// Subscription is one observer's view of the hub. Events arrive on
// Events() in publish order. The channel is closed when the
// subscription ends: by Close, by hub shutdown, or by forced
// disconnect after sustained eviction.
type Subscription struct {
	hub         *Hub
	id          uint64
	events      chan Event
	connectedAt time.Time

	// evictionStreak counts consecutive publishes that had to evict
	// from this subscription's queue. Any publish that fits without
	// eviction resets it: a fitting publish means the consumer drained
	// at least one event since the queue was last full.
	evictionStreak int
}

// ID is the subscription's connection identifier, unique within the
// hub instance. Used in log records.
func (s *Subscription) ID() uint64 { return s.id }

// Events is the subscription's delivery channel.
func (s *Subscription) Events() <-chan Event { return s.events }

// ConnectedAt is the hub clock's time when the subscription was
// created.
func (s *Subscription) ConnectedAt() time.Time { return s.connectedAt }

// Close unsubscribes and closes the delivery channel. Safe to call
// more than once, and safe to call after a forced disconnect.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Subscribe registers a new observer receiving events published after
// this call, with no replay. Emits hub.state_changed. On a closed hub
// the returned subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	return h.subscribe(false, 0)
}

// SubscribeFrom registers a new observer and pre-loads its queue with
// the replay ring's events whose ID exceeds afterID, in order. Pass
// the last event ID seen before a disconnect to resume without a gap;
// pass 0 to replay everything the ring holds. Events older than the
// ring's oldest entry are gone — the observer missed them and should
// re-fetch authoritative state.
func (h *Hub) SubscribeFrom(afterID uint64) *Subscription {
	return h.subscribe(true, afterID)
}

func (h *Hub) subscribe(withReplay bool, afterID uint64) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		hub:         h,
		id:          h.nextConnID,
		connectedAt: h.clk.Now(),
	}
	h.nextConnID++

	if h.closed {
		sub.events = make(chan Event)
		close(sub.events)
		return sub
	}

	// Replay can exceed the backlog capacity; size the queue to hold
	// the full replay so pre-loading never evicts.
	var replay []Event
	if withReplay {
		replay = h.replayAfterLocked(afterID)
	}
	capacity := h.backlog
	if len(replay) > capacity {
		capacity = len(replay)
	}
	sub.events = make(chan Event, capacity)
	for _, event := range replay {
		sub.events <- event
	}

	h.subscribers[sub.id] = sub
	h.logger.Debug("hub subscriber connected",
		"connection_id", sub.id,
		"replayed", len(replay),
		"subscribers", len(h.subscribers))
	h.publishLocked(KindHubStateChanged, "", map[string]any{
		"subscribers": len(h.subscribers),
		"change":      "subscribe",
	})
	return sub
}

// Unsubscribe removes the subscription and closes its channel. No-op
// if the subscription is already gone. Emits hub.state_changed on
// actual removal.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, live := h.subscribers[sub.id]; !live {
		return
	}
	delete(h.subscribers, sub.id)
	close(sub.events)
	h.logger.Debug("hub subscriber disconnected",
		"connection_id", sub.id,
		"subscribers", len(h.subscribers))
	if h.closed {
		return
	}
	h.publishLocked(KindHubStateChanged, "", map[string]any{
		"subscribers": len(h.subscribers),
		"change":      "unsubscribe",
	})
}

// Publish broadcasts an event to every live subscriber. Never blocks:
// a full subscriber queue evicts its oldest event to make room. The
// event ID and timestamp are assigned here, under the hub lock, so
// IDs are strictly increasing in delivery order. Publish on a closed
// hub is a no-op.
func (h *Hub) Publish(kind, container string, payload map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.publishLocked(kind, container, payload)
}

// publishLocked assigns identity, records the event in the replay
// ring, and delivers to every subscriber. Forced disconnects triggered
// by this delivery emit their own hub.state_changed events; the
// recursion is bounded because each disconnect shrinks the subscriber
// set.
func (h *Hub) publishLocked(kind, container string, payload map[string]any) {
	event := Event{
		ID:        h.nextEventID,
		Kind:      kind,
		Container: container,
		Payload:   payload,
		Timestamp: h.clk.Now(),
	}
	h.nextEventID++
	h.published++

	h.ring[h.ringNext] = event
	h.ringNext = (h.ringNext + 1) % len(h.ring)
	if h.ringCount < len(h.ring) {
		h.ringCount++
	}

	var evicted []*Subscription
	for _, sub := range h.subscribers {
		select {
		case sub.events <- event:
			sub.evictionStreak = 0
			continue
		default:
		}

		// Queue full: drop the oldest queued event, then retry. The
		// hub is the only sender, so after the drop there is room —
		// unless the consumer drained concurrently, which only makes
		// more room.
		select {
		case <-sub.events:
			h.dropped++
		default:
		}
		select {
		case sub.events <- event:
		default:
		}

		sub.evictionStreak++
		if sub.evictionStreak >= h.evictionLimit {
			evicted = append(evicted, sub)
		}
	}

	for _, sub := range evicted {
		if _, live := h.subscribers[sub.id]; !live {
			// Already disconnected by a nested state-change publish.
			continue
		}
		delete(h.subscribers, sub.id)
		close(sub.events)
		h.disconnected++
		h.logger.Warn("hub subscriber forcibly disconnected",
			"connection_id", sub.id,
			"eviction_streak", sub.evictionStreak,
			"subscribers", len(h.subscribers))
		h.publishLocked(KindHubStateChanged, "", map[string]any{
			"subscribers": len(h.subscribers),
			"change":      "evicted",
		})
	}
}

// replayAfterLocked returns the ring's events with ID > afterID in
// publish order.
func (h *Hub) replayAfterLocked(afterID uint64) []Event {
	if h.ringCount == 0 {
		return nil
	}
	oldest := (h.ringNext - h.ringCount + len(h.ring)) % len(h.ring)
	var events []Event
	for i := 0; i < h.ringCount; i++ {
		event := h.ring[(oldest+i)%len(h.ring)]
		if event.ID > afterID {
			events = append(events, event)
		}
	}
	return events
}

// Stats returns a snapshot of the hub's counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Subscribers:  len(h.subscribers),
		Published:    h.published,
		Dropped:      h.dropped,
		Disconnected: h.disconnected,
	}
}

// Close shuts the hub down: all subscriber channels are closed and
// subsequent Publish and Subscribe calls become no-ops. Safe to call
// more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.events)
	}
}
