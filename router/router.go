// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package router delivers operator notifications through the external
// message broker, guarding it with a circuit breaker and an in-memory
// per-target fallback queue.
//
// Accepted messages are never dropped silently: while the transport is
// healthy they flow straight through; while it is degraded they queue
// per target (bounded, overflow rejected loudly) and drain in FIFO
// order once the breaker closes again. The caller's contract is
// acceptance, not delivery — transport trouble is surfaced through
// transport.degraded / transport.recovered events, not through Route's
// return value.
package router

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/warren/broker"
	"github.com/bureau-foundation/warren/fault"
	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/clock"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	// StateClosed: healthy, traffic flows to the broker.
	StateClosed BreakerState = "closed"
	// StateOpen: degraded, traffic queues in memory; only the periodic
	// health probe touches the broker.
	StateOpen BreakerState = "open"
	// StateHalfOpen: a health probe succeeded; one real delivery is in
	// flight to decide between closed and open.
	StateHalfOpen BreakerState = "half_open"
)

// Transport is the delivery surface the router drives. *broker.Client
// satisfies it.
type Transport interface {
	Publish(ctx context.Context, message broker.Message) error
	Healthy(ctx context.Context) error
}

// messageDomainKey is the BLAKE3 keyed-hash domain for message digests:
// the ASCII domain name zero-padded to 32 bytes.
var messageDomainKey = [32]byte{
	'w', 'a', 'r', 'r', 'e', 'n', '.', 'm', 'e', 's', 's', 'a', 'g', 'e',
}

// queuedMessage is one fallback-queue entry. The digest identifies this
// enqueued instance (identical bodies enqueued twice are two entries)
// and is what the drain's delivered-once bookkeeping tracks.
type queuedMessage struct {
	message broker.Message
	digest  string
}

// Config configures a Router.
type Config struct {
	// Transport delivers messages. Required.
	Transport Transport

	// Hub receives transport.degraded / transport.recovered events.
	// Required.
	Hub *hub.Hub

	// FailureThreshold is the number of consecutive transient delivery
	// failures that opens the breaker. Default 5.
	FailureThreshold int

	// ProbeInterval is the cadence of the background probe loop: health
	// checks while open, straggler drains while closed. Default 30s.
	ProbeInterval time.Duration

	// QueueCapacity bounds each target's fallback queue. Default 1000.
	QueueCapacity int

	// MaxBodyBytes bounds a message body at validation. Default 64 KiB.
	MaxBodyBytes int

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Router routes messages to the broker through the breaker. Safe for
// concurrent use.
type Router struct {
	transport     Transport
	hub           *hub.Hub
	threshold     int
	probeInterval time.Duration
	queueCap      int
	maxBody       int
	clk           clock.Clock
	logger        *slog.Logger

	mu            sync.Mutex
	state         BreakerState
	failures      int
	sequence      uint64
	queues        map[string][]queuedMessage
	draining      map[string]bool
	lastDelivered map[string]string
	delivered     uint64
	rejected      uint64
	overflowed    uint64
}

// Stats is a point-in-time snapshot of the router's counters.
type Stats struct {
	State      BreakerState `json:"state"`
	Failures   int          `json:"failures"`
	Queued     int          `json:"queued"`
	Delivered  uint64       `json:"delivered"`
	Rejected   uint64       `json:"rejected"`
	Overflowed uint64       `json:"overflowed"`
}

// New creates a Router. Panics if a required collaborator is missing.
func New(config Config) *Router {
	if config.Transport == nil {
		panic("router.New: Transport is required")
	}
	if config.Hub == nil {
		panic("router.New: Hub is required")
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 30 * time.Second
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 1000
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 10
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		transport:     config.Transport,
		hub:           config.Hub,
		threshold:     config.FailureThreshold,
		probeInterval: config.ProbeInterval,
		queueCap:      config.QueueCapacity,
		maxBody:       config.MaxBodyBytes,
		clk:           config.Clock,
		logger:        config.Logger,
		state:         StateClosed,
		queues:        make(map[string][]queuedMessage),
		draining:      make(map[string]bool),
		lastDelivered: make(map[string]string),
	}
}

// Route validates and accepts one message for delivery. A nil return
// means accepted: delivered now if the breaker is closed, queued for
// the recovery drain if it is not. PolicyDenied rejects malformed
// messages before any state changes; TransportError rejects when the
// target's fallback queue is full.
func (r *Router) Route(ctx context.Context, message broker.Message) error {
	if err := r.validate(message); err != nil {
		return err
	}

	r.mu.Lock()
	if len(r.queues[message.Target]) >= r.queueCap {
		r.overflowed++
		r.mu.Unlock()
		return fault.New(fault.TransportError,
			"fallback queue for %q is full (%d messages)", message.Target, r.queueCap)
	}
	entry := queuedMessage{message: message, digest: r.digestLocked(message)}
	r.queues[message.Target] = append(r.queues[message.Target], entry)
	deliverNow := r.state == StateClosed
	r.mu.Unlock()

	if deliverNow {
		r.drainTarget(ctx, message.Target)
	}
	return nil
}

// validate applies the admission schema: non-empty target and sender
// identity, non-empty body, body under the size cap.
func (r *Router) validate(message broker.Message) error {
	if strings.TrimSpace(message.Target) == "" {
		return fault.New(fault.PolicyDenied, "message target is required")
	}
	if strings.TrimSpace(message.Sender) == "" {
		return fault.New(fault.PolicyDenied, "message sender identity is required")
	}
	if strings.TrimSpace(message.Body) == "" {
		return fault.New(fault.PolicyDenied, "message body is required")
	}
	if len(message.Body) > r.maxBody {
		return fault.New(fault.PolicyDenied,
			"message body is %d bytes, cap is %d", len(message.Body), r.maxBody)
	}
	return nil
}

// digestLocked assigns the routing-time digest: a keyed BLAKE3 over the
// message fields and a per-router sequence number, so two enqueues of
// the same text are distinct entries. Caller holds r.mu.
func (r *Router) digestLocked(message broker.Message) string {
	r.sequence++
	hasher, err := blake3.NewKeyed(messageDomainKey[:])
	if err != nil {
		panic("router: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	fmt.Fprintf(hasher, "%s\x00%s\x00%s\x00%d",
		message.Target, message.Sender, message.Body, r.sequence)
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

// drainTarget delivers the target's queued messages in order until the
// queue empties, a transient failure stops delivery, or the breaker
// leaves closed. One drain per target at a time; concurrent callers
// return immediately and leave their message to the active drain.
func (r *Router) drainTarget(ctx context.Context, target string) {
	r.mu.Lock()
	if r.draining[target] {
		r.mu.Unlock()
		return
	}
	r.draining[target] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.draining, target)
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		if r.state != StateClosed {
			r.mu.Unlock()
			return
		}
		queue := r.queues[target]
		if len(queue) == 0 {
			r.mu.Unlock()
			return
		}
		head := queue[0]
		if head.digest == r.lastDelivered[target] {
			// A previous drain delivered this entry and was interrupted
			// before removing it. Never send it twice.
			r.popLocked(target)
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		err := r.transport.Publish(ctx, head.message)

		r.mu.Lock()
		switch {
		case err == nil:
			r.lastDelivered[target] = head.digest
			r.popLocked(target)
			r.delivered++
			r.failures = 0
			r.mu.Unlock()

		case broker.Transient(err):
			r.failures++
			opened := r.state == StateClosed && r.failures >= r.threshold
			if opened {
				r.state = StateOpen
			}
			failures := r.failures
			queued := r.queuedLocked()
			r.mu.Unlock()
			if opened {
				r.logger.Warn("message transport degraded, breaker open",
					"failures", failures, "queued", queued)
				r.hub.Publish(hub.KindTransportDegraded, "", map[string]any{
					"state":    string(StateOpen),
					"failures": failures,
					"queued":   queued,
				})
			} else {
				r.logger.Warn("transient delivery failure",
					"target", target, "failures", failures, "error", err)
			}
			return

		default:
			// The broker rejected this message outright; retrying
			// cannot change that. Drop it and keep draining.
			r.popLocked(target)
			r.rejected++
			r.mu.Unlock()
			r.logger.Warn("broker rejected message",
				"target", target, "error", err)
		}
	}
}

// popLocked removes the target's queue head. Caller holds r.mu.
func (r *Router) popLocked(target string) {
	queue := r.queues[target]
	if len(queue) <= 1 {
		delete(r.queues, target)
		return
	}
	r.queues[target] = queue[1:]
}

// queuedLocked is the total count across all fallback queues. Caller
// holds r.mu.
func (r *Router) queuedLocked() int {
	total := 0
	for _, queue := range r.queues {
		total += len(queue)
	}
	return total
}

// queuedTargets returns the targets with backlog, in sorted order so
// the recovery drain is deterministic.
func (r *Router) queuedTargets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]string, 0, len(r.queues))
	for target, queue := range r.queues {
		if len(queue) > 0 {
			targets = append(targets, target)
		}
	}
	sort.Strings(targets)
	return targets
}

// Probe runs one step of the background loop: while open, a health
// check and (on success) the half-open trial; while closed, a drain of
// any stragglers left behind by transient failures.
func (r *Router) Probe(ctx context.Context) {
	r.mu.Lock()
	state := r.state
	queued := r.queuedLocked()
	r.mu.Unlock()

	switch state {
	case StateClosed:
		if queued > 0 {
			r.drainAll(ctx)
		}
	case StateOpen:
		if err := r.transport.Healthy(ctx); err != nil {
			r.logger.Debug("transport health probe failed", "error", err)
			return
		}
		r.halfOpenTrial(ctx)
	}
}

// halfOpenTrial attempts one real delivery after a successful health
// probe. Success (or a permanent rejection, which proves the broker is
// answering) closes the breaker and drains the backlog; a transient
// failure returns to open.
func (r *Router) halfOpenTrial(ctx context.Context) {
	r.mu.Lock()
	if r.state != StateOpen {
		r.mu.Unlock()
		return
	}
	r.state = StateHalfOpen
	target, head, ok := r.firstQueuedLocked()
	r.mu.Unlock()

	if !ok {
		// Nothing queued up while degraded; the health probe is the
		// only evidence there is.
		r.closeBreaker(ctx)
		return
	}

	err := r.transport.Publish(ctx, head.message)

	r.mu.Lock()
	if broker.Transient(err) {
		r.state = StateOpen
		r.mu.Unlock()
		r.logger.Info("half-open trial failed, breaker stays open",
			"target", target, "error", err)
		return
	}
	if err == nil {
		r.lastDelivered[target] = head.digest
		r.delivered++
	} else {
		r.rejected++
		r.logger.Warn("broker rejected message", "target", target, "error", err)
	}
	r.popLocked(target)
	r.mu.Unlock()
	r.closeBreaker(ctx)
}

// firstQueuedLocked returns the head of the first non-empty queue in
// sorted target order. Caller holds r.mu.
func (r *Router) firstQueuedLocked() (string, queuedMessage, bool) {
	targets := make([]string, 0, len(r.queues))
	for target, queue := range r.queues {
		if len(queue) > 0 {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return "", queuedMessage{}, false
	}
	sort.Strings(targets)
	return targets[0], r.queues[targets[0]][0], true
}

// closeBreaker transitions to closed, announces recovery, and drains
// the backlog.
func (r *Router) closeBreaker(ctx context.Context) {
	r.mu.Lock()
	r.state = StateClosed
	r.failures = 0
	queued := r.queuedLocked()
	r.mu.Unlock()

	r.logger.Info("message transport recovered, breaker closed", "queued", queued)
	r.hub.Publish(hub.KindTransportRecovered, "", map[string]any{
		"state":  string(StateClosed),
		"queued": queued,
	})
	if queued > 0 {
		r.drainAll(ctx)
	}
}

// drainAll drains every target's queue, stopping early if a failure
// reopens the breaker mid-way.
func (r *Router) drainAll(ctx context.Context) {
	for _, target := range r.queuedTargets() {
		r.mu.Lock()
		stopped := r.state != StateClosed
		r.mu.Unlock()
		if stopped {
			return
		}
		r.drainTarget(ctx, target)
	}
}

// Run executes the probe loop until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := r.clk.NewTicker(r.probeInterval)
	defer ticker.Stop()
	r.logger.Info("breaker probe loop started", "interval", r.probeInterval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("breaker probe loop stopped")
			return
		case <-ticker.C:
			r.Probe(ctx)
		}
	}
}

// State returns the breaker's current position.
func (r *Router) State() BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		State:      r.state,
		Failures:   r.failures,
		Queued:     r.queuedLocked(),
		Delivered:  r.delivered,
		Rejected:   r.rejected,
		Overflowed: r.overflowed,
	}
}
