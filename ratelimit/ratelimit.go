// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit is the per-session admission gate in front of the
// query executor. Each session gets a rolling window of admission
// timestamps; a query is admitted only while the window holds fewer
// than the configured limit. Rejections carry the duration until the
// oldest admission expires so callers can surface a Retry-After.
//
// Expired timestamps are evicted lazily, on the next admission check
// for that session; there is no background sweeper. Rejected queries
// never touch container or task state.
package ratelimit

import (
	"sync"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

const (
	// DefaultLimit is the number of admissions allowed per window.
	DefaultLimit = 5

	// DefaultWindow is the rolling window width.
	DefaultWindow = 60 * time.Second
)

// Config configures a Limiter. Zero values select the package
// defaults.
type Config struct {
	// Limit is the number of admissions allowed per session per
	// window.
	Limit int

	// Window is the rolling window width.
	Window time.Duration

	// Clock drives window arithmetic. Defaults to clock.Real(); tests
	// inject clock.Fake.
	Clock clock.Clock
}

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the query was admitted. An admitted
	// query consumes one window slot.
	Allowed bool

	// Remaining is the number of further admissions the session's
	// window can absorb right now.
	Remaining int

	// RetryAfter is the duration until the session's oldest admission
	// leaves the window. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter tracks per-session admission history. Safe for concurrent
// use.
type Limiter struct {
	limit  int
	window time.Duration
	clk    clock.Clock

	mu     sync.Mutex
	stamps map[string][]time.Time
}

// New creates a Limiter.
func New(config Config) *Limiter {
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Limiter{
		limit:  config.Limit,
		window: config.Window,
		clk:    config.Clock,
		stamps: make(map[string][]time.Time),
	}
}

// Allow checks and, when the window has room, records one admission
// for the session. Timestamps at or beyond the window edge are evicted
// first, so a slot frees exactly one window after its admission.
func (l *Limiter) Allow(session string) Decision {
	now := l.clk.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.stamps[session]
	live := stamps[:0]
	for _, stamp := range stamps {
		if stamp.After(cutoff) {
			live = append(live, stamp)
		}
	}

	if len(live) >= l.limit {
		l.stamps[session] = live
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: live[0].Add(l.window).Sub(now),
		}
	}

	live = append(live, now)
	l.stamps[session] = live
	return Decision{
		Allowed:   true,
		Remaining: l.limit - len(live),
	}
}

// Forget discards the session's admission history. Called when a
// container is recycled: the session identity is destroyed with it,
// so a successor under the same name starts with a clean window.
func (l *Limiter) Forget(session string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.stamps, session)
}

// Sessions returns the number of sessions with recorded history,
// including sessions whose stamps have all expired but have not been
// checked since. Exposed on the daemon status surface.
func (l *Limiter) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stamps)
}
