// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"sync"

	"github.com/bureau-foundation/warren/gateway"
	"github.com/bureau-foundation/warren/lib/cgroup"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lifecycle"
)

// sessionLister is the slice of the lifecycle manager the collector
// reads.
type sessionLister interface {
	List() []lifecycle.Snapshot
}

// usageCollector joins the container registry with cgroup samples to
// produce the rows behind GET /metrics/containers. It also retires
// sampler baselines for containers that disappeared, so the CPU delta
// state does not accumulate recycled runtime IDs.
type usageCollector struct {
	sessions sessionLister
	sampler  *cgroup.Sampler
	clk      clock.Clock

	mu   sync.Mutex
	seen map[string]string // container name → runtime ID last collection
}

func newUsageCollector(sessions sessionLister, sampler *cgroup.Sampler, clk clock.Clock) *usageCollector {
	return &usageCollector{
		sessions: sessions,
		sampler:  sampler,
		clk:      clk,
		seen:     make(map[string]string),
	}
}

// Collect samples every active container once.
func (u *usageCollector) Collect(ctx context.Context) []gateway.ContainerUsage {
	snapshots := u.sessions.List()
	active := make(map[string]string, len(snapshots))
	rows := make([]gateway.ContainerUsage, 0, len(snapshots))
	now := u.clk.Now()

	for _, snapshot := range snapshots {
		if !snapshot.Active || snapshot.RuntimeID == "" {
			continue
		}
		active[snapshot.Name] = snapshot.RuntimeID
		stats := u.sampler.Sample(snapshot.RuntimeID)
		rows = append(rows, gateway.ContainerUsage{
			Name:          snapshot.Name,
			CPUPercent:    stats.CPUPercent,
			MemoryBytes:   stats.MemoryBytes,
			MemoryLimit:   stats.MemoryLimitBytes,
			UptimeSeconds: int64(now.Sub(snapshot.CreatedAt).Seconds()),
		})
	}

	u.mu.Lock()
	for name, id := range u.seen {
		if active[name] != id {
			u.sampler.Forget(id)
		}
	}
	u.seen = active
	u.mu.Unlock()

	return rows
}
