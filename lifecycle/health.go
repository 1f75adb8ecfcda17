// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

// SessionCheck reports whether the terminal session inside the named
// container responds. The daemon wires this to a tmux liveness check
// over docker exec; tests script it.
type SessionCheck func(ctx context.Context, name string) bool

// ProberConfig configures a Prober.
type ProberConfig struct {
	// Manager receives probe outcomes. Required.
	Manager *Manager

	// Runtime answers "is the container running". Required.
	Runtime Runtime

	// SessionAlive is the terminal-session liveness check. Nil skips
	// it, reducing the probe to the runtime check alone.
	SessionAlive SessionCheck

	// Interval is the probe cadence. Default 30s.
	Interval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Prober periodically health-checks every active container. A
// container is healthy when the runtime reports it running and its
// terminal session responds; outcomes feed Manager.RecordProbe, which
// owns promotion and the failure-threshold recycle.
type Prober struct {
	manager      *Manager
	runtime      Runtime
	sessionAlive SessionCheck
	interval     time.Duration
	clk          clock.Clock
	logger       *slog.Logger
}

// NewProber creates a Prober. Panics if Manager or Runtime is
// missing.
func NewProber(config ProberConfig) *Prober {
	if config.Manager == nil {
		panic("lifecycle.NewProber: Manager is required")
	}
	if config.Runtime == nil {
		panic("lifecycle.NewProber: Runtime is required")
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{
		manager:      config.Manager,
		runtime:      config.Runtime,
		sessionAlive: config.SessionAlive,
		interval:     config.Interval,
		clk:          config.Clock,
		logger:       config.Logger,
	}
}

// Run probes on the configured cadence until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := p.clk.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep probes every active container once.
func (p *Prober) Sweep(ctx context.Context) {
	for _, snapshot := range p.manager.List() {
		if !snapshot.Active {
			continue
		}
		healthy := p.probe(ctx, snapshot.Name)
		p.manager.RecordProbe(ctx, snapshot.Name, healthy)
	}
}

func (p *Prober) probe(ctx context.Context, name string) bool {
	info, err := p.runtime.Inspect(ctx, name)
	if err != nil {
		p.logger.Debug("probe inspect failed", "container", name, "error", err)
		return false
	}
	if !info.State.Running {
		return false
	}
	if p.sessionAlive != nil && !p.sessionAlive(ctx, name) {
		p.logger.Debug("probe session check failed", "container", name)
		return false
	}
	return true
}

// JanitorConfig configures a Janitor.
type JanitorConfig struct {
	// Manager performs the actual adoption and idle stops. Required.
	Manager *Manager

	// Interval is the sweep cadence. Default 60s.
	Interval time.Duration

	// IdleTTL stops Ready containers with no task for this long. Zero
	// disables the idle sweep.
	IdleTTL time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Janitor runs the periodic maintenance sweep: adopt containers the
// runtime knows but the registry does not, then stop the ones idle
// past their TTL.
type Janitor struct {
	manager  *Manager
	interval time.Duration
	idleTTL  time.Duration
	clk      clock.Clock
	logger   *slog.Logger
}

// NewJanitor creates a Janitor. Panics if Manager is missing.
func NewJanitor(config JanitorConfig) *Janitor {
	if config.Manager == nil {
		panic("lifecycle.NewJanitor: Manager is required")
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Janitor{
		manager:  config.Manager,
		interval: config.Interval,
		idleTTL:  config.IdleTTL,
		clk:      config.Clock,
		logger:   config.Logger,
	}
}

// Run sweeps on the configured cadence until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := j.clk.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one adoption pass and one idle pass.
func (j *Janitor) Sweep(ctx context.Context) {
	adopted, err := j.manager.AdoptOrphans(ctx)
	if err != nil {
		j.logger.Warn("orphan sweep failed", "error", err)
	} else if adopted > 0 {
		j.logger.Info("adopted orphaned containers", "count", adopted)
	}

	if stopped := j.manager.SweepIdle(ctx, j.idleTTL); stopped > 0 {
		j.logger.Info("stopped idle containers", "count", stopped)
	}
}
