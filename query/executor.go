// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package query drives one prompt through an agent container's
// terminal session and decides when the response is complete.
//
// The protocol is heuristic by nature: the agent is a black box that
// paints a terminal. A prompt is typed into the container's tmux
// session, then the pane is polled on a fixed interval until a
// three-part predicate holds — the completion marker is visible, the
// pane content has been byte-identical for consecutive polls, and the
// idle prompt is back at the tail. Each clause exists to veto a false
// positive the other two admit: the marker alone can appear
// mid-stream inside agent output, stability alone holds during a long
// tool call, and the idle prompt alone reappears while output is
// still streaming above it.
package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/warren/fault"
	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lifecycle"
	"github.com/bureau-foundation/warren/profile"
)

// agentSession is the tmux session name the agent runs in inside
// every container.
const agentSession = "main"

// Terminal is the slice of the tmux controller the executor drives.
// *tmux.Controller satisfies it; tests script one.
type Terminal interface {
	EnsureSession(ctx context.Context, sessionName string, command ...string) error
	SendInterrupt(ctx context.Context, sessionName string) error
	SendText(ctx context.Context, sessionName, text string) error
	SendEnter(ctx context.Context, sessionName string) error
	CapturePane(ctx context.Context, sessionName string, maxLines int) (string, error)
}

// TaskGate is the lifecycle surface the executor claims containers
// through. *lifecycle.Manager satisfies it.
type TaskGate interface {
	BeginTask(name string) (lifecycle.Snapshot, error)
	EndTask(ctx context.Context, name string, recycle bool, reason string) error
}

// Result is the caller-facing outcome of one query.
type Result struct {
	TaskID   string        `json:"task_id"`
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Manager owns container state; the executor claims and releases
	// containers through it. Required.
	Manager TaskGate

	// Terminals returns the terminal driver for a container, usually
	// a tmux controller whose runner is docker exec into it.
	// Required.
	Terminals func(container string) Terminal

	// Profiles supplies the agent launch command when the session
	// must be created. Optional; without it a missing session gets a
	// bare shell.
	Profiles *profile.Store

	// Hub receives task events. Required.
	Hub *hub.Hub

	// Recorder persists task records. Nil disables persistence.
	Recorder Recorder

	// Marker is the completion marker substring. Default "⏺".
	Marker string

	// IdleMarker is the idle-prompt substring expected on the last
	// non-empty pane line once the agent is input-ready. Default "❯".
	IdleMarker string

	// PollInterval is the pane poll cadence. Default 500ms.
	PollInterval time.Duration

	// DefaultTimeout applies when a request omits the timeout.
	// Default 5m.
	DefaultTimeout time.Duration

	// MaxTimeout caps caller-supplied timeouts. Default 1h.
	MaxTimeout time.Duration

	// StabilityPolls is how many consecutive byte-identical polls
	// completion requires. Default 2.
	StabilityPolls int

	// CaptureLines limits each poll to the last N pane lines. Zero
	// captures the full history.
	CaptureLines int

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Executor runs queries one at a time per container. Safe for
// concurrent use across containers; per-container exclusivity is the
// manager's Ready→Processing compare-and-swap.
type Executor struct {
	manager        TaskGate
	terminals      func(string) Terminal
	profiles       *profile.Store
	hub            *hub.Hub
	recorder       Recorder
	marker         string
	idleMarker     string
	pollInterval   time.Duration
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	stabilityPolls int
	captureLines   int
	clk            clock.Clock
	logger         *slog.Logger
}

// NewExecutor creates an Executor. Panics if a required collaborator
// is missing.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.Manager == nil {
		panic("query.NewExecutor: Manager is required")
	}
	if config.Terminals == nil {
		panic("query.NewExecutor: Terminals is required")
	}
	if config.Hub == nil {
		panic("query.NewExecutor: Hub is required")
	}
	if config.Marker == "" {
		config.Marker = "⏺"
	}
	if config.IdleMarker == "" {
		config.IdleMarker = "❯"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Minute
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = time.Hour
	}
	if config.StabilityPolls < 1 {
		config.StabilityPolls = 2
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		manager:        config.Manager,
		terminals:      config.Terminals,
		profiles:       config.Profiles,
		hub:            config.Hub,
		recorder:       config.Recorder,
		marker:         config.Marker,
		idleMarker:     config.IdleMarker,
		pollInterval:   config.PollInterval,
		defaultTimeout: config.DefaultTimeout,
		maxTimeout:     config.MaxTimeout,
		stabilityPolls: config.StabilityPolls,
		captureLines:   config.CaptureLines,
		clk:            config.Clock,
		logger:         config.Logger,
	}
}

// pollOutcome is what the detection loop decided.
type pollOutcome int

const (
	outcomeCompleted pollOutcome = iota
	outcomeTimedOut
	outcomeWedged
	outcomeCancelled
)

// Execute claims the container, injects the prompt, and polls until
// the completion predicate holds, the timeout elapses, or ctx is
// cancelled. Partial output is always returned on timeout. The error,
// when non-nil, carries a fault kind: ContainerNotReady, Timeout,
// Cancelled, or RuntimeUnavailable.
func (e *Executor) Execute(ctx context.Context, container, prompt string, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return Result{}, fault.New(fault.PolicyDenied, "prompt is required")
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout > e.maxTimeout {
		timeout = e.maxTimeout
	}

	snapshot, err := e.manager.BeginTask(container)
	if err != nil {
		return Result{}, err
	}

	start := e.clk.Now()
	task := Task{
		ID:          TaskID(container, prompt, start),
		Container:   container,
		Prompt:      prompt,
		SubmittedAt: start,
		Timeout:     timeout,
		Status:      StatusRunning,
	}

	e.logger.Info("task started",
		"container", container, "task_id", task.ID, "timeout", timeout)
	e.hub.Publish(hub.KindTaskStarted, container, map[string]any{
		"task_id":         task.ID,
		"timeout_seconds": timeout.Seconds(),
	})
	e.record(ctx, task, "start")

	terminal := e.terminals(container)
	if err := e.inject(ctx, terminal, snapshot, prompt); err != nil {
		return Result{}, e.finishExec(ctx, task, err)
	}

	output, outcome := e.detect(ctx, terminal, prompt, start.Add(timeout))
	task.Duration = e.clk.Now().Sub(start)
	task.Output = output

	switch outcome {
	case outcomeCompleted:
		task.Status = StatusCompleted
		task.ExitCode = 0
		if err := e.manager.EndTask(ctx, container, false, ""); err != nil {
			e.logger.Warn("releasing container", "container", container, "error", err)
		}
		e.hub.Publish(hub.KindTaskCompleted, container, map[string]any{
			"task_id":          task.ID,
			"duration_seconds": task.Duration.Seconds(),
		})
		e.record(ctx, task, "finish")
		e.logger.Info("task completed",
			"container", container, "task_id", task.ID, "duration", task.Duration)
		return Result{
			TaskID:   task.ID,
			Success:  true,
			Output:   output,
			Duration: task.Duration,
		}, nil

	case outcomeCancelled:
		task.Status = StatusFailed
		task.ExitCode = 1
		// The caller is gone; don't let their dead context block the
		// release bookkeeping.
		release := context.WithoutCancel(ctx)
		if err := e.manager.EndTask(release, container, false, ""); err != nil {
			e.logger.Warn("releasing container", "container", container, "error", err)
		}
		e.failTask(release, task, "cancelled")
		return Result{
			TaskID:   task.ID,
			Output:   output,
			ExitCode: 1,
			Duration: task.Duration,
		}, fault.New(fault.Cancelled, "query cancelled by caller after %s", task.Duration.Round(time.Millisecond))

	case outcomeWedged:
		task.Status = StatusTimedOut
		task.ExitCode = 1
		release := context.WithoutCancel(ctx)
		if err := e.manager.EndTask(release, container, true, "session wedged"); err != nil {
			e.logger.Warn("recycling wedged container", "container", container, "error", err)
		}
		e.failTask(release, task, "wedged")
		return Result{
			TaskID:   task.ID,
			Output:   output,
			ExitCode: 1,
			Duration: task.Duration,
		}, fault.New(fault.Timeout, "no output from %q for the entire %s window; container recycled", container, timeout)

	default: // outcomeTimedOut
		task.Status = StatusTimedOut
		task.ExitCode = 1
		release := context.WithoutCancel(ctx)
		if err := e.manager.EndTask(release, container, false, ""); err != nil {
			e.logger.Warn("releasing container", "container", container, "error", err)
		}
		e.failTask(release, task, "timeout")
		return Result{
			TaskID:   task.ID,
			Output:   output,
			ExitCode: 1,
			Duration: task.Duration,
		}, fault.New(fault.Timeout, "query did not complete within %s", timeout)
	}
}

// inject makes the session exist and types the prompt into it.
func (e *Executor) inject(ctx context.Context, terminal Terminal, snapshot lifecycle.Snapshot, prompt string) error {
	if err := terminal.EnsureSession(ctx, agentSession, e.agentCommand(snapshot)...); err != nil {
		return err
	}
	// Clear any half-typed input before the prompt lands.
	if err := terminal.SendInterrupt(ctx, agentSession); err != nil {
		return err
	}
	if err := terminal.SendText(ctx, agentSession, prompt); err != nil {
		return err
	}
	return terminal.SendEnter(ctx, agentSession)
}

// agentCommand looks up the profile's launch command for a fresh
// session. An unknown profile means a bare shell; the session still
// works for probing even if the agent must be started by hand.
func (e *Executor) agentCommand(snapshot lifecycle.Snapshot) []string {
	if e.profiles == nil {
		return nil
	}
	prof, err := e.profiles.Get(snapshot.Profile)
	if err != nil {
		e.logger.Warn("no profile for session launch",
			"container", snapshot.Name, "profile", snapshot.Profile)
		return nil
	}
	return prof.Command
}

// detect polls the pane until the completion predicate holds or the
// budget runs out. Returns the extracted transcript (partial on
// timeout) and the outcome. The deadline is absolute: a capture that
// takes multiple intervals consumes them all from the budget.
func (e *Executor) detect(ctx context.Context, terminal Terminal, prompt string, deadline time.Time) (string, pollOutcome) {
	ticker := e.clk.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var (
		previous     string
		firstCapture string
		lastGood     string
		polls        int
		stableRun    int
		wedged       = true
	)

	timeoutOutcome := func() (string, pollOutcome) {
		if polls >= 2 && wedged {
			return extractResponse(lastGood, prompt, e.idleMarker), outcomeWedged
		}
		return extractResponse(lastGood, prompt, e.idleMarker), outcomeTimedOut
	}

	for {
		if !e.clk.Now().Before(deadline) {
			return timeoutOutcome()
		}

		select {
		case <-ctx.Done():
			// A context deadline that fires at the budget edge is a
			// timeout, not a caller hangup.
			if !e.clk.Now().Before(deadline) {
				return timeoutOutcome()
			}
			return extractResponse(lastGood, prompt, e.idleMarker), outcomeCancelled
		case <-ticker.C:
		}

		capture, err := terminal.CapturePane(ctx, agentSession, e.captureLines)
		if err != nil {
			// A failed capture is a failed poll: stability resets,
			// the budget keeps draining.
			e.logger.Debug("pane capture failed", "error", err)
			stableRun = 0
			continue
		}

		stripped := ansi.Strip(capture)
		polls++
		lastGood = stripped

		if polls == 1 {
			firstCapture = stripped
		} else if stripped != firstCapture {
			wedged = false
		}

		if stripped == previous {
			stableRun++
		} else {
			stableRun = 1
		}
		previous = stripped

		if strings.Contains(stripped, e.marker) &&
			stableRun >= e.stabilityPolls &&
			idleAtTail(stripped, e.idleMarker) {
			return extractResponse(stripped, prompt, e.idleMarker), outcomeCompleted
		}
	}
}

// record persists one task snapshot, logging instead of failing.
func (e *Executor) record(ctx context.Context, task Task, phase string) {
	if e.recorder == nil {
		return
	}
	var err error
	if phase == "start" {
		err = e.recorder.TaskStarted(ctx, task)
	} else {
		err = e.recorder.TaskFinished(ctx, task)
	}
	if err != nil {
		e.logger.Warn("recording task", "task_id", task.ID, "phase", phase, "error", err)
	}
}

// failTask emits task.failed and persists the terminal record.
func (e *Executor) failTask(ctx context.Context, task Task, reason string) {
	e.hub.Publish(hub.KindTaskFailed, task.Container, map[string]any{
		"task_id":          task.ID,
		"reason":           reason,
		"duration_seconds": task.Duration.Seconds(),
	})
	e.record(ctx, task, "finish")
	e.logger.Warn("task failed",
		"container", task.Container, "task_id", task.ID,
		"reason", reason, "duration", task.Duration)
}

// finishExec handles a failure before the poll loop ever ran: the
// session could not be prepared or the prompt could not be typed.
func (e *Executor) finishExec(ctx context.Context, task Task, cause error) error {
	task.Status = StatusFailed
	task.ExitCode = 1
	task.Duration = e.clk.Now().Sub(task.SubmittedAt)
	release := context.WithoutCancel(ctx)
	if err := e.manager.EndTask(release, task.Container, false, ""); err != nil {
		e.logger.Warn("releasing container", "container", task.Container, "error", err)
	}
	e.failTask(release, task, "exec")
	return fault.Wrap(fault.RuntimeUnavailable, cause, "preparing session in %q", task.Container)
}

// idleAtTail reports whether the last non-empty line carries the
// idle-prompt marker.
func idleAtTail(output, idleMarker string) bool {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return strings.Contains(line, idleMarker)
	}
	return false
}

// extractResponse cuts the transcript down to what the agent produced
// for this prompt: everything after the last echoed prompt line (the
// line showing both the idle marker and the typed prompt). When the
// echo cannot be found the whole capture is returned — a trimmed
// superset beats losing the response.
func extractResponse(output, prompt, idleMarker string) string {
	promptLine, _, _ := strings.Cut(prompt, "\n")
	promptLine = strings.TrimSpace(promptLine)
	if promptLine == "" {
		return strings.TrimSpace(output)
	}

	lines := strings.Split(output, "\n")
	echo := -1
	for i, line := range lines {
		if strings.Contains(line, promptLine) && strings.Contains(line, idleMarker) {
			echo = i
		}
	}
	if echo < 0 || echo == len(lines)-1 {
		return strings.TrimSpace(output)
	}
	return strings.TrimSpace(strings.Join(lines[echo+1:], "\n"))
}
