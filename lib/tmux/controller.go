// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux provides a typed interface to the tmux server running
// inside an agent container. The agent process lives in a tmux session
// so that its terminal output survives daemon restarts and can be
// captured at any time.
//
// The central type is Controller, which issues tmux commands through an
// injected Runner. In production the Runner is a docker exec bridge
// into the session's container; tests inject a scripted fake. This
// makes it structurally impossible to target the wrong container.
package tmux

import (
	"context"
	"fmt"
	"strings"
)

// Runner executes tmux with the given arguments wherever the agent
// session lives and returns the combined output. Production runners
// route through docker exec into the session's container.
type Runner interface {
	RunTmux(ctx context.Context, args ...string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, args ...string) (string, error)

// RunTmux calls f.
func (f RunnerFunc) RunTmux(ctx context.Context, args ...string) (string, error) {
	return f(ctx, args...)
}

// Controller drives the tmux server of a single agent container. All
// operations go through the injected Runner.
type Controller struct {
	runner Runner
}

// New returns a Controller that issues commands through runner.
func New(runner Runner) *Controller {
	return &Controller{runner: runner}
}

// NewSession creates a detached tmux session. If command is non-empty,
// the session runs that command instead of the default shell.
func (c *Controller) NewSession(ctx context.Context, sessionName string, command ...string) error {
	args := []string{"new-session", "-d", "-s", sessionName}
	args = append(args, command...)
	if output, err := c.runner.RunTmux(ctx, args...); err != nil {
		return fmt.Errorf("tmux new-session %q: %w (%s)",
			sessionName, err, strings.TrimSpace(output))
	}
	return nil
}

// HasSession reports whether a session with the given name exists.
// Returns false if the tmux server is not running.
func (c *Controller) HasSession(ctx context.Context, sessionName string) bool {
	_, err := c.runner.RunTmux(ctx, "has-session", "-t", sessionName)
	return err == nil
}

// EnsureSession creates the session if it does not already exist.
// Used when adopting a container after a daemon restart: the session
// usually survives inside the container.
func (c *Controller) EnsureSession(ctx context.Context, sessionName string, command ...string) error {
	if c.HasSession(ctx, sessionName) {
		return nil
	}
	return c.NewSession(ctx, sessionName, command...)
}

// KillSession terminates a specific session. Returns nil if the
// session was already gone or the server was not running — these are
// normal conditions during cleanup, not errors.
func (c *Controller) KillSession(ctx context.Context, sessionName string) error {
	output, err := c.runner.RunTmux(ctx, "kill-session", "-t", sessionName)
	if err != nil {
		trimmed := strings.TrimSpace(output)
		if strings.Contains(trimmed, "can't find session") ||
			strings.Contains(trimmed, "no server running") {
			return nil
		}
		return fmt.Errorf("tmux kill-session %q: %w (%s)", sessionName, err, trimmed)
	}
	return nil
}

// SetOption sets a tmux option. If sessionName is empty, the option is
// set globally (-g) and applies to all sessions.
func (c *Controller) SetOption(ctx context.Context, sessionName, key, value string) error {
	var args []string
	if sessionName == "" {
		args = []string{"set-option", "-g", key, value}
	} else {
		args = []string{"set-option", "-t", sessionName, key, value}
	}
	if output, err := c.runner.RunTmux(ctx, args...); err != nil {
		return fmt.Errorf("tmux set-option %q=%q (session %q): %w (%s)",
			key, value, sessionName, err, strings.TrimSpace(output))
	}
	return nil
}

// SendText types text into the session's active pane literally: no key
// name interpretation, so a prompt containing "Enter" or "C-c" arrives
// as those characters. The text is not submitted; call SendEnter after.
func (c *Controller) SendText(ctx context.Context, sessionName, text string) error {
	if output, err := c.runner.RunTmux(ctx, "send-keys", "-t", sessionName, "-l", "--", text); err != nil {
		return fmt.Errorf("tmux send-keys -l %q: %w (%s)",
			sessionName, err, strings.TrimSpace(output))
	}
	return nil
}

// SendEnter presses Enter in the session's active pane, submitting
// whatever SendText typed.
func (c *Controller) SendEnter(ctx context.Context, sessionName string) error {
	if output, err := c.runner.RunTmux(ctx, "send-keys", "-t", sessionName, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys Enter %q: %w (%s)",
			sessionName, err, strings.TrimSpace(output))
	}
	return nil
}

// SendInterrupt sends Ctrl-C to the session's active pane, clearing any
// partially typed input before a new prompt is delivered.
func (c *Controller) SendInterrupt(ctx context.Context, sessionName string) error {
	if output, err := c.runner.RunTmux(ctx, "send-keys", "-t", sessionName, "C-c"); err != nil {
		return fmt.Errorf("tmux send-keys C-c %q: %w (%s)",
			sessionName, err, strings.TrimSpace(output))
	}
	return nil
}

// CapturePane captures the full scrollback and visible content of the
// session's active pane. Returns the captured text.
//
// Uses capture-pane with -p (print to stdout), -S - (start of history),
// and -E - (end of visible area). The output includes whatever the
// agent drew, minus terminal control sequences (tmux strips them unless
// -e is passed).
//
// maxLines limits the output to the last N lines. Pass 0 for no limit.
func (c *Controller) CapturePane(ctx context.Context, sessionName string, maxLines int) (string, error) {
	output, err := c.Run(ctx, "capture-pane", "-t", sessionName, "-p", "-S", "-", "-E", "-")
	if err != nil {
		return "", err
	}

	if maxLines <= 0 {
		return output, nil
	}

	return tailString(output, maxLines), nil
}

// ServerAlive reports whether the tmux server inside the container
// responds. Used by the health prober: a running container whose tmux
// server has died cannot accept prompts.
func (c *Controller) ServerAlive(ctx context.Context) bool {
	_, err := c.runner.RunTmux(ctx, "list-sessions")
	return err == nil
}

// Run executes an arbitrary tmux subcommand and returns the combined
// output. This is the escape hatch for commands that don't have a
// dedicated method.
func (c *Controller) Run(ctx context.Context, args ...string) (string, error) {
	output, err := c.runner.RunTmux(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(output))
	}
	return output, nil
}

// tailString returns the last n lines of s, matching tail -n semantics:
// a trailing newline terminates the last line (does not start a new
// one). If s has n or fewer lines, it is returned unchanged.
func tailString(s string, n int) string {
	if len(s) == 0 {
		return s
	}

	// A trailing newline terminates the last line — search from before
	// it so it doesn't count as an extra line separator.
	searchFrom := len(s) - 1
	if s[searchFrom] == '\n' {
		searchFrom--
	}

	count := 0
	for i := searchFrom; i >= 0; i-- {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[i+1:]
			}
		}
	}
	return s
}
