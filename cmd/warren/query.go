// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/lib/cli"
)

// defaultQueryWait mirrors the daemon's default task timeout. The
// client waits this long plus a grace period for the daemon's own
// timeout handling to come back with the partial transcript.
const (
	defaultQueryWait = 5 * time.Minute
	queryGrace       = 30 * time.Second
)

func queryCommand() *cli.Command {
	var server string
	var timeoutSeconds int

	return &cli.Command{
		Name:    "query",
		Summary: "Run a prompt in a container and print the response",
		Description: `Send a prompt to a container's agent and wait for the response,
which is printed to stdout. The exit code mirrors the task: 0 when it
completed, 1 when it failed, timed out, or was interrupted. A
timed-out task still prints whatever the agent produced.

Interrupting the command (Ctrl-C) cancels the task and releases the
container for the next query.`,
		Usage: "warren query <name> <prompt...> [flags]",
		Examples: []cli.Example{
			{
				Description: "Ask the builder container a question",
				Command:     "warren query builder 'what tests cover the parser?'",
			},
			{
				Description: "A long-running task with a 30 minute budget",
				Command:     "warren query builder --timeout 1800 'run the full benchmark suite and summarize'",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("query", pflag.ContinueOnError)
			addServerFlag(flagSet, &server)
			flagSet.IntVar(&timeoutSeconds, "timeout", 0, "task timeout in seconds (daemon default when 0)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: warren query <name> <prompt...>")
			}
			name := args[0]
			prompt := strings.Join(args[1:], " ")

			// Ctrl-C cancels the HTTP request; the daemon sees the
			// disconnect and releases the container.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			wait := defaultQueryWait
			if timeoutSeconds > 0 {
				wait = time.Duration(timeoutSeconds) * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, wait+queryGrace)
			defer cancel()

			result, err := newClient(server).query(ctx, name, prompt, timeoutSeconds)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(os.Stderr, "interrupted")
					return exitError{code: 1}
				}
				return err
			}

			if result.Output != "" {
				fmt.Print(result.Output)
				if !strings.HasSuffix(result.Output, "\n") {
					fmt.Println()
				}
			}
			if !result.Success {
				detail := result.Message
				if detail == "" {
					detail = result.Error
				}
				if detail == "" {
					detail = fmt.Sprintf("agent exit code %d", result.ExitCode)
				}
				fmt.Fprintf(os.Stderr, "query failed: %s\n", detail)
				return exitError{code: 1}
			}
			return nil
		},
	}
}

// exitError carries a specific process exit code through the command
// framework for results already reported on stdout/stderr. main exits
// with the code instead of printing a generic error line.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }
