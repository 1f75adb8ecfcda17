// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Warren is the operator CLI for a warren daemon. It drives the
// daemon's HTTP API: listing and managing agent containers, running
// synchronous queries, following the live event stream, and reading
// container resource metrics. The tasks command bypasses the daemon
// and reads the task database directly, so task history survives
// daemon downtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/lib/cli"
	"github.com/bureau-foundation/warren/lib/process"
	"github.com/bureau-foundation/warren/lib/version"
)

// defaultServer is the daemon address when --server is not given. It
// matches the daemon's default listen address.
const defaultServer = "http://127.0.0.1:8000"

// Per-call deadlines. Create waits for a container boot (image pull
// included on first use); stop and delete wait out the daemon's
// graceful-stop timeout; reads should be immediate.
const (
	quickTimeout  = 30 * time.Second
	actionTimeout = 2 * time.Minute
	createTimeout = 5 * time.Minute
)

func main() {
	if err := rootCommand().Execute(os.Args[1:]); err != nil {
		// Commands that have already printed their own output (query,
		// whose exit code mirrors the task result) return an exitError
		// carrying the desired code. Don't add a redundant "error:"
		// line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "warren",
		Summary: "Operator CLI for the warren container daemon",
		Description: `Warren manages sandboxed LLM agent containers.

Every command except tasks talks to a running warren daemon over its
HTTP API (--server, default ` + defaultServer + `). The tasks
command reads the task database directly.`,
		Subcommands: []*cli.Command{
			sessionsCommand(),
			createCommand(),
			actionCommand(actionSpec{
				verb:    "start",
				past:    "started",
				summary: "Start a stopped container",
				detail:  "Start a previously stopped container. The container keeps its\nname, image, and workspace volumes.",
			}),
			actionCommand(actionSpec{
				verb:    "stop",
				past:    "stopped",
				summary: "Stop a running container",
				detail:  "Stop a container without removing it. A stopped container can be\nstarted again with the same state.",
			}),
			actionCommand(actionSpec{
				verb:    "delete",
				past:    "deleted",
				summary: "Stop and remove a container",
				detail:  "Stop a container and remove it from the runtime. The name becomes\navailable for reuse.",
			}),
			queryCommand(),
			eventsCommand(),
			metricsCommand(),
			tasksCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("warren %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "List containers",
				Command:     "warren sessions",
			},
			{
				Description: "Create a builder container and run a query in it",
				Command:     "warren create builder --role developer && warren query builder 'summarize the repo'",
			},
			{
				Description: "Follow the live event stream",
				Command:     "warren events",
			},
			{
				Description: "Show recent task history for one container",
				Command:     "warren tasks --container builder",
			},
		},
	}
}

// apiContext bounds one daemon API call.
func apiContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// addServerFlag registers the --server flag shared by every command
// that talks to the daemon.
func addServerFlag(flagSet *pflag.FlagSet, server *string) {
	flagSet.StringVar(server, "server", defaultServer, "daemon base URL")
}

// serverFlags builds a flag set containing only --server, for commands
// with no flags of their own.
func serverFlags(name string, server *string) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		addServerFlag(flagSet, server)
		return flagSet
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// orDash keeps empty table cells visible.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
