// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/lib/cli"
)

func sessionsCommand() *cli.Command {
	var server string
	var jsonOut bool

	return &cli.Command{
		Name:    "sessions",
		Summary: "List containers and their states",
		Usage:   "warren sessions [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
			addServerFlag(flagSet, &server)
			flagSet.BoolVar(&jsonOut, "json", false, "print the raw JSON response")
			return flagSet
		},
		Run: func(args []string) error {
			ctx, cancel := apiContext(quickTimeout)
			defer cancel()

			sessions, err := newClient(server).sessions(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(sessions)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tROLE\tPROVIDER\tURL")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.Name, s.State, orDash(s.Role), orDash(s.Provider), orDash(s.URL))
			}
			return tw.Flush()
		},
	}
}

func createCommand() *cli.Command {
	var server, role, provider, model, ollamaHost string
	var volumes []string

	return &cli.Command{
		Name:    "create",
		Summary: "Create and start a new agent container",
		Description: `Create a container, start it, and wait until its agent terminal is
ready for queries. The name must be unique among managed containers.`,
		Usage: "warren create <name> [flags]",
		Examples: []cli.Example{
			{
				Description: "A developer container with a mounted checkout",
				Command:     "warren create builder --role developer --volume /srv/repos/warren:/workspace",
			},
			{
				Description: "A container driven by a local ollama server",
				Command:     "warren create scout --provider ollama --ollama-host 10.0.0.5:11434 --model qwen3:14b",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			addServerFlag(flagSet, &server)
			flagSet.StringVar(&role, "role", "", "workspace profile role (daemon default when empty)")
			flagSet.StringArrayVar(&volumes, "volume", nil, "bind mount host:container[:ro|rw] (repeatable)")
			flagSet.StringVar(&provider, "provider", "", "LLM provider (anthropic or ollama)")
			flagSet.StringVar(&model, "model", "", "model override for the provider")
			flagSet.StringVar(&ollamaHost, "ollama-host", "", "ollama server address for --provider ollama")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: warren create <name> [flags]")
			}
			ctx, cancel := apiContext(createTimeout)
			defer cancel()

			resp, err := newClient(server).create(ctx, createRequest{
				Name:       args[0],
				Role:       role,
				Volumes:    volumes,
				Provider:   provider,
				Model:      model,
				OllamaHost: ollamaHost,
			})
			if err != nil {
				return err
			}
			if resp.URL != "" {
				fmt.Printf("created %s: %s\n", args[0], resp.URL)
			} else {
				fmt.Printf("created %s\n", args[0])
			}
			return nil
		},
	}
}

// actionSpec parameterizes the three name-only lifecycle commands.
type actionSpec struct {
	verb    string
	past    string
	summary string
	detail  string
}

func actionCommand(spec actionSpec) *cli.Command {
	var server string

	return &cli.Command{
		Name:        spec.verb,
		Summary:     spec.summary,
		Description: spec.detail,
		Usage:       fmt.Sprintf("warren %s <name>", spec.verb),
		Flags:       serverFlags(spec.verb, &server),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: warren %s <name>", spec.verb)
			}
			ctx, cancel := apiContext(actionTimeout)
			defer cancel()

			if err := newClient(server).action(ctx, spec.verb, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", spec.past, args[0])
			return nil
		},
	}
}
