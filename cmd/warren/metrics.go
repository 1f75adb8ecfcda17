// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/lib/cli"
)

func metricsCommand() *cli.Command {
	var server string
	var jsonOut bool

	return &cli.Command{
		Name:    "metrics",
		Summary: "Show per-container resource usage",
		Description: `Show CPU, memory, and uptime for every active container, sampled
from the host's cgroup accounting at request time.`,
		Usage: "warren metrics [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("metrics", pflag.ContinueOnError)
			addServerFlag(flagSet, &server)
			flagSet.BoolVar(&jsonOut, "json", false, "print the raw JSON response")
			return flagSet
		},
		Run: func(args []string) error {
			ctx, cancel := apiContext(quickTimeout)
			defer cancel()

			rows, err := newClient(server).metrics(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(rows)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCPU%\tMEMORY\tLIMIT\tUPTIME")
			for _, row := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					row.Name, row.CPUPercent, row.MemUsageHuman,
					row.MemLimitHuman, humanUptime(row.UptimeSeconds))
			}
			return tw.Flush()
		},
	}
}

// humanUptime renders seconds at the coarsest useful unit pair.
func humanUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
