// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/lib/cli"
	"github.com/bureau-foundation/warren/lib/config"
	"github.com/bureau-foundation/warren/query"
	"github.com/bureau-foundation/warren/taskstore"
)

func tasksCommand() *cli.Command {
	var configPath, dbPath, container, status string
	var limit int
	var jsonOut bool

	show := &cli.Command{
		Name:    "show",
		Summary: "Print one task record with its full transcript",
		Usage:   "warren tasks show <task-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "daemon config file (locates the task database)")
			flagSet.StringVar(&dbPath, "db", "", "task database path (overrides the config)")
			flagSet.BoolVar(&jsonOut, "json", false, "print the record as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: warren tasks show <task-id>")
			}
			store, err := openTaskStore(configPath, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			task, err := lookupTask(context.Background(), store, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(task)
			}

			fmt.Printf("task:      %s\n", task.ID)
			fmt.Printf("container: %s\n", task.Container)
			fmt.Printf("status:    %s\n", task.Status)
			fmt.Printf("submitted: %s\n", task.SubmittedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("duration:  %s\n", taskDuration(task))
			fmt.Printf("exit code: %d\n", task.ExitCode)
			if task.Output != "" {
				fmt.Printf("\n%s", task.Output)
				if task.Output[len(task.Output)-1] != '\n' {
					fmt.Println()
				}
			}
			return nil
		},
	}

	return &cli.Command{
		Name:    "tasks",
		Summary: "Show task history from the task database",
		Description: `Read task records directly from the daemon's task database; a
running daemon is not required. The database location comes from the
daemon config (--config flag or WARREN_CONFIG), or from --db
directly.`,
		Usage: "warren tasks [flags]",
		Examples: []cli.Example{
			{
				Description: "Recent tasks across all containers",
				Command:     "warren tasks",
			},
			{
				Description: "Failures for one container",
				Command:     "warren tasks --container builder --status failed",
			},
			{
				Description: "Full transcript of one task",
				Command:     "warren tasks show 06d9a2f41c58",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("tasks", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "daemon config file (locates the task database)")
			flagSet.StringVar(&dbPath, "db", "", "task database path (overrides the config)")
			flagSet.StringVar(&container, "container", "", "only tasks for this container")
			flagSet.StringVar(&status, "status", "", "only tasks with this status (running, completed, failed, timed_out)")
			flagSet.IntVar(&limit, "limit", 0, "maximum records (default 50)")
			flagSet.BoolVar(&jsonOut, "json", false, "print records as JSON")
			return flagSet
		},
		Subcommands: []*cli.Command{show},
		Run: func(args []string) error {
			switch query.Status(status) {
			case "", query.StatusRunning, query.StatusCompleted, query.StatusFailed, query.StatusTimedOut:
			default:
				return fmt.Errorf("unknown status %q (running, completed, failed, timed_out)", status)
			}

			store, err := openTaskStore(configPath, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.Tasks(context.Background(), taskstore.Filter{
				Container: container,
				Status:    query.Status(status),
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tasks)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "TASK\tCONTAINER\tSTATUS\tSUBMITTED\tDURATION\tEXIT")
			for _, task := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
					shortID(task.ID), task.Container, task.Status,
					task.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
					taskDuration(task), task.ExitCode)
			}
			return tw.Flush()
		},
	}
}

// openTaskStore resolves the database path and opens it read-only.
func openTaskStore(configPath, dbPath string) (*taskstore.Store, error) {
	path := dbPath
	if path == "" {
		cfg, err := loadTasksConfig(configPath)
		if err != nil {
			return nil, err
		}
		path = cfg.TasksDBPath()
		if path == "" {
			return nil, fmt.Errorf("persistence is disabled (storage.tasks_db is empty); pass --db to read a specific database")
		}
	}
	return taskstore.OpenReader(path, nil)
}

func loadTasksConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// lookupTask loads a task by full ID or by the unique abbreviated
// prefix the list column shows.
func lookupTask(ctx context.Context, store *taskstore.Store, id string) (query.Task, error) {
	task, err := store.Task(ctx, id)
	if err == nil || !errors.Is(err, taskstore.ErrTaskNotFound) {
		return task, err
	}

	tasks, listErr := store.Tasks(ctx, taskstore.Filter{Limit: 1000})
	if listErr != nil {
		return query.Task{}, err
	}
	match := ""
	for _, candidate := range tasks {
		if strings.HasPrefix(candidate.ID, id) {
			if match != "" {
				return query.Task{}, fmt.Errorf("task ID %q is ambiguous", id)
			}
			match = candidate.ID
		}
	}
	if match == "" {
		return query.Task{}, err
	}
	return store.Task(ctx, match)
}

// taskDuration renders a task's runtime, or "-" for a record that
// never reached a terminal status.
func taskDuration(task query.Task) string {
	if task.Duration == 0 && task.Status == query.StatusRunning {
		return "-"
	}
	return fmt.Sprintf("%.1fs", task.Duration.Seconds())
}

// shortID abbreviates a task ID for tabular output; tasks show
// accepts the full ID.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
