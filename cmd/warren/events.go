// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/cli"
	"github.com/bureau-foundation/warren/lib/netutil"
)

// reconnectDelay is the pause before re-dialing a dropped event
// stream.
const reconnectDelay = time.Second

func eventsCommand() *cli.Command {
	var server string
	var jsonOut bool

	return &cli.Command{
		Name:    "events",
		Summary: "Follow the daemon's live event stream",
		Description: `Connect to the daemon's event stream and print events as they
happen: container lifecycle transitions, task starts and completions,
health probe results, and transport state changes.

When stdout is a terminal each event prints as one line; otherwise,
and with --json, events print as raw JSON documents, one per line.
The stream reconnects automatically and resumes from the last seen
event, so a daemon restart loses nothing that is still in the replay
window.`,
		Usage: "warren events [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("events", pflag.ContinueOnError)
			addServerFlag(flagSet, &server)
			flagSet.BoolVar(&jsonOut, "json", false, "print raw JSON even on a terminal")
			return flagSet
		},
		Run: func(args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			human := !jsonOut && term.IsTerminal(int(os.Stdout.Fd()))
			return followEvents(ctx, newClient(server), human, os.Stdout)
		},
	}
}

// followEvents streams events until ctx is cancelled, reconnecting
// with the last seen event ID when the daemon drops the connection.
// The first connection failing is fatal (the daemon is probably not
// running); once a stream has been established, failures retry
// forever.
func followEvents(ctx context.Context, client *apiClient, human bool, w io.Writer) error {
	var lastID uint64
	for attempt := 0; ; attempt++ {
		err := streamEvents(ctx, client, human, w, &lastID)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && attempt == 0 {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// streamEvents reads one connection's worth of events, writing each to
// w and recording the highest delivered ID in lastID for resumption.
func streamEvents(ctx context.Context, client *apiClient, human bool, w io.Writer, lastID *uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if *lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(*lastID, 10))
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon at %s: %w", client.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := netutil.ReadResponse(resp.Body)
		return errorFromBody(resp.StatusCode, raw)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var id uint64
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Frame boundary. Heartbeat comments produce no data and
			// print nothing.
			if data != "" {
				printEvent(w, human, data)
				if id > 0 {
					*lastID = id
				}
			}
			id, data = 0, ""
		case strings.HasPrefix(line, "id: "):
			id, _ = strconv.ParseUint(strings.TrimPrefix(line, "id: "), 10, 64)
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	return scanner.Err()
}

func printEvent(w io.Writer, human bool, data string) {
	if !human {
		fmt.Fprintln(w, data)
		return
	}
	fmt.Fprintln(w, formatEvent(data))
}

// formatEvent renders one event as a single line:
//
//	12:04:05 container.stopped builder reason=wedged
//
// Payloads that are not valid event JSON print raw: they are opaque
// signals, and the authoritative state is a GET /sessions away.
func formatEvent(data string) string {
	var event hub.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil || event.Kind == "" {
		return data
	}

	var b strings.Builder
	b.WriteString(event.Timestamp.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(event.Kind)
	if event.Container != "" {
		b.WriteString(" ")
		b.WriteString(event.Container)
	}
	keys := make([]string, 0, len(event.Payload))
	for key := range event.Payload {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, event.Payload[key])
	}
	return b.String()
}
