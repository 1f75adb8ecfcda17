// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bureau-foundation/warren/hub"
)

// handleEvents streams hub events as server-sent events. Each frame
// carries the event ID, so a client that reconnects with Last-Event-ID
// resumes from the ring buffer instead of missing the gap. Idle
// streams get comment heartbeats to keep intermediary proxies from
// closing the connection.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendError(w, http.StatusInternalServerError, "Internal",
			"streaming is not supported by this connection")
		return
	}

	subscription, err := g.subscribe(r)
	if err != nil {
		g.sendValidation(w, "%s", err.Error())
		return
	}
	defer subscription.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := g.clk.NewTicker(g.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				// Hub shut down; the client will reconnect and
				// resume from its last seen ID.
				return
			}
			if err := writeEvent(w, event); err != nil {
				g.logger.Debug("event stream client gone", "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// subscribe picks replay or live-tail based on the Last-Event-ID
// header the SSE reconnect protocol defines.
func (g *Gateway) subscribe(r *http.Request) (*hub.Subscription, error) {
	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		return g.hub.Subscribe(), nil
	}
	after, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid Last-Event-ID %q: %v", lastID, err)
	}
	return g.hub.SubscribeFrom(after), nil
}

func writeEvent(w http.ResponseWriter, event hub.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", event.ID, err)
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.ID, payload)
	return err
}
