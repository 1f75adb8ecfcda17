// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/warren/broker"
	"github.com/bureau-foundation/warren/hub"
)

// routeSender is the slice of the message router the notifier uses.
type routeSender interface {
	Route(ctx context.Context, message broker.Message) error
}

// notifier forwards notable hub events to the operator channel through
// the message router. Delivery is best effort: while the transport is
// degraded the router queues, and a rejected message is logged and
// dropped rather than retried — the event hub remains the
// authoritative record.
type notifier struct {
	router  routeSender
	hub     *hub.Hub
	channel string
	logger  *slog.Logger
}

func newNotifier(router routeSender, eventHub *hub.Hub, channel string, logger *slog.Logger) *notifier {
	if channel == "" {
		channel = "ops"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &notifier{
		router:  router,
		hub:     eventHub,
		channel: channel,
		logger:  logger,
	}
}

// Run forwards events until ctx is cancelled or the hub closes.
func (n *notifier) Run(ctx context.Context) {
	subscription := n.hub.Subscribe()
	defer subscription.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			body := notificationBody(event)
			if body == "" {
				continue
			}
			message := broker.Message{
				Target: n.channel,
				Sender: "warren",
				Body:   body,
			}
			if err := n.router.Route(ctx, message); err != nil {
				n.logger.Debug("notification not routed",
					"kind", event.Kind, "error", err)
			}
		}
	}
}

// notificationBody renders the operator-facing line for event kinds
// worth forwarding. An empty return skips the event. Transport breaker
// events are deliberately excluded: routing a degraded-transport
// notice through the degraded transport helps nobody.
func notificationBody(event hub.Event) string {
	payload := func(key string) any {
		if event.Payload == nil {
			return ""
		}
		return event.Payload[key]
	}
	switch event.Kind {
	case hub.KindTaskCompleted:
		return fmt.Sprintf("%s: task %v completed in %.0fs",
			event.Container, payload("task_id"), floatPayload(event, "duration_seconds"))
	case hub.KindTaskFailed:
		return fmt.Sprintf("%s: task %v failed (%v)",
			event.Container, payload("task_id"), payload("reason"))
	case hub.KindContainerRecycled:
		return fmt.Sprintf("%s: container recycled (%v)",
			event.Container, payload("reason"))
	default:
		return ""
	}
}

func floatPayload(event hub.Event, key string) float64 {
	if event.Payload == nil {
		return 0
	}
	value, _ := event.Payload[key].(float64)
	return value
}
