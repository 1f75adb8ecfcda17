// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/testutil"
)

const waitTimeout = 5 * time.Second

// sseFrame is one parsed server-sent-event frame. Heartbeats carry
// only the comment field.
type sseFrame struct {
	id      string
	data    string
	comment string
}

// readFrames parses the SSE stream into frames on a channel. The
// channel closes when the stream ends.
func readFrames(body io.Reader) <-chan sseFrame {
	frames := make(chan sseFrame, 16)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		var frame sseFrame
		pending := false
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if pending {
					frames <- frame
					frame = sseFrame{}
					pending = false
				}
				continue
			}
			pending = true
			switch {
			case strings.HasPrefix(line, "id: "):
				frame.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, ": "):
				frame.comment = strings.TrimPrefix(line, ": ")
			}
		}
	}()
	return frames
}

func decodeFrame(t *testing.T, frame sseFrame) hub.Event {
	t.Helper()
	var event hub.Event
	if err := json.Unmarshal([]byte(frame.data), &event); err != nil {
		t.Fatalf("decoding frame data %q: %v", frame.data, err)
	}
	return event
}

// openStream connects to /events on a live server and returns the
// frame channel. Extra headers (Last-Event-ID) come from mutate.
func openStream(t *testing.T, env *gatewayEnv, mutate func(*http.Request)) <-chan sseFrame {
	t.Helper()
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if mutate != nil {
		mutate(request)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("connecting to event stream: %v", err)
	}
	t.Cleanup(func() { response.Body.Close() })
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}
	if got := response.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}
	return readFrames(response.Body)
}

func TestEventStreamDeliversInOrder(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	frames := openStream(t, env, nil)

	// Connecting publishes the hub's own subscriber-count event.
	first := decodeFrame(t, testutil.RequireReceive(t, frames, waitTimeout))
	if first.Kind != hub.KindHubStateChanged {
		t.Fatalf("first event kind = %q, want %q", first.Kind, hub.KindHubStateChanged)
	}

	env.eventHub.Publish(hub.KindContainerStopped, "builder", map[string]any{"reason": "wedged"})
	env.eventHub.Publish(hub.KindContainerRecycled, "builder", nil)

	stopped := decodeFrame(t, testutil.RequireReceive(t, frames, waitTimeout))
	if stopped.Kind != hub.KindContainerStopped || stopped.Container != "builder" {
		t.Fatalf("second event = %+v", stopped)
	}
	recycled := decodeFrame(t, testutil.RequireReceive(t, frames, waitTimeout))
	if recycled.Kind != hub.KindContainerRecycled {
		t.Fatalf("third event = %+v", recycled)
	}
	if recycled.ID <= stopped.ID {
		t.Fatalf("event IDs out of order: stopped %d, recycled %d", stopped.ID, recycled.ID)
	}
}

func TestEventStreamResumesFromLastEventID(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	env.eventHub.Publish(hub.KindTaskStarted, "builder", map[string]any{"task_id": "t1"})
	env.eventHub.Publish(hub.KindTaskCompleted, "builder", map[string]any{"task_id": "t1"})
	env.eventHub.Publish(hub.KindContainerStopped, "builder", nil)

	frames := openStream(t, env, func(request *http.Request) {
		request.Header.Set("Last-Event-ID", "1")
	})

	replayed := testutil.RequireReceive(t, frames, waitTimeout)
	if replayed.id != "2" {
		t.Fatalf("first replayed frame id = %q, want 2", replayed.id)
	}
	if event := decodeFrame(t, replayed); event.Kind != hub.KindTaskCompleted {
		t.Fatalf("first replayed kind = %q, want %q", event.Kind, hub.KindTaskCompleted)
	}

	next := testutil.RequireReceive(t, frames, waitTimeout)
	if next.id != "3" {
		t.Fatalf("second replayed frame id = %q, want 3", next.id)
	}
	if event := decodeFrame(t, next); event.Kind != hub.KindContainerStopped {
		t.Fatalf("second replayed kind = %q", event.Kind)
	}

	// After the replay comes the live subscribe event.
	live := decodeFrame(t, testutil.RequireReceive(t, frames, waitTimeout))
	if live.Kind != hub.KindHubStateChanged {
		t.Fatalf("post-replay kind = %q, want %q", live.Kind, hub.KindHubStateChanged)
	}
}

func TestEventStreamHeartbeat(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	frames := openStream(t, env, nil)

	// Drain the subscribe event; once it has been written the
	// handler's heartbeat ticker exists.
	testutil.RequireReceive(t, frames, waitTimeout)

	env.clk.WaitForTimers(1)
	env.clk.Advance(15 * time.Second)

	beat := testutil.RequireReceive(t, frames, waitTimeout)
	if beat.comment != "heartbeat" {
		t.Fatalf("frame = %+v, want heartbeat comment", beat)
	}

	// Events still flow after a heartbeat.
	env.eventHub.Publish(hub.KindContainerStarted, "builder", nil)
	event := decodeFrame(t, testutil.RequireReceive(t, frames, waitTimeout))
	if event.Kind != hub.KindContainerStarted {
		t.Fatalf("post-heartbeat kind = %q", event.Kind)
	}
}

func TestEventStreamRejectsBadLastEventID(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	request := httptest.NewRequest(http.MethodGet, "/events", nil)
	request.Header.Set("Last-Event-ID", "banana")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}
