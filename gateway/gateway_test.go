// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/fault"
	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lifecycle"
	"github.com/bureau-foundation/warren/query"
	"github.com/bureau-foundation/warren/ratelimit"
)

var gatewayEpoch = time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

// fakeSessions records lifecycle calls and serves canned snapshots.
type fakeSessions struct {
	mu        sync.Mutex
	snapshots []lifecycle.Snapshot
	created   []lifecycle.CreateRequest
	actions   []string

	createErr error
	actionErr error
}

func (f *fakeSessions) Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return lifecycle.Snapshot{}, f.createErr
	}
	f.created = append(f.created, req)
	return lifecycle.Snapshot{
		Name:  req.Name,
		State: lifecycle.Ready,
		Port:  7150,
		URL:   "http://127.0.0.1:7150",
	}, nil
}

func (f *fakeSessions) Start(ctx context.Context, name string) error {
	return f.record("start", name)
}

func (f *fakeSessions) Stop(ctx context.Context, name string) error {
	return f.record("stop", name)
}

func (f *fakeSessions) Delete(ctx context.Context, name string) error {
	return f.record("delete", name)
}

func (f *fakeSessions) record(action, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actionErr != nil {
		return f.actionErr
	}
	f.actions = append(f.actions, action+" "+name)
	return nil
}

func (f *fakeSessions) List() []lifecycle.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots
}

func (f *fakeSessions) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// executorCall is one recorded Execute invocation.
type executorCall struct {
	container string
	prompt    string
	timeout   time.Duration
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []executorCall
	run   func(ctx context.Context, container, prompt string, timeout time.Duration) (query.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, container, prompt string, timeout time.Duration) (query.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, executorCall{container: container, prompt: prompt, timeout: timeout})
	run := f.run
	f.mu.Unlock()
	if run != nil {
		return run(ctx, container, prompt, timeout)
	}
	return query.Result{
		TaskID:   "task-1",
		Success:  true,
		Output:   "⏺ Done.\n",
		ExitCode: 0,
		Duration: 2 * time.Second,
	}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type gatewayEnv struct {
	clk      *clock.FakeClock
	sessions *fakeSessions
	executor *fakeExecutor
	eventHub *hub.Hub
	gateway  *Gateway
	handler  http.Handler
}

func newTestGateway(t *testing.T, mutate func(*Config)) *gatewayEnv {
	t.Helper()
	clk := clock.Fake(gatewayEpoch)
	eventHub := hub.New(hub.Config{Clock: clk})
	t.Cleanup(eventHub.Close)
	env := &gatewayEnv{
		clk:      clk,
		sessions: &fakeSessions{},
		executor: &fakeExecutor{},
		eventHub: eventHub,
	}
	config := Config{
		Sessions: env.sessions,
		Executor: env.executor,
		Limiter:  ratelimit.New(ratelimit.Config{Clock: clk}),
		Hub:      eventHub,
		Clock:    clk,
	}
	if mutate != nil {
		mutate(&config)
	}
	env.gateway = New(config)
	env.handler = env.gateway.Handler()
	return env
}

// do runs one request through the mux and returns the recorder.
func (env *gatewayEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("decoding response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	recorder := env.do(t, http.MethodGet, "/healthz", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	body := decodeBody[map[string]string](t, recorder)
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	env.sessions.snapshots = []lifecycle.Snapshot{
		{
			Name:     "builder",
			Role:     "developer",
			State:    lifecycle.Ready,
			Active:   true,
			Provider: "anthropic",
			Port:     7150,
			URL:      "http://127.0.0.1:7150",
			Profile:  "python-dev",
		},
		{Name: "reviewer", State: lifecycle.Stopped},
	}

	recorder := env.do(t, http.MethodGet, "/sessions", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	summaries := decodeBody[[]sessionSummary](t, recorder)
	if len(summaries) != 2 {
		t.Fatalf("got %d sessions, want 2", len(summaries))
	}
	first := summaries[0]
	if first.Name != "builder" || !first.Active || first.State != "ready" {
		t.Fatalf("first summary = %+v", first)
	}
	if first.WorkspaceProfile != "python-dev" || first.URL != "http://127.0.0.1:7150" {
		t.Fatalf("first summary = %+v", first)
	}
	if summaries[1].State != "stopped" || summaries[1].Active {
		t.Fatalf("second summary = %+v", summaries[1])
	}
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	recorder := env.do(t, http.MethodPost, "/create", map[string]any{
		"name":         "builder",
		"role":         "developer",
		"volumes":      []string{"/srv/project:/workspace:ro", "/var/cache/pip:/cache"},
		"llm_provider": "anthropic",
		"llm_model":    "claude-sonnet-4-5",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[actionResponse](t, recorder)
	if !response.Success || response.URL != "http://127.0.0.1:7150" {
		t.Fatalf("response = %+v", response)
	}

	if len(env.sessions.created) != 1 {
		t.Fatalf("created %d sessions, want 1", len(env.sessions.created))
	}
	req := env.sessions.created[0]
	if req.Name != "builder" || req.Role != "developer" || req.Provider != "anthropic" {
		t.Fatalf("create request = %+v", req)
	}
	if req.Model != "claude-sonnet-4-5" {
		t.Fatalf("model = %q", req.Model)
	}
	if len(req.Volumes) != 2 {
		t.Fatalf("got %d volumes, want 2", len(req.Volumes))
	}
	if req.Volumes[0].Source != "/srv/project" || req.Volumes[0].Target != "/workspace" || !req.Volumes[0].ReadOnly {
		t.Fatalf("first volume = %+v", req.Volumes[0])
	}
	if req.Volumes[1].ReadOnly {
		t.Fatalf("second volume should default to read-write: %+v", req.Volumes[1])
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "missing name",
			body: map[string]any{"role": "developer"},
		},
		{
			name: "blank name",
			body: map[string]any{"name": "   "},
		},
		{
			name: "relative host path",
			body: map[string]any{"name": "builder", "volumes": []string{"project:/workspace"}},
		},
		{
			name: "relative container path",
			body: map[string]any{"name": "builder", "volumes": []string{"/srv/project:workspace"}},
		},
		{
			name: "bad mode",
			body: map[string]any{"name": "builder", "volumes": []string{"/a:/b:rx"}},
		},
		{
			name: "too many segments",
			body: map[string]any{"name": "builder", "volumes": []string{"/a:/b:ro:extra"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestGateway(t, nil)

			recorder := env.do(t, http.MethodPost, "/create", tt.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", recorder.Code, recorder.Body.String())
			}
			response := decodeBody[errorResponse](t, recorder)
			if response.Error != string(fault.PolicyDenied) || response.Message == "" {
				t.Fatalf("error envelope = %+v", response)
			}
			if env.sessions.createCount() != 0 {
				t.Fatal("rejected request must not reach the lifecycle manager")
			}
		})
	}
}

func TestCreateMalformedJSON(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	request := httptest.NewRequest(http.MethodPost, "/create", strings.NewReader("{not json"))
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestCreateBodyTooLarge(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, func(config *Config) {
		config.MaxBodyBytes = 64
	})

	recorder := env.do(t, http.MethodPost, "/create", map[string]any{
		"name": "builder",
		"role": strings.Repeat("x", 256),
	})
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", recorder.Code)
	}
}

func TestCreateNameConflict(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	env.sessions.createErr = fault.New(fault.NameConflict, "container %q already exists", "builder")

	recorder := env.do(t, http.MethodPost, "/create", map[string]any{"name": "builder"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", recorder.Code)
	}
	response := decodeBody[errorResponse](t, recorder)
	if response.Error != string(fault.NameConflict) {
		t.Fatalf("error = %q, want NameConflict", response.Error)
	}
	if !strings.Contains(response.Message, "already exists") {
		t.Fatalf("message = %q", response.Message)
	}
}

func TestActionEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/start", want: "start builder"},
		{path: "/stop", want: "stop builder"},
		{path: "/delete", want: "delete builder"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			env := newTestGateway(t, nil)

			recorder := env.do(t, http.MethodPost, tt.path, map[string]any{"name": "builder"})
			if recorder.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
			}
			response := decodeBody[actionResponse](t, recorder)
			if !response.Success {
				t.Fatalf("response = %+v", response)
			}
			if len(env.sessions.actions) != 1 || env.sessions.actions[0] != tt.want {
				t.Fatalf("actions = %v, want [%s]", env.sessions.actions, tt.want)
			}
		})
	}
}

func TestActionRequiresName(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	recorder := env.do(t, http.MethodPost, "/start", map[string]any{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if len(env.sessions.actions) != 0 {
		t.Fatalf("actions = %v, want none", env.sessions.actions)
	}
}

func TestActionFaultMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "runtime unavailable",
			err:        fault.New(fault.RuntimeUnavailable, "docker daemon is not responding"),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  string(fault.RuntimeUnavailable),
		},
		{
			name:       "policy denied",
			err:        fault.New(fault.PolicyDenied, "container is busy; stop is not allowed mid-task"),
			wantStatus: http.StatusForbidden,
			wantError:  string(fault.PolicyDenied),
		},
		{
			name:       "unclassified",
			err:        fmt.Errorf("socket closed unexpectedly"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestGateway(t, nil)
			env.sessions.actionErr = tt.err

			recorder := env.do(t, http.MethodPost, "/stop", map[string]any{"name": "builder"})
			if recorder.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, tt.wantStatus)
			}
			response := decodeBody[errorResponse](t, recorder)
			if response.Error != tt.wantError {
				t.Fatalf("error = %q, want %q", response.Error, tt.wantError)
			}
		})
	}
}

func TestQuerySuccess(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{
		"prompt":  "run the tests",
		"timeout": 60,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[queryResponse](t, recorder)
	if !response.Success || response.Error != "" {
		t.Fatalf("response = %+v", response)
	}
	if response.TaskID != "task-1" || response.Output != "⏺ Done.\n" || response.ExitCode != 0 {
		t.Fatalf("response = %+v", response)
	}
	if response.DurationSeconds != 2 {
		t.Fatalf("duration_seconds = %v, want 2", response.DurationSeconds)
	}

	if len(env.executor.calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(env.executor.calls))
	}
	call := env.executor.calls[0]
	if call.container != "builder" || call.prompt != "run the tests" || call.timeout != 60*time.Second {
		t.Fatalf("executor call = %+v", call)
	}
}

func TestQueryDefaultTimeout(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{
		"prompt": "hello",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got := env.executor.calls[0].timeout; got != defaultQueryTimeout {
		t.Fatalf("timeout = %v, want %v", got, defaultQueryTimeout)
	}
}

func TestQueryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing prompt", body: map[string]any{"timeout": 60}},
		{name: "blank prompt", body: map[string]any{"prompt": "   "}},
		{name: "timeout too short", body: map[string]any{"prompt": "x", "timeout": 5}},
		{name: "timeout too long", body: map[string]any{"prompt": "x", "timeout": 7200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestGateway(t, nil)

			recorder := env.do(t, http.MethodPost, "/sessions/builder/query", tt.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", recorder.Code, recorder.Body.String())
			}
			if env.executor.callCount() != 0 {
				t.Fatal("invalid request must not reach the executor")
			}
		})
	}
}

func TestQueryTimeoutAnswers200(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	env.executor.run = func(ctx context.Context, container, prompt string, timeout time.Duration) (query.Result, error) {
		return query.Result{
			TaskID:   "task-9",
			Output:   "⏺ Still compiling",
			ExitCode: 1,
			Duration: timeout,
		}, fault.New(fault.Timeout, "query did not complete within %s", timeout)
	}

	recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{
		"prompt":  "build the world",
		"timeout": 30,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for query timeout", recorder.Code)
	}
	response := decodeBody[queryResponse](t, recorder)
	if response.Success {
		t.Fatal("timed-out query must report success=false")
	}
	if response.Error != string(fault.Timeout) {
		t.Fatalf("error = %q, want Timeout", response.Error)
	}
	if response.Output != "⏺ Still compiling" {
		t.Fatalf("output = %q, want the partial transcript", response.Output)
	}
	if response.ExitCode != 1 || response.DurationSeconds != 30 {
		t.Fatalf("response = %+v", response)
	}
}

func TestQueryBusyConflict(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	env.executor.run = func(ctx context.Context, container, prompt string, timeout time.Duration) (query.Result, error) {
		return query.Result{}, fault.New(fault.ContainerNotReady, "container %q is processing another task", container)
	}

	recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{
		"prompt": "second query",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", recorder.Code)
	}
	response := decodeBody[errorResponse](t, recorder)
	if response.Error != string(fault.ContainerNotReady) {
		t.Fatalf("error = %q, want ContainerNotReady", response.Error)
	}
}

func TestQueryCancelled(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)
	env.executor.run = func(ctx context.Context, container, prompt string, timeout time.Duration) (query.Result, error) {
		return query.Result{
			TaskID:   "task-4",
			Output:   "partial work",
			ExitCode: 1,
			Duration: 3 * time.Second,
		}, fault.Wrap(fault.Cancelled, context.Canceled, "query cancelled before completion")
	}

	recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{
		"prompt": "interrupted",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	response := decodeBody[queryResponse](t, recorder)
	if response.Error != string(fault.Cancelled) || response.Output != "partial work" {
		t.Fatalf("response = %+v", response)
	}
}

func TestQueryRateLimited(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, func(config *Config) {
		config.Limiter = ratelimit.New(ratelimit.Config{
			Limit:  2,
			Window: time.Minute,
			Clock:  clock.Fake(gatewayEpoch),
		})
	})

	for i := range 2 {
		recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{"prompt": "q"})
		if recorder.Code != http.StatusOK {
			t.Fatalf("query %d: status = %d, want 200", i+1, recorder.Code)
		}
	}

	recorder := env.do(t, http.MethodPost, "/sessions/builder/query", map[string]any{"prompt": "q"})
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", recorder.Code)
	}
	if got := recorder.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
	response := decodeBody[errorResponse](t, recorder)
	if response.Error != string(fault.RateLimited) {
		t.Fatalf("error = %q, want RateLimited", response.Error)
	}
	// The limiter is per container: another session still gets through.
	other := env.do(t, http.MethodPost, "/sessions/reviewer/query", map[string]any{"prompt": "q"})
	if other.Code != http.StatusOK {
		t.Fatalf("other session status = %d, want 200", other.Code)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, func(config *Config) {
		config.Usage = func(ctx context.Context) []ContainerUsage {
			return []ContainerUsage{
				{
					Name:          "builder",
					CPUPercent:    42,
					MemoryBytes:   1610612736,
					MemoryLimit:   8589934592,
					UptimeSeconds: 3600,
				},
				{
					Name:        "reviewer",
					MemoryBytes: 512,
					MemoryLimit: 0,
				},
			}
		}
	})

	recorder := env.do(t, http.MethodGet, "/metrics/containers", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	rows := decodeBody[[]containerMetrics](t, recorder)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	first := rows[0]
	if first.Name != "builder" || first.CPUPercent != 42 || first.UptimeSeconds != 3600 {
		t.Fatalf("first row = %+v", first)
	}
	if first.MemUsageHuman != "1.5GiB" || first.MemLimitHuman != "8.0GiB" {
		t.Fatalf("memory formatting = %q / %q", first.MemUsageHuman, first.MemLimitHuman)
	}
	if rows[1].MemUsageHuman != "512B" || rows[1].MemLimitHuman != "unlimited" {
		t.Fatalf("second row = %+v", rows[1])
	}
}

func TestMetricsWithoutCollector(t *testing.T) {
	t.Parallel()
	env := newTestGateway(t, nil)

	recorder := env.do(t, http.MethodGet, "/metrics/containers", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got := strings.TrimSpace(recorder.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want [] rather than null", got)
	}
}

func TestHumanBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    uint64
		want string
	}{
		{n: 0, want: "0B"},
		{n: 512, want: "512B"},
		{n: 1024, want: "1.0KiB"},
		{n: 1536, want: "1.5KiB"},
		{n: 1048576, want: "1.0MiB"},
		{n: 8589934592, want: "8.0GiB"},
	}

	for _, tt := range tests {
		if got := humanBytes(tt.n); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	requirePanic := func(name string, config Config) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: New should panic", name)
			}
		}()
		New(config)
	}

	clk := clock.Fake(gatewayEpoch)
	eventHub := hub.New(hub.Config{Clock: clk})
	t.Cleanup(eventHub.Close)
	sessions := &fakeSessions{}
	executor := &fakeExecutor{}
	limiter := ratelimit.New(ratelimit.Config{Clock: clk})

	requirePanic("missing sessions", Config{Executor: executor, Limiter: limiter, Hub: eventHub})
	requirePanic("missing executor", Config{Sessions: sessions, Limiter: limiter, Hub: eventHub})
	requirePanic("missing limiter", Config{Sessions: sessions, Executor: executor, Hub: eventHub})
	requirePanic("missing hub", Config{Sessions: sessions, Executor: executor, Limiter: limiter})
}
