// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is warren's HTTP surface: the JSON API the dashboard
// and the operator CLI consume, plus the server-sent event stream.
//
// The gateway owns request decoding, validation of request shape, and
// the mapping from fault kinds to HTTP status codes. Domain decisions
// live in the collaborators (lifecycle manager, query executor, rate
// limiter); the gateway never mutates container state itself.
//
// Error envelope: every rejected or failed operation carries the
// machine-readable kind in "error" and the human-readable detail in
// "message". Query timeouts are the deliberate exception to status
// mapping — they answer 200 with success:false so the partial
// transcript reaches the caller as a payload, not an error page.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/warren/fault"
	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lifecycle"
	"github.com/bureau-foundation/warren/query"
	"github.com/bureau-foundation/warren/ratelimit"
)

// Sessions is the lifecycle surface the gateway drives. The lifecycle
// manager implements it.
type Sessions interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Snapshot, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	List() []lifecycle.Snapshot
}

// QueryRunner executes prompts against ready containers. The query
// executor implements it.
type QueryRunner interface {
	Execute(ctx context.Context, container, prompt string, timeout time.Duration) (query.Result, error)
}

// Config configures a Gateway.
type Config struct {
	// Sessions owns container lifecycle. Required.
	Sessions Sessions

	// Executor runs queries. Required.
	Executor QueryRunner

	// Limiter gates query admission per container. Required.
	Limiter *ratelimit.Limiter

	// Hub feeds the event stream. Required.
	Hub *hub.Hub

	// Usage supplies the per-container resource rows for the metrics
	// endpoint. Optional; nil serves an empty list.
	Usage func(ctx context.Context) []ContainerUsage

	// MaxBodyBytes caps JSON request bodies. Default 64 KiB.
	MaxBodyBytes int64

	// HeartbeatInterval is the SSE comment cadence that keeps idle
	// event streams alive through proxies. Default 15s.
	HeartbeatInterval time.Duration

	// Clock drives SSE heartbeats. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Gateway serves the warren HTTP API. Safe for concurrent use.
type Gateway struct {
	sessions  Sessions
	executor  QueryRunner
	limiter   *ratelimit.Limiter
	hub       *hub.Hub
	usage     func(ctx context.Context) []ContainerUsage
	maxBody   int64
	heartbeat time.Duration
	clk       clock.Clock
	logger    *slog.Logger
}

// New creates a Gateway. Panics if a required collaborator is missing.
func New(config Config) *Gateway {
	if config.Sessions == nil {
		panic("gateway.New: Sessions is required")
	}
	if config.Executor == nil {
		panic("gateway.New: Executor is required")
	}
	if config.Limiter == nil {
		panic("gateway.New: Limiter is required")
	}
	if config.Hub == nil {
		panic("gateway.New: Hub is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 10
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		sessions:  config.Sessions,
		executor:  config.Executor,
		limiter:   config.Limiter,
		hub:       config.Hub,
		usage:     config.Usage,
		maxBody:   config.MaxBodyBytes,
		heartbeat: config.HeartbeatInterval,
		clk:       config.Clock,
		logger:    config.Logger,
	}
}

// Handler returns the route mux. Method and path matching is done by
// the mux patterns; handlers assume both already hold.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	mux.HandleFunc("GET /sessions", g.handleSessions)
	mux.HandleFunc("POST /create", g.handleCreate)
	mux.HandleFunc("POST /start", g.handleStart)
	mux.HandleFunc("POST /stop", g.handleStop)
	mux.HandleFunc("POST /delete", g.handleDelete)
	mux.HandleFunc("POST /sessions/{name}/query", g.handleQuery)
	mux.HandleFunc("GET /metrics/containers", g.handleMetrics)
	mux.HandleFunc("GET /events", g.handleEvents)
	return mux
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, map[string]string{"status": "ok"})
}

// errorResponse is the shared error envelope: machine-readable kind in
// Error, human-readable detail in Message.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusForKind maps the fault taxonomy to HTTP status codes. The
// query handler overrides Timeout to 200 so partial output travels in
// the response body.
func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.NameConflict, fault.ContainerNotReady:
		return http.StatusConflict
	case fault.RateLimited:
		return http.StatusTooManyRequests
	case fault.PolicyDenied, fault.ImageVerificationFailed:
		return http.StatusForbidden
	case fault.RuntimeUnavailable:
		return http.StatusServiceUnavailable
	case fault.Timeout:
		return http.StatusGatewayTimeout
	case fault.Cancelled:
		// The closest standard status to "client went away".
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// faultMessage extracts the human-readable half of a classified
// failure, falling back to the full error string.
func faultMessage(err error) string {
	var classified *fault.Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	return err.Error()
}

// sendFault maps a component failure to its status and envelope.
func (g *Gateway) sendFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	if kind == "" {
		g.logger.Error("unclassified failure reached the gateway", "error", err)
		g.sendError(w, http.StatusInternalServerError, "Internal", "%s", err.Error())
		return
	}
	g.sendError(w, statusForKind(kind), string(kind), "%s", faultMessage(err))
}

// sendError writes the error envelope with the given status.
func (g *Gateway) sendError(w http.ResponseWriter, status int, kind, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error:   kind,
		Message: fmt.Sprintf(format, args...),
	}); err != nil {
		g.logger.Warn("writing JSON error response", "error", err, "status", status)
	}
}

// sendValidation rejects a malformed request before any state change.
func (g *Gateway) sendValidation(w http.ResponseWriter, format string, args ...any) {
	g.sendError(w, http.StatusBadRequest, string(fault.PolicyDenied), format, args...)
}

// writeJSON encodes value as a 200 response. Encoding failures
// (typically a disconnected client) are logged — there is no one left
// to send a correction to.
func (g *Gateway) writeJSON(w http.ResponseWriter, value any) {
	g.writeJSONStatus(w, http.StatusOK, value)
}

func (g *Gateway) writeJSONStatus(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		g.logger.Warn("writing JSON response", "error", err)
	}
}

// decodeJSON decodes a request body under the gateway's size cap. On
// failure the 400 (or 413) response has already been written; the
// handler just returns.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, value any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, g.maxBody)
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendError(w, http.StatusRequestEntityTooLarge, string(fault.PolicyDenied),
				"request body exceeds %d bytes", tooLarge.Limit)
			return false
		}
		g.sendValidation(w, "invalid JSON body: %v", err)
		return false
	}
	return true
}
