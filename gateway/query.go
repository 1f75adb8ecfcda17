// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/warren/fault"
	"github.com/bureau-foundation/warren/query"
)

const (
	defaultQueryTimeout = 300 * time.Second
	minQueryTimeout     = 10 * time.Second
	maxQueryTimeout     = 3600 * time.Second
)

type queryRequest struct {
	Prompt string `json:"prompt"`

	// Timeout is in whole seconds; zero selects the default.
	Timeout int `json:"timeout,omitempty"`
}

// queryResponse is the wire shape for both completed and failed
// queries. A timed-out query answers 200 with Success false and the
// partial transcript in Output, so callers always receive whatever the
// agent produced before the deadline.
type queryResponse struct {
	TaskID          string  `json:"task_id,omitempty"`
	Success         bool    `json:"success"`
	Output          string  `json:"output"`
	Error           string  `json:"error,omitempty"`
	Message         string  `json:"message,omitempty"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req queryRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		g.sendValidation(w, "prompt is required")
		return
	}
	timeout := defaultQueryTimeout
	if req.Timeout != 0 {
		timeout = time.Duration(req.Timeout) * time.Second
		if timeout < minQueryTimeout || timeout > maxQueryTimeout {
			g.sendValidation(w, "timeout must be between %d and %d seconds",
				int(minQueryTimeout.Seconds()), int(maxQueryTimeout.Seconds()))
			return
		}
	}

	decision := g.limiter.Allow(name)
	if !decision.Allowed {
		retryAfter := int((decision.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		g.sendError(w, http.StatusTooManyRequests, string(fault.RateLimited),
			"query rate limit exceeded for %q; retry in %ds", name, retryAfter)
		return
	}

	result, err := g.executor.Execute(r.Context(), name, req.Prompt, timeout)
	if err == nil {
		g.writeJSON(w, queryResult(result, "", ""))
		return
	}

	switch fault.KindOf(err) {
	case fault.Timeout:
		// Deliberate 200: the partial transcript is the payload the
		// caller came for, and the envelope already says it failed.
		g.writeJSON(w, queryResult(result, string(fault.Timeout), faultMessage(err)))
	case fault.Cancelled:
		g.writeJSONStatus(w, http.StatusBadRequest,
			queryResult(result, string(fault.Cancelled), faultMessage(err)))
	default:
		g.sendFault(w, err)
	}
}

func queryResult(result query.Result, kind, message string) queryResponse {
	return queryResponse{
		TaskID:          result.TaskID,
		Success:         result.Success,
		Output:          result.Output,
		Error:           kind,
		Message:         message,
		ExitCode:        result.ExitCode,
		DurationSeconds: result.Duration.Seconds(),
	}
}
