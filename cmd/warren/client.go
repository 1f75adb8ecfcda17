// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/warren/lib/netutil"
)

// apiClient is a thin client for the daemon's HTTP API. It has no
// global request timeout: queries legitimately run for minutes and the
// event stream runs until interrupted, so deadlines come from the
// per-call context instead.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newClient(server string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(server, "/"),
		http:    &http.Client{},
	}
}

// session mirrors one entry of the daemon's GET /sessions response.
type session struct {
	Name             string `json:"name"`
	Active           bool   `json:"active"`
	State            string `json:"state"`
	Role             string `json:"role"`
	URL              string `json:"url,omitempty"`
	Port             int    `json:"port,omitempty"`
	Provider         string `json:"llm_provider,omitempty"`
	WorkspaceProfile string `json:"workspace_profile,omitempty"`
}

type createRequest struct {
	Name       string   `json:"name"`
	Role       string   `json:"role,omitempty"`
	Volumes    []string `json:"volumes,omitempty"`
	Provider   string   `json:"llm_provider,omitempty"`
	Model      string   `json:"llm_model,omitempty"`
	OllamaHost string   `json:"ollama_host,omitempty"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
}

// queryResult mirrors the daemon's query response. The daemon answers
// 200 for completed and timed-out tasks and 400 for cancelled ones;
// all three carry this shape, with Error naming the failure kind.
type queryResult struct {
	TaskID          string  `json:"task_id"`
	Success         bool    `json:"success"`
	Output          string  `json:"output"`
	Error           string  `json:"error"`
	Message         string  `json:"message"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type containerMetrics struct {
	Name          string `json:"name"`
	CPUPercent    int    `json:"cpu_percent"`
	MemUsageHuman string `json:"mem_usage_human"`
	MemLimitHuman string `json:"mem_limit_human"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (c *apiClient) sessions(ctx context.Context) ([]session, error) {
	var sessions []session
	if err := c.get(ctx, "/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *apiClient) create(ctx context.Context, req createRequest) (actionResponse, error) {
	var resp actionResponse
	if err := c.post(ctx, "/create", req, &resp); err != nil {
		return actionResponse{}, err
	}
	return resp, nil
}

// action invokes one of the name-only lifecycle endpoints (/start,
// /stop, /delete).
func (c *apiClient) action(ctx context.Context, verb, name string) error {
	payload := struct {
		Name string `json:"name"`
	}{Name: name}
	return c.post(ctx, "/"+verb, payload, nil)
}

func (c *apiClient) metrics(ctx context.Context) ([]containerMetrics, error) {
	var rows []containerMetrics
	if err := c.get(ctx, "/metrics/containers", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// query submits a prompt and waits for the task to finish. Both
// successful and failed tasks come back as a queryResult (the partial
// transcript of a timed-out or cancelled task is still output); only
// gateway rejections (validation, rate limit, busy container) become
// errors.
func (c *apiClient) query(ctx context.Context, name, prompt string, timeoutSeconds int) (queryResult, error) {
	payload := struct {
		Prompt  string `json:"prompt"`
		Timeout int    `json:"timeout,omitempty"`
	}{Prompt: prompt, Timeout: timeoutSeconds}
	data, err := json.Marshal(payload)
	if err != nil {
		return queryResult{}, fmt.Errorf("encoding query request: %w", err)
	}

	endpoint := c.baseURL + "/sessions/" + url.PathEscape(name) + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return queryResult{}, fmt.Errorf("building query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return queryResult{}, fmt.Errorf("connecting to daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := netutil.ReadResponse(resp.Body)
	if err != nil {
		return queryResult{}, fmt.Errorf("reading daemon response: %w", err)
	}

	var result queryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return queryResult{}, &apiError{status: resp.StatusCode, message: snippet(raw)}
	}
	if resp.StatusCode != http.StatusOK && result.TaskID == "" && result.Output == "" {
		// A rejection envelope, not a task result.
		return queryResult{}, errorFromBody(resp.StatusCode, raw)
	}
	return result, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *apiClient) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := netutil.ReadResponse(resp.Body)
		return errorFromBody(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := netutil.DecodeResponse(resp.Body, out); err != nil {
		return fmt.Errorf("decoding daemon response: %w", err)
	}
	return nil
}

// apiError is a non-200 daemon response surfaced to the operator.
type apiError struct {
	status  int
	kind    string
	message string
}

func (e *apiError) Error() string {
	switch {
	case e.message != "" && e.kind != "":
		return fmt.Sprintf("%s (%s)", e.message, e.kind)
	case e.message != "":
		return e.message
	case e.kind != "":
		return fmt.Sprintf("%s (HTTP %d)", e.kind, e.status)
	default:
		return fmt.Sprintf("daemon returned HTTP %d", e.status)
	}
}

// errorFromBody builds an apiError from an error response body,
// preferring the daemon's structured envelope and falling back to a
// raw snippet for anything that is not a warren daemon.
func errorFromBody(status int, raw []byte) error {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return &apiError{status: status, kind: envelope.Error, message: envelope.Message}
	}
	return &apiError{status: status, message: snippet(raw)}
}

// snippet trims an unstructured body for inclusion in one error line.
func snippet(raw []byte) string {
	body := strings.TrimSpace(string(raw))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return body
}
