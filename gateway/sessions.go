// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/warren/lib/docker"
	"github.com/bureau-foundation/warren/lifecycle"
)

// sessionSummary is the dashboard's list row: enough to render the
// session table without the runtime internals a Snapshot carries.
type sessionSummary struct {
	Name             string `json:"name"`
	Active           bool   `json:"active"`
	State            string `json:"state"`
	Role             string `json:"role"`
	URL              string `json:"url,omitempty"`
	Port             int    `json:"port,omitempty"`
	Provider         string `json:"llm_provider,omitempty"`
	WorkspaceProfile string `json:"workspace_profile,omitempty"`
}

func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	snapshots := g.sessions.List()
	summaries := make([]sessionSummary, 0, len(snapshots))
	for _, snap := range snapshots {
		summaries = append(summaries, sessionSummary{
			Name:             snap.Name,
			Active:           snap.Active,
			State:            string(snap.State),
			Role:             snap.Role,
			URL:              snap.URL,
			Port:             snap.Port,
			Provider:         snap.Provider,
			WorkspaceProfile: snap.Profile,
		})
	}
	g.writeJSON(w, summaries)
}

type createRequest struct {
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Volumes    []string `json:"volumes,omitempty"`
	Provider   string   `json:"llm_provider,omitempty"`
	Model      string   `json:"llm_model,omitempty"`
	OllamaHost string   `json:"ollama_host,omitempty"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
}

func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		g.sendValidation(w, "name is required")
		return
	}
	mounts, err := parseMounts(req.Volumes)
	if err != nil {
		g.sendValidation(w, "%s", err.Error())
		return
	}
	snapshot, err := g.sessions.Create(r.Context(), lifecycle.CreateRequest{
		Name:       req.Name,
		Role:       req.Role,
		Provider:   req.Provider,
		Model:      req.Model,
		OllamaHost: req.OllamaHost,
		Volumes:    mounts,
	})
	if err != nil {
		g.sendFault(w, err)
		return
	}
	g.writeJSON(w, actionResponse{Success: true, URL: snapshot.URL})
}

// nameRequest is the body for the start/stop/delete actions.
type nameRequest struct {
	Name string `json:"name"`
}

func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	g.handleAction(w, r, g.sessions.Start)
}

func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	g.handleAction(w, r, g.sessions.Stop)
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	g.handleAction(w, r, g.sessions.Delete)
}

func (g *Gateway) handleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, name string) error) {
	var req nameRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		g.sendValidation(w, "name is required")
		return
	}
	if err := action(r.Context(), req.Name); err != nil {
		g.sendFault(w, err)
		return
	}
	g.writeJSON(w, actionResponse{Success: true})
}

// parseMounts converts "host:container[:mode]" volume specs into
// mounts. Both paths must be absolute; mode is "ro" or "rw" and
// defaults to read-write.
func parseMounts(specs []string) ([]docker.Mount, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	mounts := make([]docker.Mount, 0, len(specs))
	for _, spec := range specs {
		mount, err := parseMount(spec)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}

func parseMount(spec string) (docker.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return docker.Mount{}, fmt.Errorf("volume %q: want host:container[:mode]", spec)
	}
	host, target := parts[0], parts[1]
	if !strings.HasPrefix(host, "/") {
		return docker.Mount{}, fmt.Errorf("volume %q: host path must be absolute", spec)
	}
	if !strings.HasPrefix(target, "/") {
		return docker.Mount{}, fmt.Errorf("volume %q: container path must be absolute", spec)
	}
	mount := docker.Mount{Source: host, Target: target}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			mount.ReadOnly = true
		case "rw":
		default:
			return docker.Mount{}, fmt.Errorf("volume %q: mode must be ro or rw", spec)
		}
	}
	return mount, nil
}
