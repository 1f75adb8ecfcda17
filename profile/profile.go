// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile provides parsing, validation, and lookup for Warren
// role profiles. A profile describes everything the lifecycle manager
// needs to build a container for a role: image, agent command,
// provider, resource limits, hardening, and timing defaults.
//
// Profiles are authored on disk as JSONC files (JSON extended with
// comments and trailing commas), one file per role. Warren ships
// built-in profiles for the standard roles; a profiles directory
// overrides or extends them.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Profile
//  2. Validate: structural checks (role name, image, durations)
//  3. Store.Get: role name → Profile at session-create time
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// rolePattern matches valid role names: lowercase alphanumeric with
// interior hyphens. Role names appear in container names and labels.
var rolePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Provider names accepted by profiles and create requests. Claude is
// the hosted provider (credentials from the sealed bundle); Ollama is
// the local provider (reached over the host network, usually without
// credentials).
const (
	ProviderClaude = "claude"
	ProviderOllama = "ollama"
)

// Profile describes how to run an agent container for one role.
type Profile struct {
	// Role is the profile's name, referenced at session create time.
	Role string `json:"role"`

	// Image is the container image reference, including tag.
	Image string `json:"image"`

	// Provider selects the LLM backing the agent ("claude" or
	// "ollama"). Determines which credential the provisioner writes
	// into the container's secrets mount.
	Provider string `json:"provider"`

	// Command is the agent command launched inside the container's
	// tmux session. Empty uses the image default.
	Command []string `json:"command,omitempty"`

	// Workdir is the agent's working directory inside the container.
	Workdir string `json:"workdir,omitempty"`

	// Env entries are passed to the container at create time.
	// Secrets never travel this way.
	Env map[string]string `json:"env,omitempty"`

	// Mounts are additional bind mounts beyond the secrets mount.
	Mounts []Mount `json:"mounts,omitempty"`

	Resources Resources `json:"resources"`
	Hardening Hardening `json:"hardening"`

	// QueryTimeout overrides the detector's default completion
	// timeout for this role. Duration string ("5m"); empty uses the
	// daemon default.
	QueryTimeout string `json:"query_timeout,omitempty"`

	// IdleTTL overrides how long an idle Ready session survives
	// before the sweeper recycles it. Duration string; empty uses
	// the daemon default.
	IdleTTL string `json:"idle_ttl,omitempty"`
}

// Mount is a bind mount declared by a profile.
type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Resources holds the container resource limits.
type Resources struct {
	// Memory is a docker memory string ("2g"). Empty means no limit.
	Memory string `json:"memory,omitempty"`

	// CPUs is a docker cpus string ("2", "1.5"). Empty means no
	// limit.
	CPUs string `json:"cpus,omitempty"`

	// PidsLimit caps the container's process count. Zero means no
	// limit.
	PidsLimit int `json:"pids_limit,omitempty"`
}

// Hardening holds the container security settings. The zero value is
// the hardened default; profiles opt out explicitly.
type Hardening struct {
	// DisableReadOnly keeps the root filesystem writable. The
	// default (false) mounts the rootfs read-only with a tmpfs /tmp.
	DisableReadOnly bool `json:"disable_read_only,omitempty"`

	// TmpfsSize caps the /tmp tmpfs ("64m"). Empty uses the docker
	// client default.
	TmpfsSize string `json:"tmpfs_size,omitempty"`
}

// QueryTimeoutDuration returns the parsed QueryTimeout, or zero if
// unset. Call after Validate; an unparseable value returns zero.
func (p *Profile) QueryTimeoutDuration() time.Duration {
	return parseDurationOrZero(p.QueryTimeout)
}

// IdleTTLDuration returns the parsed IdleTTL, or zero if unset.
func (p *Profile) IdleTTLDuration() time.Duration {
	return parseDurationOrZero(p.IdleTTL)
}

func parseDurationOrZero(value string) time.Duration {
	if value == "" {
		return 0
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Profile.
func Parse(data []byte) (*Profile, error) {
	stripped := jsonc.ToJSON(data)

	var profile Profile
	if err := json.Unmarshal(stripped, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	return &profile, nil
}

// ReadFile reads a JSONC profile file from disk and parses it.
// Returns a descriptive error if the file cannot be read or the JSON
// is malformed.
func ReadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	profile, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return profile, nil
}

// NameFromPath extracts a role name from a profile file path by
// stripping the directory prefix and the file extension. For example,
// "profiles/developer.jsonc" returns "developer".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}

// Validate checks a Profile for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the profile
// is valid.
func Validate(profile *Profile) []string {
	var issues []string

	if profile.Role == "" {
		issues = append(issues, "role is required")
	} else if !rolePattern.MatchString(profile.Role) {
		issues = append(issues, fmt.Sprintf(
			"role %q: must be lowercase alphanumeric with interior hyphens", profile.Role))
	}

	if profile.Image == "" {
		issues = append(issues, "image is required")
	}

	switch profile.Provider {
	case ProviderClaude, ProviderOllama:
	case "":
		issues = append(issues, "provider is required")
	default:
		issues = append(issues, fmt.Sprintf(
			"provider %q: must be one of %s, %s", profile.Provider, ProviderClaude, ProviderOllama))
	}

	for index, mount := range profile.Mounts {
		prefix := fmt.Sprintf("mounts[%d]", index)
		if mount.Source == "" {
			issues = append(issues, prefix+": source is required")
		}
		if mount.Target == "" {
			issues = append(issues, prefix+": target is required")
		} else if !filepath.IsAbs(mount.Target) {
			issues = append(issues, fmt.Sprintf("%s: target %q must be absolute", prefix, mount.Target))
		}
	}

	if profile.QueryTimeout != "" {
		if _, err := time.ParseDuration(profile.QueryTimeout); err != nil {
			issues = append(issues, fmt.Sprintf("query_timeout %q: %v", profile.QueryTimeout, err))
		}
	}
	if profile.IdleTTL != "" {
		if _, err := time.ParseDuration(profile.IdleTTL); err != nil {
			issues = append(issues, fmt.Sprintf("idle_ttl %q: %v", profile.IdleTTL, err))
		}
	}

	if profile.Resources.PidsLimit < 0 {
		issues = append(issues, fmt.Sprintf("resources.pids_limit %d: must not be negative", profile.Resources.PidsLimit))
	}

	return issues
}
