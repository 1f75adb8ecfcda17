// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store holds the loaded profiles, keyed by role name. Profiles are
// loaded once at daemon startup; the Store is read-only afterwards
// and safe for concurrent use.
type Store struct {
	profiles map[string]*Profile
}

// Builtins returns the profiles Warren ships with. The standard roles
// cover the common agent setups; a profiles directory can override
// any of them by role name.
func Builtins() []*Profile {
	return []*Profile{
		{
			Role:     "developer",
			Image:    "ghcr.io/warren-foundation/agent-developer:latest",
			Provider: "claude",
			Command:  []string{"claude"},
			Workdir:  "/workspace",
			Resources: Resources{
				Memory:    "2g",
				CPUs:      "2",
				PidsLimit: 256,
			},
		},
		{
			Role:     "researcher",
			Image:    "ghcr.io/warren-foundation/agent-researcher:latest",
			Provider: "claude",
			Command:  []string{"claude"},
			Workdir:  "/workspace",
			Resources: Resources{
				Memory:    "4g",
				CPUs:      "2",
				PidsLimit: 256,
			},
			QueryTimeout: "10m",
		},
		{
			Role:     "performer",
			Image:    "ghcr.io/warren-foundation/agent-performer:latest",
			Provider: "ollama",
			Command:  []string{"ollama", "run", "llama3"},
			Workdir:  "/workspace",
			Resources: Resources{
				Memory:    "8g",
				CPUs:      "4",
				PidsLimit: 512,
			},
		},
	}
}

// LoadStore builds a Store from the built-in profiles plus every
// .json and .jsonc file in dir. Directory profiles override built-ins
// with the same role. An empty dir loads only the built-ins. Every
// loaded profile must validate; the role name must match the file
// name.
func LoadStore(dir string) (*Store, error) {
	store := &Store{profiles: make(map[string]*Profile)}

	for _, builtin := range Builtins() {
		store.profiles[builtin.Role] = builtin
	}

	if dir == "" {
		return store, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profiles directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := filepath.Ext(entry.Name())
		if extension != ".json" && extension != ".jsonc" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		profile, err := ReadFile(path)
		if err != nil {
			return nil, err
		}

		if issues := Validate(profile); len(issues) > 0 {
			return nil, fmt.Errorf("%s: invalid profile:\n  %s", path, strings.Join(issues, "\n  "))
		}

		if expected := NameFromPath(path); profile.Role != expected {
			return nil, fmt.Errorf("%s: role %q does not match file name (expected %q)",
				path, profile.Role, expected)
		}

		store.profiles[profile.Role] = profile
	}

	return store, nil
}

// Get returns the profile for a role.
func (s *Store) Get(role string) (*Profile, error) {
	profile, ok := s.profiles[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q (available: %s)",
			role, strings.Join(s.Roles(), ", "))
	}
	return profile, nil
}

// Roles returns the available role names, sorted.
func (s *Store) Roles() []string {
	roles := make([]string, 0, len(s.profiles))
	for role := range s.profiles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
