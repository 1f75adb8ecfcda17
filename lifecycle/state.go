// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle owns the container registry and the state machine
// every agent container moves through. All state mutation goes through
// the Manager's transition function; other components read snapshots
// or issue transition requests, never mutate directly.
//
// The states:
//
//	Provisioning → Configuring → Starting → Monitoring → Ready ⇄ Processing
//	Monitoring/Ready → Stopped → Starting (restart)
//	anything → Recycled (terminal; the name is released)
//
// Provisioning verifies the image signature, Configuring applies
// hardening and injects credentials, Starting launches the runtime
// container, Monitoring waits for the first successful health probe,
// Ready accepts queries, Processing runs exactly one query at a time.
// Recycled is terminal: runtime resources are reclaimed and the name
// becomes free for reuse.
package lifecycle

import "fmt"

// State is a container's position in the lifecycle.
type State string

const (
	// Provisioning: the create request is accepted, the name and port
	// are reserved, and the image is being verified.
	Provisioning State = "provisioning"

	// Configuring: hardening flags, mounts, and credentials are being
	// assembled and installed.
	Configuring State = "configuring"

	// Starting: the runtime container is launching.
	Starting State = "starting"

	// Monitoring: launched, awaiting the first successful health
	// probe.
	Monitoring State = "monitoring"

	// Ready: healthy and accepting queries.
	Ready State = "ready"

	// Processing: running exactly one query. The Ready→Processing
	// edge is a compare-and-swap under the registry lock, so two
	// concurrent queries can never both hold it.
	Processing State = "processing"

	// Stopped: the runtime container exists but is not running. A
	// start request relaunches it; a delete request recycles it.
	Stopped State = "stopped"

	// Recycled: terminal. Runtime resources are reclaimed and the
	// name is released.
	Recycled State = "recycled"
)

// Active reports whether the state counts as running for the session
// list surface (the runtime container is up).
func (s State) Active() bool {
	switch s {
	case Monitoring, Ready, Processing:
		return true
	}
	return false
}

// Terminal reports whether the state ends the container's life.
func (s State) Terminal() bool { return s == Recycled }

// transitions is the allowed-edge table. Recycled is reachable from
// every state through Delete and forced teardown, so it appears on
// every row rather than being special-cased in the transition check.
var transitions = map[State][]State{
	Provisioning: {Configuring, Recycled},
	Configuring:  {Starting, Recycled},
	Starting:     {Monitoring, Recycled},
	Monitoring:   {Ready, Stopped, Recycled},
	Ready:        {Processing, Stopped, Recycled},
	Processing:   {Ready, Recycled},
	Stopped:      {Starting, Recycled},
	Recycled:     {},
}

// CanTransition reports whether the edge from → to is in the table.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition returns a descriptive error for a disallowed edge.
func checkTransition(name string, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("container %q: invalid transition %s → %s", name, from, to)
	}
	return nil
}
