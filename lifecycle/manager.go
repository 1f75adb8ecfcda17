// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/warren/fault"
	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lib/docker"
	"github.com/bureau-foundation/warren/lib/sealed"
	"github.com/bureau-foundation/warren/profile"
)

// webTerminalPort is the in-container port of the web terminal every
// agent image exposes. The manager publishes it on an allocated host
// port.
const webTerminalPort = 7681

// secretsMount is where credentials are installed inside the
// container: a small private tmpfs, so secret bytes never touch the
// image filesystem and vanish with the container.
const (
	secretsMount = "/run/secrets"
	secretsTmpfs = secretsMount + ":rw,noexec,nosuid,size=1m,mode=0700"
)

// namePattern matches valid container names: alphanumeric first
// character, then alphanumerics, underscores, dots, and hyphens. The
// same alphabet the runtime accepts, which keeps names usable as
// docker names, tmux session targets, and path components.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

const maxNameLength = 64

// Runtime is the container runtime surface the manager drives.
// *docker.Client satisfies it; tests inject a fake.
type Runtime interface {
	CreateContainer(ctx context.Context, spec docker.CreateSpec) (string, error)
	StartContainer(ctx context.Context, nameOrID string) error
	StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, nameOrID string, force bool) error
	Inspect(ctx context.Context, nameOrID string) (*docker.ContainerInfo, error)
	ListManaged(ctx context.Context) ([]string, error)
	ExecInput(ctx context.Context, nameOrID string, stdin []byte, command ...string) (string, error)
	ImageDigest(ctx context.Context, image string) (string, error)
}

// CredentialSource yields provider credentials at configure time.
// sealed.Bundle satisfies it. A lookup error means no credential is
// available for that provider, which is not fatal: the container
// starts without one.
type CredentialSource interface {
	Lookup(provider string) (sealed.Credential, error)
}

// CreateRequest is a validated session create request.
type CreateRequest struct {
	// Name is the container name. Required.
	Name string

	// Role selects the profile. Empty uses the manager's default.
	Role string

	// Provider overrides the profile's LLM provider.
	Provider string

	// Model overrides the provider's default model.
	Model string

	// OllamaHost points the local provider at a specific endpoint.
	OllamaHost string

	// Volumes are bind mounts appended after the profile's mounts.
	Volumes []docker.Mount
}

// Snapshot is a point-in-time copy of one container's registry entry.
// Snapshots are how every other component reads container state.
type Snapshot struct {
	Name           string    `json:"name"`
	Role           string    `json:"role"`
	State          State     `json:"state"`
	Active         bool      `json:"active"`
	Image          string    `json:"image"`
	Provider       string    `json:"llm_provider"`
	Model          string    `json:"llm_model,omitempty"`
	Port           int       `json:"port"`
	URL            string    `json:"url"`
	Profile        string    `json:"workspace_profile"`
	RuntimeID      string    `json:"runtime_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastTransition time.Time `json:"last_transition"`
}

// container is a registry entry. All fields are guarded by the
// manager's mutex.
type container struct {
	name        string
	role        string
	profileName string
	image       string
	provider    string
	model       string
	port        int
	runtimeID   string
	state       State

	createdAt      time.Time
	lastTransition time.Time
	lastTaskAt     time.Time

	probeFailures int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Runtime drives the container runtime. Required.
	Runtime Runtime

	// Profiles resolves roles. Required.
	Profiles *profile.Store

	// Hub receives lifecycle events. Required.
	Hub *hub.Hub

	// Verifier checks image signatures. Required unless VerifyMode is
	// off.
	Verifier Verifier

	// VerifyMode is off, warn, or enforce. Empty means off.
	VerifyMode VerifyMode

	// Credentials supplies provider credentials for injection. Nil
	// disables injection.
	Credentials CredentialSource

	// PortBase is the first host port tried when allocating. Default
	// 7681.
	PortBase int

	// DefaultRole is applied when a create request omits the role.
	// Default "developer".
	DefaultRole string

	// FailureThreshold is how many consecutive failed health probes
	// force a recycle. Default 3.
	FailureThreshold int

	// StopTimeout is the grace period passed to the runtime on stop.
	// Default 10s.
	StopTimeout time.Duration

	// OnRecycle is called after a container's name is released. The
	// daemon hooks per-session cleanup (rate limiter history, metrics
	// baselines) here. Optional.
	OnRecycle func(name string)

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Manager owns the container registry. It is the sole writer of
// container state; every transition funnels through it. Safe for
// concurrent use.
type Manager struct {
	runtime          Runtime
	profiles         *profile.Store
	hub              *hub.Hub
	verifier         Verifier
	verifyMode       VerifyMode
	credentials      CredentialSource
	portBase         int
	defaultRole      string
	failureThreshold int
	stopTimeout      time.Duration
	onRecycle        func(string)
	clk              clock.Clock
	logger           *slog.Logger

	mu         sync.Mutex
	containers map[string]*container
	ports      map[int]string
}

// NewManager creates a Manager. Panics if a required collaborator is
// missing, since that is a wiring bug rather than a runtime
// condition.
func NewManager(config ManagerConfig) *Manager {
	if config.Runtime == nil {
		panic("lifecycle.NewManager: Runtime is required")
	}
	if config.Profiles == nil {
		panic("lifecycle.NewManager: Profiles is required")
	}
	if config.Hub == nil {
		panic("lifecycle.NewManager: Hub is required")
	}
	if config.VerifyMode == "" {
		config.VerifyMode = VerifyOff
	}
	if config.VerifyMode != VerifyOff && config.Verifier == nil {
		panic("lifecycle.NewManager: Verifier is required unless VerifyMode is off")
	}
	if config.PortBase <= 0 {
		config.PortBase = 7681
	}
	if config.DefaultRole == "" {
		config.DefaultRole = "developer"
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		runtime:          config.Runtime,
		profiles:         config.Profiles,
		hub:              config.Hub,
		verifier:         config.Verifier,
		verifyMode:       config.VerifyMode,
		credentials:      config.Credentials,
		portBase:         config.PortBase,
		defaultRole:      config.DefaultRole,
		failureThreshold: config.FailureThreshold,
		stopTimeout:      config.StopTimeout,
		onRecycle:        config.OnRecycle,
		clk:              config.Clock,
		logger:           config.Logger,
		containers:       make(map[string]*container),
		ports:            make(map[int]string),
	}
}

// validateName checks the container name alphabet and length.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name %q exceeds %d characters", name, maxNameLength)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("name %q must not contain %q", name, "..")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must start with an alphanumeric and contain only alphanumerics, underscores, dots, and hyphens", name)
	}
	return nil
}

// Create provisions, configures, starts, and begins monitoring a new
// container. On success the container is Ready (or Monitoring when
// the first probe is still pending). On failure after registration
// the partial container is recycled and the name released.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Snapshot, error) {
	if err := validateName(req.Name); err != nil {
		return Snapshot{}, fault.Wrap(fault.PolicyDenied, err, "invalid container name")
	}

	role := req.Role
	if role == "" {
		role = m.defaultRole
	}
	prof, err := m.profiles.Get(role)
	if err != nil {
		return Snapshot{}, fault.Wrap(fault.PolicyDenied, err, "unknown role %q", role)
	}

	provider := req.Provider
	if provider == "" {
		provider = prof.Provider
	}
	if provider != profile.ProviderClaude && provider != profile.ProviderOllama {
		return Snapshot{}, fault.New(fault.PolicyDenied,
			"provider %q: must be one of %s, %s", provider, profile.ProviderClaude, profile.ProviderOllama)
	}

	// Reserve the name and a host port. From here on, every failure
	// path must release them via teardown.
	m.mu.Lock()
	if _, exists := m.containers[req.Name]; exists {
		m.mu.Unlock()
		return Snapshot{}, fault.New(fault.NameConflict, "container %q already exists", req.Name)
	}
	port, err := m.allocatePortLocked(req.Name)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, fault.Wrap(fault.RuntimeUnavailable, err, "allocating port for %q", req.Name)
	}
	now := m.clk.Now()
	entry := &container{
		name:           req.Name,
		role:           role,
		profileName:    prof.Role,
		image:          prof.Image,
		provider:       provider,
		model:          req.Model,
		port:           port,
		state:          Provisioning,
		createdAt:      now,
		lastTransition: now,
	}
	m.containers[req.Name] = entry
	m.mu.Unlock()

	m.logger.Info("creating container",
		"container", req.Name, "role", role, "image", prof.Image,
		"provider", provider, "port", port)
	m.hub.Publish(hub.KindContainerCreated, req.Name, map[string]any{
		"role":     role,
		"image":    prof.Image,
		"provider": provider,
		"port":     port,
	})

	snapshot, err := m.bringUp(ctx, entry, prof, req)
	if err != nil {
		reason := "create failed"
		if fault.Is(err, fault.ImageVerificationFailed) {
			reason = "image verification failed"
		}
		if teardownErr := m.teardown(ctx, req.Name, reason); teardownErr != nil {
			m.logger.Error("teardown after failed create", "container", req.Name, "error", teardownErr)
		}
		return Snapshot{}, err
	}
	return snapshot, nil
}

// bringUp walks a freshly registered container through Provisioning,
// Configuring, Starting, and Monitoring. The caller handles teardown
// on error.
func (m *Manager) bringUp(ctx context.Context, entry *container, prof *profile.Profile, req CreateRequest) (Snapshot, error) {
	name := entry.name

	if err := m.verifyImage(ctx, prof.Image); err != nil {
		return Snapshot{}, err
	}
	if err := m.setState(name, Configuring, ""); err != nil {
		return Snapshot{}, err
	}

	credential := m.lookupCredential(entry.provider)
	spec := m.buildCreateSpec(entry, prof, req, credential)
	if err := m.setState(name, Starting, ""); err != nil {
		return Snapshot{}, err
	}

	runtimeID, err := m.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return Snapshot{}, runtimeFault(err, "creating container %q", name)
	}
	m.mu.Lock()
	entry.runtimeID = runtimeID
	m.mu.Unlock()

	if err := m.runtime.StartContainer(ctx, name); err != nil {
		return Snapshot{}, runtimeFault(err, "starting container %q", name)
	}
	if err := m.installCredential(ctx, name, entry.provider, credential); err != nil {
		return Snapshot{}, err
	}
	if err := m.setState(name, Monitoring, ""); err != nil {
		return Snapshot{}, err
	}

	// First probe, inline: a healthy launch is Ready before Create
	// returns, so a caller can query immediately.
	m.probeNow(ctx, name)
	return m.mustSnapshot(name)
}

// verifyImage applies the verification policy during Provisioning.
func (m *Manager) verifyImage(ctx context.Context, image string) error {
	if m.verifyMode == VerifyOff {
		return nil
	}

	digestRef, err := m.runtime.ImageDigest(ctx, image)
	if err != nil {
		if m.verifyMode == VerifyEnforce {
			return fault.Wrap(fault.ImageVerificationFailed, err,
				"image %q has no verifiable digest", image)
		}
		m.logger.Warn("image digest unavailable, skipping verification",
			"image", image, "error", err)
		return nil
	}

	if err := m.verifier.Verify(ctx, digestRef); err != nil {
		if m.verifyMode == VerifyEnforce {
			return fault.Wrap(fault.ImageVerificationFailed, err,
				"image %q failed signature verification", digestRef)
		}
		m.logger.Warn("image signature verification failed, proceeding",
			"image", digestRef, "error", err)
		return nil
	}
	return nil
}

// lookupCredential fetches the provider's credential, treating any
// lookup failure as "none configured".
func (m *Manager) lookupCredential(provider string) sealed.Credential {
	if m.credentials == nil {
		return sealed.Credential{}
	}
	credential, err := m.credentials.Lookup(provider)
	if err != nil {
		m.logger.Debug("no credential for provider", "provider", provider, "error", err)
		return sealed.Credential{}
	}
	return credential
}

// buildCreateSpec assembles the runtime create request: labels for
// adoption, hardening from the profile, the web terminal port
// publish, and environment. Secret material never enters Env; only
// the path of the installed key file does.
func (m *Manager) buildCreateSpec(entry *container, prof *profile.Profile, req CreateRequest, credential sealed.Credential) docker.CreateSpec {
	env := map[string]string{
		"WARREN_ROLE":     entry.role,
		"WARREN_PROVIDER": entry.provider,
	}
	maps.Copy(env, prof.Env)
	maps.Copy(env, credential.Env)
	if entry.model != "" {
		env["WARREN_MODEL"] = entry.model
	}
	switch entry.provider {
	case profile.ProviderClaude:
		if credential.BaseURL != "" {
			env["ANTHROPIC_BASE_URL"] = credential.BaseURL
		}
		if credential.APIKey != "" {
			env["ANTHROPIC_API_KEY_FILE"] = secretsMount + "/" + credentialFileName(entry.provider)
		}
	case profile.ProviderOllama:
		host := req.OllamaHost
		if host == "" {
			host = credential.BaseURL
		}
		if host != "" {
			env["OLLAMA_HOST"] = host
		}
	}

	mounts := make([]docker.Mount, 0, len(prof.Mounts)+len(req.Volumes))
	for _, mount := range prof.Mounts {
		mounts = append(mounts, docker.Mount{
			Source:   mount.Source,
			Target:   mount.Target,
			ReadOnly: mount.ReadOnly,
		})
	}
	mounts = append(mounts, req.Volumes...)

	return docker.CreateSpec{
		Name:    entry.name,
		Image:   prof.Image,
		Command: prof.Command,
		Workdir: prof.Workdir,
		Labels: map[string]string{
			docker.LabelRole:     entry.role,
			docker.LabelProvider: entry.provider,
			docker.LabelProfile:  entry.profileName,
		},
		HostPort:      entry.port,
		ContainerPort: webTerminalPort,
		Env:           env,
		Mounts:        mounts,
		Memory:        prof.Resources.Memory,
		CPUs:          prof.Resources.CPUs,
		PidsLimit:     prof.Resources.PidsLimit,
		Hardened:      !prof.Hardening.DisableReadOnly,
		TmpfsSize:     prof.Hardening.TmpfsSize,
		ExtraTmpfs:    []string{secretsTmpfs},
	}
}

// credentialFileName is the file installed under the secrets mount
// for a provider.
func credentialFileName(provider string) string {
	return provider + "_api_key"
}

// installCredential writes the provider's API key into the running
// container's secrets tmpfs, mode 0400, via exec with the key on
// stdin. No-op when there is no key.
func (m *Manager) installCredential(ctx context.Context, name, provider string, credential sealed.Credential) error {
	if credential.APIKey == "" {
		return nil
	}
	file := secretsMount + "/" + credentialFileName(provider)
	command := fmt.Sprintf("umask 277 && cat > %s && chmod 400 %s", file, file)
	if _, err := m.runtime.ExecInput(ctx, name, []byte(credential.APIKey), "sh", "-c", command); err != nil {
		return runtimeFault(err, "installing %s credential in %q", provider, name)
	}
	m.logger.Debug("credential installed", "container", name, "provider", provider, "file", file)
	return nil
}

// runtimeFault classifies a runtime error into the fault taxonomy.
func runtimeFault(err error, format string, args ...any) error {
	kind := fault.RuntimeUnavailable
	if errors.Is(err, docker.ErrNameConflict) {
		kind = fault.NameConflict
	}
	return fault.Wrap(kind, err, format, args...)
}

// allocatePortLocked reserves the lowest free host port at or above
// the base. Caller holds m.mu.
func (m *Manager) allocatePortLocked(name string) (int, error) {
	for port := m.portBase; port < m.portBase+1000; port++ {
		if _, used := m.ports[port]; !used {
			m.ports[port] = name
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port in %d-%d", m.portBase, m.portBase+999)
}

// setState applies a validated transition and emits the state's
// canonical event. reason annotates stop events.
func (m *Manager) setState(name string, to State, reason string) error {
	m.mu.Lock()
	entry, ok := m.containers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("container %q: no longer registered", name)
	}
	from := entry.state
	if err := checkTransition(name, from, to); err != nil {
		m.mu.Unlock()
		return err
	}
	entry.state = to
	entry.lastTransition = m.clk.Now()
	runtimeID := entry.runtimeID
	m.mu.Unlock()

	m.logger.Debug("container state", "container", name, "from", from, "to", to)

	switch {
	case to == Monitoring && from == Starting:
		m.hub.Publish(hub.KindContainerStarted, name, map[string]any{
			"state":      string(to),
			"runtime_id": shortID(runtimeID),
		})
	case to == Ready && from == Monitoring:
		m.hub.Publish(hub.KindContainerHealthCheck, name, map[string]any{
			"state":   string(to),
			"healthy": true,
		})
	case to == Stopped:
		payload := map[string]any{"state": string(to)}
		if reason != "" {
			payload["reason"] = reason
		}
		m.hub.Publish(hub.KindContainerStopped, name, payload)
	}
	return nil
}

// probeNow runs one health probe inline and records the outcome.
func (m *Manager) probeNow(ctx context.Context, name string) {
	info, err := m.runtime.Inspect(ctx, name)
	healthy := err == nil && info.State.Running
	m.RecordProbe(ctx, name, healthy)
}

// RecordProbe feeds one health probe outcome into the registry. A
// healthy probe promotes Monitoring to Ready and clears the failure
// streak; an unhealthy one increments it, and at the failure
// threshold the container is recycled with a health_check event.
func (m *Manager) RecordProbe(ctx context.Context, name string, healthy bool) {
	m.mu.Lock()
	entry, ok := m.containers[name]
	if !ok || !entry.state.Active() {
		m.mu.Unlock()
		return
	}

	if healthy {
		entry.probeFailures = 0
		promote := entry.state == Monitoring
		m.mu.Unlock()
		if promote {
			if err := m.setState(name, Ready, ""); err != nil {
				m.logger.Warn("promoting to ready", "container", name, "error", err)
			}
		}
		return
	}

	entry.probeFailures++
	failures := entry.probeFailures
	m.mu.Unlock()

	if failures < m.failureThreshold {
		m.logger.Warn("health probe failed",
			"container", name, "failures", failures, "threshold", m.failureThreshold)
		return
	}

	m.hub.Publish(hub.KindContainerHealthCheck, name, map[string]any{
		"healthy":  false,
		"failures": failures,
	})
	if err := m.teardown(ctx, name, "health probe failures"); err != nil {
		m.logger.Error("recycling unhealthy container", "container", name, "error", err)
	}
}

// BeginTask atomically claims the container for one task: the
// Ready→Processing compare-and-swap. Any state other than Ready
// rejects with ContainerNotReady, including Processing itself — a
// concurrent query is refused immediately, never queued.
func (m *Manager) BeginTask(name string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.containers[name]
	if !ok {
		return Snapshot{}, fault.New(fault.ContainerNotReady, "no container named %q", name)
	}
	if entry.state != Ready {
		return Snapshot{}, fault.New(fault.ContainerNotReady,
			"container %q is %s, not ready", name, entry.state)
	}
	entry.state = Processing
	now := m.clk.Now()
	entry.lastTransition = now
	entry.lastTaskAt = now
	return m.snapshotLocked(entry), nil
}

// EndTask releases the container after a task: back to Ready for the
// recoverable outcomes, or a forced recycle when the session is
// wedged. reason annotates the recycle event.
func (m *Manager) EndTask(ctx context.Context, name string, recycle bool, reason string) error {
	if recycle {
		return m.teardown(ctx, name, reason)
	}

	m.mu.Lock()
	entry, ok := m.containers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("container %q: no longer registered", name)
	}
	if entry.state != Processing {
		state := entry.state
		m.mu.Unlock()
		return fmt.Errorf("container %q is %s, not processing", name, state)
	}
	entry.state = Ready
	entry.lastTransition = m.clk.Now()
	m.mu.Unlock()
	return nil
}

// Start relaunches a stopped container. Starting an active container
// is a no-op success, mirroring Stop's idempotency.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	entry, ok := m.containers[name]
	if !ok {
		m.mu.Unlock()
		return fault.New(fault.ContainerNotReady, "no container named %q", name)
	}
	state := entry.state
	provider := entry.provider
	m.mu.Unlock()

	if state.Active() {
		return nil
	}
	if state != Stopped {
		return fault.New(fault.PolicyDenied, "container %q is %s, not stopped", name, state)
	}

	if err := m.setState(name, Starting, ""); err != nil {
		return err
	}
	if err := m.runtime.StartContainer(ctx, name); err != nil {
		return runtimeFault(err, "starting container %q", name)
	}
	// The secrets tmpfs is recreated empty on restart; reinstall.
	if err := m.installCredential(ctx, name, provider, m.lookupCredential(provider)); err != nil {
		return err
	}
	if err := m.setState(name, Monitoring, ""); err != nil {
		return err
	}
	m.probeNow(ctx, name)
	return nil
}

// Stop stops a running container. Stopping an already-stopped
// container is a no-op success. reasonless public form of
// stopInternal.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.stopInternal(ctx, name, "stop request")
}

func (m *Manager) stopInternal(ctx context.Context, name, reason string) error {
	m.mu.Lock()
	entry, ok := m.containers[name]
	if !ok {
		m.mu.Unlock()
		return fault.New(fault.ContainerNotReady, "no container named %q", name)
	}
	state := entry.state
	m.mu.Unlock()

	switch state {
	case Stopped:
		return nil
	case Monitoring, Ready:
	default:
		return fault.New(fault.PolicyDenied, "container %q is %s and cannot be stopped", name, state)
	}

	if err := m.runtime.StopContainer(ctx, name, m.stopTimeout); err != nil {
		return runtimeFault(err, "stopping container %q", name)
	}
	return m.setState(name, Stopped, reason)
}

// Delete forces teardown from any state and releases the name.
// Deleting an unknown name is a no-op success.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	_, ok := m.containers[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.teardown(ctx, name, "delete request")
}

// teardown recycles a container: stop and remove the runtime
// container, release the name and port, emit container.recycled, and
// run the recycle hook. The name is free for reuse only after the
// runtime resources are reclaimed.
func (m *Manager) teardown(ctx context.Context, name, reason string) error {
	m.mu.Lock()
	entry, ok := m.containers[name]
	if !ok || entry.state == Recycled {
		m.mu.Unlock()
		return nil
	}
	from := entry.state
	entry.state = Recycled
	entry.lastTransition = m.clk.Now()
	port := entry.port
	m.mu.Unlock()

	m.logger.Info("recycling container", "container", name, "from", from, "reason", reason)

	// Both calls tolerate an absent container: teardown also runs for
	// creates that failed before launch.
	if err := m.runtime.StopContainer(ctx, name, m.stopTimeout); err != nil {
		m.logger.Warn("stopping during recycle", "container", name, "error", err)
	}
	if err := m.runtime.RemoveContainer(ctx, name, true); err != nil {
		m.logger.Warn("removing during recycle", "container", name, "error", err)
	}

	m.mu.Lock()
	delete(m.containers, name)
	delete(m.ports, port)
	m.mu.Unlock()

	m.hub.Publish(hub.KindContainerRecycled, name, map[string]any{
		"reason":         reason,
		"previous_state": string(from),
	})
	if m.onRecycle != nil {
		m.onRecycle(name)
	}
	return nil
}

// Get returns a snapshot of one container.
func (m *Manager) Get(name string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.containers[name]
	if !ok {
		return Snapshot{}, fault.New(fault.ContainerNotReady, "no container named %q", name)
	}
	return m.snapshotLocked(entry), nil
}

// List returns snapshots of every registered container, sorted by
// name.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	snapshots := make([]Snapshot, 0, len(m.containers))
	for _, entry := range m.containers {
		snapshots = append(snapshots, m.snapshotLocked(entry))
	}
	m.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots
}

// mustSnapshot is Get for internal callers that just registered the
// container.
func (m *Manager) mustSnapshot(name string) (Snapshot, error) {
	snapshot, err := m.Get(name)
	if err != nil {
		return Snapshot{}, fmt.Errorf("container %q vanished during create", name)
	}
	return snapshot, nil
}

func (m *Manager) snapshotLocked(entry *container) Snapshot {
	return Snapshot{
		Name:           entry.name,
		Role:           entry.role,
		State:          entry.state,
		Active:         entry.state.Active(),
		Image:          entry.image,
		Provider:       entry.provider,
		Model:          entry.model,
		Port:           entry.port,
		URL:            fmt.Sprintf("http://127.0.0.1:%d", entry.port),
		Profile:        entry.profileName,
		RuntimeID:      shortID(entry.runtimeID),
		CreatedAt:      entry.createdAt,
		LastTransition: entry.lastTransition,
	}
}

// AdoptOrphans scans the runtime for labeled containers absent from
// the registry and re-registers them: running ones as Monitoring with
// an immediate probe, stopped ones as Stopped. This is the daemon
// restart recovery path, and the periodic orphan sweep reuses it.
func (m *Manager) AdoptOrphans(ctx context.Context) (int, error) {
	names, err := m.runtime.ListManaged(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing managed containers: %w", err)
	}

	adopted := 0
	for _, name := range names {
		m.mu.Lock()
		_, known := m.containers[name]
		m.mu.Unlock()
		if known {
			continue
		}

		info, err := m.runtime.Inspect(ctx, name)
		if err != nil {
			m.logger.Warn("inspecting orphan", "container", name, "error", err)
			continue
		}

		now := m.clk.Now()
		entry := &container{
			name:           name,
			role:           info.Config.Labels[docker.LabelRole],
			profileName:    info.Config.Labels[docker.LabelProfile],
			provider:       info.Config.Labels[docker.LabelProvider],
			image:          info.Config.Image,
			port:           info.HostPort(webTerminalPort),
			runtimeID:      info.ID,
			state:          Stopped,
			createdAt:      info.Created,
			lastTransition: now,
		}
		if info.State.Running {
			entry.state = Monitoring
		}

		m.mu.Lock()
		if _, raced := m.containers[name]; raced {
			m.mu.Unlock()
			continue
		}
		m.containers[name] = entry
		if entry.port > 0 {
			m.ports[entry.port] = name
		}
		m.mu.Unlock()
		adopted++

		m.logger.Info("adopted container",
			"container", name, "role", entry.role, "state", entry.state, "port", entry.port)
		m.hub.Publish(hub.KindContainerCreated, name, map[string]any{
			"role":     entry.role,
			"image":    entry.image,
			"provider": entry.provider,
			"port":     entry.port,
			"adopted":  true,
		})

		if info.State.Running {
			m.RecordProbe(ctx, name, true)
		}
	}
	return adopted, nil
}

// SweepIdle stops Ready containers that have not run a task within
// the TTL. Returns how many were stopped. A zero TTL disables the
// sweep.
func (m *Manager) SweepIdle(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	now := m.clk.Now()

	var idle []string
	m.mu.Lock()
	for name, entry := range m.containers {
		if entry.state != Ready {
			continue
		}
		since := entry.lastTaskAt
		if since.IsZero() {
			since = entry.lastTransition
		}
		if now.Sub(since) >= ttl {
			idle = append(idle, name)
		}
	}
	m.mu.Unlock()

	for _, name := range idle {
		if err := m.stopInternal(ctx, name, "idle"); err != nil {
			m.logger.Warn("stopping idle container", "container", name, "error", err)
		}
	}
	return len(idle)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
