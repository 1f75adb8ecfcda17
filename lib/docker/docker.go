// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package docker provides typed access to the container runtime CLI
// for agent container operations. Warren drives docker (or podman —
// the binary is configurable) the same way lib/tmux drives tmux:
// every command goes through a Client that injects the binary and
// captures output, so callers never build argv by hand.
//
// The Client wraps the operations the session lifecycle needs: create
// with Warren's hardening flags and labels, start, stop, remove,
// inspect, exec, and label-filtered listing for orphan adoption.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Labels attached to every container Warren creates. ListManaged
// filters on LabelManaged; adoption reads the rest back from inspect
// output to reconstruct session metadata.
const (
	LabelManaged  = "warren.managed"
	LabelRole     = "warren.role"
	LabelProvider = "warren.provider"
	LabelProfile  = "warren.profile"
)

// Classification sentinels. Callers match with errors.Is and translate
// to their own error taxonomy.
var (
	// ErrNotFound indicates the named container does not exist.
	ErrNotFound = errors.New("container not found")

	// ErrNameConflict indicates the container name is already in use
	// by a container Warren does not manage.
	ErrNameConflict = errors.New("container name in use")

	// ErrDaemonUnreachable indicates the container runtime daemon is
	// not responding.
	ErrDaemonUnreachable = errors.New("container runtime unreachable")
)

// Client issues commands to the container runtime CLI. Safe for
// concurrent use.
type Client struct {
	binary  string
	network string
	logger  *slog.Logger

	// run executes the CLI and returns stdout and stderr separately.
	// Replaced by tests with a scripted implementation.
	run func(ctx context.Context, args ...string) (stdout, stderr string, err error)

	// runInput is run with stdin attached. Split out so the common
	// path never carries an input buffer.
	runInput func(ctx context.Context, stdin []byte, args ...string) (stdout, stderr string, err error)
}

// NewClient returns a Client driving the given runtime binary
// ("docker", "podman", or an absolute path). network is the container
// network to attach agent containers to; empty uses the runtime
// default.
func NewClient(binary, network string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := &Client{
		binary:  binary,
		network: network,
		logger:  logger,
	}
	client.run = client.runExec
	client.runInput = client.runInputExec
	return client
}

// runExec is the production run implementation.
func (c *Client) runExec(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, c.binary, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return stdout.String(), stderr.String(), err
}

// runInputExec is the production runInput implementation.
func (c *Client) runInputExec(ctx context.Context, stdin []byte, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, c.binary, args...)
	command.Stdin = bytes.NewReader(stdin)
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return stdout.String(), stderr.String(), err
}

// classify wraps err with a sentinel derived from the CLI's stderr.
func classify(stderr string, err error) error {
	switch {
	case strings.Contains(stderr, "Cannot connect to the Docker daemon"),
		strings.Contains(stderr, "Is the docker daemon running"),
		strings.Contains(stderr, "connect: no such file or directory"):
		return fmt.Errorf("%w: %s", ErrDaemonUnreachable, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "is already in use"):
		return fmt.Errorf("%w: %s", ErrNameConflict, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "No such container"),
		strings.Contains(stderr, "no such container"):
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(stderr))
	default:
		return fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
}

// Mount is a bind mount for CreateContainer.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// CreateSpec describes a container to create. Name and Image are
// required.
type CreateSpec struct {
	Name    string
	Image   string
	Command []string
	Workdir string

	// Labels beyond the standard Warren set. LabelManaged is always
	// applied; callers add role, provider, and profile.
	Labels map[string]string

	// HostPort publishes ContainerPort on 127.0.0.1:HostPort. Zero
	// disables publishing.
	HostPort      int
	ContainerPort int

	// Env entries become -e KEY=VALUE flags. Secrets never travel
	// this way — they are bind-mounted as files.
	Env map[string]string

	Mounts []Mount

	// Resource limits. Empty strings and zero values omit the flag.
	Memory    string
	CPUs      string
	PidsLimit int

	// Hardened applies the restricted runtime profile: read-only
	// rootfs, all capabilities dropped, no-new-privileges, and a
	// size-capped tmpfs at /tmp.
	Hardened  bool
	TmpfsSize string

	// ExtraTmpfs adds raw --tmpfs specs ("/run/secrets:rw,size=1m")
	// regardless of Hardened.
	ExtraTmpfs []string
}

// CreateContainer creates a container without starting it. Returns the
// container ID printed by the runtime.
func (c *Client) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	if spec.Name == "" || spec.Image == "" {
		return "", fmt.Errorf("docker create: Name and Image are required")
	}

	args := []string{"create", "--name", spec.Name}

	labels := map[string]string{LabelManaged: "true"}
	for key, value := range spec.Labels {
		labels[key] = value
	}
	for _, key := range sortedKeys(labels) {
		args = append(args, "--label", key+"="+labels[key])
	}

	if c.network != "" {
		args = append(args, "--network", c.network)
	}
	if spec.Workdir != "" {
		args = append(args, "-w", spec.Workdir)
	}
	if spec.HostPort > 0 {
		args = append(args, "-p", fmt.Sprintf("127.0.0.1:%d:%d", spec.HostPort, spec.ContainerPort))
	}
	for _, key := range sortedKeys(spec.Env) {
		args = append(args, "-e", key+"="+spec.Env[key])
	}
	for _, mount := range spec.Mounts {
		binding := mount.Source + ":" + mount.Target
		if mount.ReadOnly {
			binding += ":ro"
		}
		args = append(args, "-v", binding)
	}
	if spec.Memory != "" {
		args = append(args, "--memory", spec.Memory)
	}
	if spec.CPUs != "" {
		args = append(args, "--cpus", spec.CPUs)
	}
	if spec.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(spec.PidsLimit))
	}
	if spec.Hardened {
		tmpfsSize := spec.TmpfsSize
		if tmpfsSize == "" {
			tmpfsSize = "64m"
		}
		args = append(args,
			"--read-only",
			"--cap-drop", "ALL",
			"--security-opt", "no-new-privileges",
			"--tmpfs", "/tmp:rw,size="+tmpfsSize,
		)
	}
	for _, tmpfs := range spec.ExtraTmpfs {
		args = append(args, "--tmpfs", tmpfs)
	}

	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	stdout, stderr, err := c.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("docker create %q: %w", spec.Name, classify(stderr, err))
	}

	containerID := strings.TrimSpace(stdout)
	c.logger.Info("container created",
		"name", spec.Name,
		"image", spec.Image,
		"container_id", shortID(containerID),
	)
	return containerID, nil
}

// StartContainer starts a created or stopped container.
func (c *Client) StartContainer(ctx context.Context, nameOrID string) error {
	_, stderr, err := c.run(ctx, "start", nameOrID)
	if err != nil {
		return fmt.Errorf("docker start %q: %w", nameOrID, classify(stderr, err))
	}
	return nil
}

// StopContainer stops a running container, giving it timeout to exit
// before SIGKILL. Returns nil if the container was already gone — a
// normal condition during recycling, not an error.
func (c *Client) StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, stderr, err := c.run(ctx, "stop", "-t", strconv.Itoa(seconds), nameOrID)
	if err != nil {
		classified := classify(stderr, err)
		if errors.Is(classified, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("docker stop %q: %w", nameOrID, classified)
	}
	return nil
}

// RemoveContainer removes a container. force removes a running
// container. Returns nil if the container was already gone.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, nameOrID)

	_, stderr, err := c.run(ctx, args...)
	if err != nil {
		classified := classify(stderr, err)
		if errors.Is(classified, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("docker rm %q: %w", nameOrID, classified)
	}
	return nil
}

// ContainerInfo is the subset of docker inspect output Warren reads.
type ContainerInfo struct {
	ID              string          `json:"Id"`
	Name            string          `json:"Name"`
	Created         time.Time       `json:"Created"`
	State           ContainerState  `json:"State"`
	Config          ContainerConfig `json:"Config"`
	NetworkSettings NetworkSettings `json:"NetworkSettings"`
}

// ContainerState mirrors docker inspect .State.
type ContainerState struct {
	Status     string    `json:"Status"`
	Running    bool      `json:"Running"`
	ExitCode   int       `json:"ExitCode"`
	StartedAt  time.Time `json:"StartedAt"`
	FinishedAt time.Time `json:"FinishedAt"`
}

// ContainerConfig mirrors docker inspect .Config.
type ContainerConfig struct {
	Image  string            `json:"Image"`
	Labels map[string]string `json:"Labels"`
}

// NetworkSettings mirrors docker inspect .NetworkSettings.
type NetworkSettings struct {
	Ports map[string][]PortBinding `json:"Ports"`
}

// PortBinding is one host-side binding of a published port.
type PortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// SessionName returns the container name without the leading slash
// docker prefixes in inspect output.
func (info *ContainerInfo) SessionName() string {
	return strings.TrimPrefix(info.Name, "/")
}

// HostPort returns the host port that publishes containerPort, or 0
// if the port is not published. Used during adoption to recover the
// agent endpoint.
func (info *ContainerInfo) HostPort(containerPort int) int {
	bindings := info.NetworkSettings.Ports[fmt.Sprintf("%d/tcp", containerPort)]
	for _, binding := range bindings {
		port, err := strconv.Atoi(binding.HostPort)
		if err == nil && port > 0 {
			return port
		}
	}
	return 0
}

// Inspect returns the container's current state, configuration, and
// network settings.
func (c *Client) Inspect(ctx context.Context, nameOrID string) (*ContainerInfo, error) {
	stdout, stderr, err := c.run(ctx, "inspect", nameOrID)
	if err != nil {
		return nil, fmt.Errorf("docker inspect %q: %w", nameOrID, classify(stderr, err))
	}

	// docker inspect prints a JSON array even for a single container.
	var infos []ContainerInfo
	if err := json.Unmarshal([]byte(stdout), &infos); err != nil {
		return nil, fmt.Errorf("docker inspect %q: parsing output: %w", nameOrID, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("docker inspect %q: %w", nameOrID, ErrNotFound)
	}
	return &infos[0], nil
}

// ListManaged returns the names of all containers carrying the
// Warren-managed label, including stopped ones. The daemon inspects
// each at startup to adopt or recycle orphans.
func (c *Client) ListManaged(ctx context.Context) ([]string, error) {
	stdout, stderr, err := c.run(ctx, "ps", "-a",
		"--filter", "label="+LabelManaged+"=true",
		"--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", classify(stderr, err))
	}

	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Exec runs a command inside a running container and returns its
// combined output. The tmux bridge into agent sessions is built on
// this.
func (c *Client) Exec(ctx context.Context, nameOrID string, command ...string) (string, error) {
	args := append([]string{"exec", nameOrID}, command...)
	stdout, stderr, err := c.run(ctx, args...)
	if err != nil {
		// tmux diagnostics arrive on stderr; callers match on them.
		return stdout + stderr, fmt.Errorf("docker exec %q %s: %w",
			nameOrID, strings.Join(command, " "), classify(stderr, err))
	}
	return stdout, nil
}

// ExecInput runs a command inside a running container with stdin
// attached. Secret installation travels this path so credential bytes
// never appear in a process argument list.
func (c *Client) ExecInput(ctx context.Context, nameOrID string, stdin []byte, command ...string) (string, error) {
	args := append([]string{"exec", "-i", nameOrID}, command...)
	stdout, stderr, err := c.runInput(ctx, stdin, args...)
	if err != nil {
		return stdout + stderr, fmt.Errorf("docker exec -i %q %s: %w",
			nameOrID, strings.Join(command, " "), classify(stderr, err))
	}
	return stdout, nil
}

// ImageDigest returns the repo digest (name@sha256:...) of a local
// image. The signature verifier pins its cosign check to this digest
// so the verified bytes are the bytes that run.
func (c *Client) ImageDigest(ctx context.Context, image string) (string, error) {
	stdout, stderr, err := c.run(ctx, "image", "inspect",
		"--format", "{{index .RepoDigests 0}}", image)
	if err != nil {
		return "", fmt.Errorf("docker image inspect %q: %w", image, classify(stderr, err))
	}

	digest := strings.TrimSpace(stdout)
	if digest == "" || digest == "<no value>" {
		return "", fmt.Errorf("docker image inspect %q: image has no repo digest (built locally?)", image)
	}
	return digest, nil
}

// Pull pulls an image from its registry.
func (c *Client) Pull(ctx context.Context, image string) error {
	_, stderr, err := c.run(ctx, "pull", image)
	if err != nil {
		return fmt.Errorf("docker pull %q: %w", image, classify(stderr, err))
	}
	c.logger.Info("image pulled", "image", image)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
