// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the warren daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - WARREN_CONFIG environment variable, or
//   - --config flag passed to the daemon
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides. When
// no file is given the daemon runs on the built-in defaults, which suit
// a single-host development setup.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment
// matches. The only expansion performed on values is ${VAR} substitution
// in path fields, for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "5m". Plain integers are rejected; durations in the config
// file always carry a unit.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the warren daemon.
type Config struct {
	// Environment identifies the deployment type (development, staging,
	// production).
	Environment Environment `yaml:"environment"`

	// ListenAddress is the TCP address the HTTP gateway binds.
	ListenAddress string `yaml:"listen_address"`

	// StateDir holds the daemon's durable state (task database).
	StateDir string `yaml:"state_dir"`

	// Docker configures the container runtime wrapper.
	Docker DockerConfig `yaml:"docker"`

	// Profiles configures role profile resolution.
	Profiles ProfilesConfig `yaml:"profiles"`

	// Verify configures image signature verification.
	Verify VerifyConfig `yaml:"verify"`

	// Secrets configures sealed credential injection.
	Secrets SecretsConfig `yaml:"secrets"`

	// Detector configures the query completion detector.
	Detector DetectorConfig `yaml:"detector"`

	// RateLimit configures per-session query admission.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Health configures container health probing and sweeps.
	Health HealthConfig `yaml:"health"`

	// Breaker configures the message transport circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`

	// Hub configures the event broadcast hub.
	Hub HubConfig `yaml:"hub"`

	// Broker configures the external message broker client.
	Broker BrokerConfig `yaml:"broker"`

	// Storage configures the durable task store.
	Storage StorageConfig `yaml:"storage"`

	// Per-environment overrides, applied after the base config loads.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the fields that can differ per environment.
type ConfigOverrides struct {
	ListenAddress string        `yaml:"listen_address,omitempty"`
	StateDir      string        `yaml:"state_dir,omitempty"`
	Verify        *VerifyConfig `yaml:"verify,omitempty"`
	Broker        *BrokerConfig `yaml:"broker,omitempty"`
}

// DockerConfig configures the container runtime wrapper.
type DockerConfig struct {
	// Binary is the docker CLI binary. Default: docker (from PATH).
	Binary string `yaml:"binary"`

	// Network is the docker network containers join. Empty uses the
	// runtime default bridge.
	Network string `yaml:"network"`

	// PortBase is the first host port tried when allocating a
	// container's web terminal port. Allocation scans upward from here.
	// Default: 7681.
	PortBase int `yaml:"port_base"`

	// CgroupRoot is the cgroup v2 mount point used for container
	// metrics. Default: /sys/fs/cgroup.
	CgroupRoot string `yaml:"cgroup_root"`
}

// ProfilesConfig configures role profile resolution.
type ProfilesConfig struct {
	// Path is a directory of JSONC profile files, one per role,
	// overlaid on the built-in profiles. Empty uses the built-ins
	// alone.
	Path string `yaml:"path"`

	// DefaultRole is applied when a create request omits the role.
	// Default: developer.
	DefaultRole string `yaml:"default_role"`
}

// VerifyConfig configures image signature verification, evaluated once
// during provisioning.
type VerifyConfig struct {
	// Mode is off (skip), warn (log and proceed), or enforce (reject
	// on failure). Default: warn (development), enforce (production).
	Mode string `yaml:"mode"`

	// Key is the path to the cosign public key. Required for enforce.
	Key string `yaml:"key"`

	// Binary is the cosign CLI binary. Default: cosign (from PATH).
	Binary string `yaml:"binary"`
}

// SecretsConfig configures sealed credential injection during the
// configure phase. Both fields empty disables injection.
type SecretsConfig struct {
	// Bundle is the path to the age-sealed credential bundle.
	Bundle string `yaml:"bundle"`

	// Identity is the path to the age identity file that unseals it.
	Identity string `yaml:"identity"`
}

// DetectorConfig configures the query completion detector.
type DetectorConfig struct {
	// CompletionMarker is the literal substring the agent emits when a
	// response is finished.
	CompletionMarker string `yaml:"completion_marker"`

	// IdlePrompt is the literal substring of the shell's input-ready
	// prompt; it must appear at the tail of the pane for completion.
	IdlePrompt string `yaml:"idle_prompt"`

	// PollInterval is the pane capture cadence. Default: 500ms.
	PollInterval Duration `yaml:"poll_interval"`

	// StabilityPolls is how many consecutive identical captures are
	// required. Default: 2.
	StabilityPolls int `yaml:"stability_polls"`

	// DefaultTimeout bounds a query when the caller supplies none.
	// Default: 5m.
	DefaultTimeout Duration `yaml:"default_timeout"`

	// MaxTimeout caps caller-supplied timeouts. Default: 1h.
	MaxTimeout Duration `yaml:"max_timeout"`

	// CaptureLines limits each poll to the last N pane lines. 0
	// captures the full history.
	CaptureLines int `yaml:"capture_lines"`
}

// RateLimitConfig configures per-session query admission.
type RateLimitConfig struct {
	// Quota is the number of queries admitted per window. Default: 5.
	Quota int `yaml:"quota"`

	// Window is the rolling window length. Default: 60s.
	Window Duration `yaml:"window"`
}

// HealthConfig configures container health probing and the periodic
// sweep.
type HealthConfig struct {
	// Interval is the probe cadence. Default: 30s.
	Interval Duration `yaml:"interval"`

	// FailureThreshold is how many consecutive probe failures force a
	// recycle. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`

	// SweepInterval is the orphan/idle sweep cadence. Default: 60s.
	SweepInterval Duration `yaml:"sweep_interval"`

	// IdleTTL stops containers that sit Ready with no task for this
	// long. 0 disables idle stopping. Default: 1h.
	IdleTTL Duration `yaml:"idle_ttl"`
}

// BreakerConfig configures the message transport circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive transient delivery
	// failures open the breaker. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// ProbeInterval is the health probe cadence while open.
	// Default: 30s.
	ProbeInterval Duration `yaml:"probe_interval"`

	// QueueCapacity bounds each target's in-memory fallback queue.
	// Default: 1000.
	QueueCapacity int `yaml:"queue_capacity"`
}

// HubConfig configures the event broadcast hub.
type HubConfig struct {
	// Backlog is each subscriber's queue capacity. Default: 50.
	Backlog int `yaml:"backlog"`

	// Replay is how many recent events the hub retains for replay to
	// new subscribers. Default: 100.
	Replay int `yaml:"replay"`

	// EvictionLimit is how many consecutive drop-oldest evictions a
	// subscriber may accumulate before it is forcibly disconnected.
	// Default: 200.
	EvictionLimit int `yaml:"eviction_limit"`

	// Heartbeat is the SSE keepalive comment cadence. Default: 15s.
	Heartbeat Duration `yaml:"heartbeat"`
}

// BrokerConfig configures the external message broker client. An empty
// URL disables external routing entirely (messages stay local).
type BrokerConfig struct {
	// URL is the broker base URL (e.g. "http://broker:9770").
	URL string `yaml:"url"`

	// Timeout bounds each broker HTTP request. Default: 10s.
	Timeout Duration `yaml:"timeout"`

	// Channel is the target channel for daemon-originated notices
	// (task completions, recycles, transport health). Default: ops.
	Channel string `yaml:"channel"`
}

// StorageConfig configures the durable task store.
type StorageConfig struct {
	// TasksDB is the SQLite filename under StateDir. Empty disables
	// task persistence. Default: tasks.db.
	TasksDB string `yaml:"tasks_db"`

	// Compression selects the transcript blob codec: zstd or lz4.
	// Incompressible records are stored raw regardless. Default: zstd.
	Compression string `yaml:"compression"`

	// Retention keeps the newest N terminal tasks per container.
	// Default: 100.
	Retention int `yaml:"retention"`

	// PoolSize is the SQLite connection pool size. Default: 4.
	PoolSize int `yaml:"pool_size"`
}

// Default returns the built-in configuration. These values suit a
// single-host development setup; production deployments load a file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment:   Development,
		ListenAddress: "127.0.0.1:8000",
		StateDir:      filepath.Join(homeDir, ".cache", "warren"),
		Docker: DockerConfig{
			Binary:     "docker",
			PortBase:   7681,
			CgroupRoot: "/sys/fs/cgroup",
		},
		Profiles: ProfilesConfig{
			DefaultRole: "developer",
		},
		Verify: VerifyConfig{
			Mode:   "warn",
			Binary: "cosign",
		},
		Detector: DetectorConfig{
			CompletionMarker: "⏺",
			IdlePrompt:       "❯",
			PollInterval:     Duration(500 * time.Millisecond),
			StabilityPolls:   2,
			DefaultTimeout:   Duration(5 * time.Minute),
			MaxTimeout:       Duration(time.Hour),
		},
		RateLimit: RateLimitConfig{
			Quota:  5,
			Window: Duration(60 * time.Second),
		},
		Health: HealthConfig{
			Interval:         Duration(30 * time.Second),
			FailureThreshold: 3,
			SweepInterval:    Duration(60 * time.Second),
			IdleTTL:          Duration(time.Hour),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ProbeInterval:    Duration(30 * time.Second),
			QueueCapacity:    1000,
		},
		Hub: HubConfig{
			Backlog:       50,
			Replay:        100,
			EvictionLimit: 200,
			Heartbeat:     Duration(15 * time.Second),
		},
		Broker: BrokerConfig{
			Timeout: Duration(10 * time.Second),
			Channel: "ops",
		},
		Storage: StorageConfig{
			TasksDB:     "tasks.db",
			Compression: "zstd",
			Retention:   100,
			PoolSize:    4,
		},
	}
}

// Load loads configuration from the WARREN_CONFIG environment variable.
// Returns the defaults when WARREN_CONFIG is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("WARREN_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging onto
// the defaults. The config file is the single source of truth:
// environment variables never override values, only ${VAR} expansion in
// path fields is performed.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides merges the section matching the configured
// environment. Production with no explicit section gets the strict
// defaults (enforced image verification).
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Verify: &VerifyConfig{Mode: "enforce"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.ListenAddress != "" {
		c.ListenAddress = overrides.ListenAddress
	}
	if overrides.StateDir != "" {
		c.StateDir = overrides.StateDir
	}
	if overrides.Verify != nil {
		if overrides.Verify.Mode != "" {
			c.Verify.Mode = overrides.Verify.Mode
		}
		if overrides.Verify.Key != "" {
			c.Verify.Key = overrides.Verify.Key
		}
		if overrides.Verify.Binary != "" {
			c.Verify.Binary = overrides.Verify.Binary
		}
	}
	if overrides.Broker != nil {
		if overrides.Broker.URL != "" {
			c.Broker.URL = overrides.Broker.URL
		}
		if overrides.Broker.Timeout != 0 {
			c.Broker.Timeout = overrides.Broker.Timeout
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
	vars["WARREN_STATE"] = c.StateDir

	c.Profiles.Path = expandVars(c.Profiles.Path, vars)
	c.Verify.Key = expandVars(c.Verify.Key, vars)
	c.Secrets.Bundle = expandVars(c.Secrets.Bundle, vars)
	c.Secrets.Identity = expandVars(c.Secrets.Identity, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported at once via errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.Docker.Binary == "" {
		errs = append(errs, fmt.Errorf("docker.binary is required"))
	}
	if c.Docker.PortBase < 1024 || c.Docker.PortBase > 65535 {
		errs = append(errs, fmt.Errorf("docker.port_base must be within 1024-65535, got %d", c.Docker.PortBase))
	}

	switch c.Verify.Mode {
	case "off", "warn":
	case "enforce":
		if c.Verify.Key == "" {
			errs = append(errs, fmt.Errorf("verify.key is required when verify.mode is enforce"))
		}
	default:
		errs = append(errs, fmt.Errorf("verify.mode must be one of: off, warn, enforce"))
	}

	if (c.Secrets.Bundle == "") != (c.Secrets.Identity == "") {
		errs = append(errs, fmt.Errorf("secrets.bundle and secrets.identity must be set together"))
	}

	if c.Detector.CompletionMarker == "" {
		errs = append(errs, fmt.Errorf("detector.completion_marker is required"))
	}
	if c.Detector.IdlePrompt == "" {
		errs = append(errs, fmt.Errorf("detector.idle_prompt is required"))
	}
	if c.Detector.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("detector.poll_interval must be positive"))
	}
	if c.Detector.StabilityPolls < 1 {
		errs = append(errs, fmt.Errorf("detector.stability_polls must be at least 1"))
	}
	if c.Detector.DefaultTimeout <= 0 || c.Detector.DefaultTimeout > c.Detector.MaxTimeout {
		errs = append(errs, fmt.Errorf("detector.default_timeout must be positive and no greater than detector.max_timeout"))
	}

	if c.RateLimit.Quota < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.quota must be at least 1"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be positive"))
	}

	if c.Health.Interval <= 0 {
		errs = append(errs, fmt.Errorf("health.interval must be positive"))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("health.failure_threshold must be at least 1"))
	}
	if c.Health.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("health.sweep_interval must be positive"))
	}

	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold must be at least 1"))
	}
	if c.Breaker.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("breaker.probe_interval must be positive"))
	}
	if c.Breaker.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("breaker.queue_capacity must be at least 1"))
	}

	if c.Hub.Backlog < 1 {
		errs = append(errs, fmt.Errorf("hub.backlog must be at least 1"))
	}
	if c.Hub.Replay < 0 {
		errs = append(errs, fmt.Errorf("hub.replay must not be negative"))
	}

	switch c.Storage.Compression {
	case "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("storage.compression must be zstd or lz4"))
	}
	if c.Storage.Retention < 1 {
		errs = append(errs, fmt.Errorf("storage.retention must be at least 1"))
	}
	if c.Storage.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the state directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if c.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.StateDir, err)
	}
	return nil
}

// TasksDBPath returns the absolute path of the task database, or ""
// when persistence is disabled.
func (c *Config) TasksDBPath() string {
	if c.Storage.TasksDB == "" {
		return ""
	}
	return filepath.Join(c.StateDir, c.Storage.TasksDB)
}
