// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Warren-daemon is the container orchestration daemon. It owns the
// container registry, runs queries against agent sessions over docker
// exec + tmux, and serves the HTTP API the dashboard and the warren
// CLI consume.
//
// On startup:
//  1. Loads configuration (--config flag or WARREN_CONFIG, defaults
//     otherwise) and the role profiles.
//  2. Opens the task database and marks tasks stranded mid-query by a
//     previous daemon process as failed.
//  3. Adopts labeled containers that survived the restart.
//  4. Starts the health prober, maintenance janitor, breaker probe
//     loop, and event notifier.
//  5. Serves HTTP until SIGINT/SIGTERM, then drains and shuts down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bureau-foundation/warren/broker"
	"github.com/bureau-foundation/warren/gateway"
	"github.com/bureau-foundation/warren/hub"
	"github.com/bureau-foundation/warren/lib/cgroup"
	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lib/config"
	"github.com/bureau-foundation/warren/lib/docker"
	"github.com/bureau-foundation/warren/lib/process"
	"github.com/bureau-foundation/warren/lib/sealed"
	"github.com/bureau-foundation/warren/lib/secret"
	"github.com/bureau-foundation/warren/lib/service"
	"github.com/bureau-foundation/warren/lib/tmux"
	"github.com/bureau-foundation/warren/lib/version"
	"github.com/bureau-foundation/warren/lifecycle"
	"github.com/bureau-foundation/warren/profile"
	"github.com/bureau-foundation/warren/query"
	"github.com/bureau-foundation/warren/ratelimit"
	"github.com/bureau-foundation/warren/router"
	"github.com/bureau-foundation/warren/taskstore"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listenAddr  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "configuration file (overrides WARREN_CONFIG)")
	flag.StringVar(&listenAddr, "listen", "", "listen address override")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("warren-daemon " + version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Environment == config.Development {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.Real()

	profiles, err := profile.LoadStore(cfg.Profiles.Path)
	if err != nil {
		return err
	}

	// Task persistence is optional; without it queries still run, they
	// just leave no durable record.
	var store *taskstore.Store
	if path := cfg.TasksDBPath(); path != "" {
		compression, err := taskstore.ParseCompression(cfg.Storage.Compression)
		if err != nil {
			return err
		}
		store, err = taskstore.Open(taskstore.Config{
			Path:        path,
			PoolSize:    cfg.Storage.PoolSize,
			Retention:   cfg.Storage.Retention,
			Compression: compression,
			Logger:      logger.With("component", "taskstore"),
		})
		if err != nil {
			return err
		}
		defer store.Close()

		recovered, err := store.RecoverStranded(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			logger.Warn("marked tasks stranded by previous process as failed",
				"count", recovered)
		}
	}

	eventHub := hub.New(hub.Config{
		Backlog:       cfg.Hub.Backlog,
		Replay:        cfg.Hub.Replay,
		EvictionLimit: cfg.Hub.EvictionLimit,
		Clock:         clk,
		Logger:        logger.With("component", "hub"),
	})
	defer eventHub.Close()

	runtime := docker.NewClient(cfg.Docker.Binary, cfg.Docker.Network,
		logger.With("component", "docker"))

	var verifier lifecycle.Verifier
	if cfg.Verify.Mode != string(lifecycle.VerifyOff) {
		verifier = lifecycle.NewCosignVerifier(cfg.Verify.Binary, cfg.Verify.Key,
			logger.With("component", "verify"))
	}

	var credentials lifecycle.CredentialSource
	if cfg.Secrets.Bundle != "" {
		bundle, err := openCredentials(cfg.Secrets.Bundle, cfg.Secrets.Identity)
		if err != nil {
			return err
		}
		credentials = bundle
		logger.Info("credential bundle loaded", "providers", bundle.Providers())
	}

	limiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.RateLimit.Quota,
		Window: cfg.RateLimit.Window.Std(),
		Clock:  clk,
	})

	sampler := cgroup.NewSampler(cfg.Docker.CgroupRoot, clk)

	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Runtime:          runtime,
		Profiles:         profiles,
		Hub:              eventHub,
		Verifier:         verifier,
		VerifyMode:       lifecycle.VerifyMode(cfg.Verify.Mode),
		Credentials:      credentials,
		PortBase:         cfg.Docker.PortBase,
		DefaultRole:      cfg.Profiles.DefaultRole,
		FailureThreshold: cfg.Health.FailureThreshold,
		OnRecycle:        limiter.Forget,
		Clock:            clk,
		Logger:           logger.With("component", "lifecycle"),
	})

	// Every tmux command for a session runs inside that session's own
	// container, so a terminal can never target the wrong one.
	terminalRunner := func(container string) tmux.Runner {
		return tmux.RunnerFunc(func(ctx context.Context, args ...string) (string, error) {
			return runtime.Exec(ctx, container, append([]string{"tmux"}, args...)...)
		})
	}

	executorConfig := query.ExecutorConfig{
		Manager: manager,
		Terminals: func(container string) query.Terminal {
			return tmux.New(terminalRunner(container))
		},
		Profiles:       profiles,
		Hub:            eventHub,
		Marker:         cfg.Detector.CompletionMarker,
		IdleMarker:     cfg.Detector.IdlePrompt,
		PollInterval:   cfg.Detector.PollInterval.Std(),
		DefaultTimeout: cfg.Detector.DefaultTimeout.Std(),
		MaxTimeout:     cfg.Detector.MaxTimeout.Std(),
		StabilityPolls: cfg.Detector.StabilityPolls,
		CaptureLines:   cfg.Detector.CaptureLines,
		Clock:          clk,
		Logger:         logger.With("component", "query"),
	}
	if store != nil {
		executorConfig.Recorder = store
	}
	executor := query.NewExecutor(executorConfig)

	// External routing is optional: without a broker URL there is no
	// transport, no breaker, and no notifier.
	var messageRouter *router.Router
	if cfg.Broker.URL != "" {
		transport, err := broker.NewClient(broker.ClientConfig{
			BaseURL:    cfg.Broker.URL,
			HTTPClient: &http.Client{Timeout: cfg.Broker.Timeout.Std()},
		})
		if err != nil {
			return err
		}
		messageRouter = router.New(router.Config{
			Transport:        transport,
			Hub:              eventHub,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ProbeInterval:    cfg.Breaker.ProbeInterval.Std(),
			QueueCapacity:    cfg.Breaker.QueueCapacity,
			Clock:            clk,
			Logger:           logger.With("component", "router"),
		})
	}

	usage := newUsageCollector(manager, sampler, clk)

	api := gateway.New(gateway.Config{
		Sessions:          manager,
		Executor:          executor,
		Limiter:           limiter,
		Hub:               eventHub,
		Usage:             usage.Collect,
		HeartbeatInterval: cfg.Hub.Heartbeat.Std(),
		Clock:             clk,
		Logger:            logger.With("component", "gateway"),
	})

	// Adopt containers left over from a previous daemon process before
	// accepting requests, so their names are occupied from the first
	// create call onward.
	adopted, err := manager.AdoptOrphans(ctx)
	if err != nil {
		logger.Warn("orphan adoption failed; continuing without", "error", err)
	} else if adopted > 0 {
		logger.Info("adopted containers from previous process", "count", adopted)
	}

	prober := lifecycle.NewProber(lifecycle.ProberConfig{
		Manager: manager,
		Runtime: runtime,
		SessionAlive: func(ctx context.Context, name string) bool {
			return tmux.New(terminalRunner(name)).ServerAlive(ctx)
		},
		Interval: cfg.Health.Interval.Std(),
		Clock:    clk,
		Logger:   logger.With("component", "health"),
	})
	janitor := lifecycle.NewJanitor(lifecycle.JanitorConfig{
		Manager:  manager,
		Interval: cfg.Health.SweepInterval.Std(),
		IdleTTL:  cfg.Health.IdleTTL.Std(),
		Clock:    clk,
		Logger:   logger.With("component", "janitor"),
	})

	var background sync.WaitGroup
	spawn := func(loop func(context.Context)) {
		background.Add(1)
		go func() {
			defer background.Done()
			loop(ctx)
		}()
	}
	spawn(prober.Run)
	spawn(janitor.Run)
	if messageRouter != nil {
		spawn(messageRouter.Run)
		notify := newNotifier(messageRouter, eventHub, cfg.Broker.Channel,
			logger.With("component", "notifier"))
		spawn(notify.Run)
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: api.Handler(),
		Logger:  logger.With("component", "http"),
	})

	logger.Info("warren daemon starting",
		"version", version.Short(),
		"listen", cfg.ListenAddress,
		"environment", string(cfg.Environment),
		"roles", profiles.Roles(),
		"persistence", store != nil,
		"external_routing", messageRouter != nil)

	serveErr := server.Serve(ctx)
	background.Wait()
	logger.Info("warren daemon stopped")
	return serveErr
}

// openCredentials unseals the age credential bundle. The identity key
// lives in locked memory only for the duration of the unseal.
func openCredentials(bundlePath, identityPath string) (sealed.Bundle, error) {
	identity, err := secret.ReadFromPath(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	defer identity.Close()
	return sealed.OpenBundle(bundlePath, identity)
}
