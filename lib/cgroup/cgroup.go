// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package cgroup reads per-container resource usage from the cgroup v2
// filesystem. Warren reports CPU and memory for each agent container
// via the metrics API without shelling out to docker stats, which is
// too slow to call per request.
//
// CPU utilization needs two readings: cpu.stat exposes cumulative
// usage_usec, so a percentage is only defined over an interval. The
// [Sampler] keeps the previous reading per container and computes the
// delta on each call.
package cgroup

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

// CPUReading captures cumulative CPU time from a cgroup v2 cpu.stat
// file for delta computation.
type CPUReading struct {
	UsageUsec uint64
}

// ReadCPU reads usage_usec from the cpu.stat file in dir. The cpu.stat
// format is a series of "key value" lines; this function extracts the
// usage_usec field (total CPU time in microseconds). Returns nil if
// the file doesn't exist or the usage_usec line is absent or
// unparseable — the caller treats nil as "no reading available".
func ReadCPU(dir string) *CPUReading {
	data, err := os.ReadFile(filepath.Join(dir, "cpu.stat"))
	if err != nil {
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "usage_usec" {
			value, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil
			}
			return &CPUReading{UsageUsec: value}
		}
	}
	return nil
}

// CPUPercent computes cgroup CPU utilization from two sequential
// cpu.stat readings over the given interval. Returns the percentage
// of one CPU core: a single-core fully utilized cgroup returns 100;
// a cgroup using 2.5 cores returns 250. Returns 0 if either reading
// is nil, the interval is zero, or the counter went backwards
// (container restarted between readings).
func CPUPercent(previous, current *CPUReading, interval time.Duration) int {
	intervalMicroseconds := uint64(interval / time.Microsecond)
	if previous == nil || current == nil || intervalMicroseconds == 0 {
		return 0
	}
	if current.UsageUsec < previous.UsageUsec {
		return 0
	}
	deltaUsec := current.UsageUsec - previous.UsageUsec
	return int(deltaUsec * 100 / intervalMicroseconds)
}

// ReadMemoryCurrent reads memory.current from dir: the cgroup's
// current memory usage in bytes. Returns 0 if the file doesn't exist
// or can't be parsed.
func ReadMemoryCurrent(dir string) uint64 {
	return readUintFile(filepath.Join(dir, "memory.current"))
}

// ReadMemoryMax reads memory.max from dir: the cgroup's memory limit
// in bytes. Returns 0 for "max" (unlimited) and on read errors.
func ReadMemoryMax(dir string) uint64 {
	data, err := os.ReadFile(filepath.Join(dir, "memory.max"))
	if err != nil {
		return 0
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "max" {
		return 0
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func readUintFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// Dir returns the cgroup v2 directory for a container. With the
// systemd cgroup driver (the docker default), container cgroups live
// under a slice as docker-<id>.scope; with the cgroupfs driver they
// sit directly under the root. The root is configurable to cover
// both layouts and podman.
func Dir(root, containerID string) string {
	if strings.HasSuffix(root, ".slice") {
		return filepath.Join(root, "docker-"+containerID+".scope")
	}
	return filepath.Join(root, containerID)
}

// Stats is one resource usage snapshot for a container.
type Stats struct {
	// CPUPercent is the CPU utilization since the previous sample, in
	// percent of one core. Zero on the first sample (no baseline).
	CPUPercent int `json:"cpu_percent"`

	// MemoryBytes is current memory usage.
	MemoryBytes uint64 `json:"memory_bytes"`

	// MemoryLimitBytes is the cgroup memory limit, 0 if unlimited.
	MemoryLimitBytes uint64 `json:"memory_limit_bytes"`
}

// Sampler computes per-container usage deltas. It keeps the previous
// CPU reading and its timestamp for each container. Safe for
// concurrent use.
type Sampler struct {
	root string
	clk  clock.Clock

	mu   sync.Mutex
	last map[string]previousSample
}

type previousSample struct {
	reading *CPUReading
	taken   time.Time
}

// NewSampler returns a Sampler reading cgroups under root.
func NewSampler(root string, clk clock.Clock) *Sampler {
	return &Sampler{
		root: root,
		clk:  clk,
		last: make(map[string]previousSample),
	}
}

// Sample reads the container's current usage and computes the CPU
// delta against the previous call for the same container. The first
// call reports CPUPercent 0 and establishes the baseline.
func (s *Sampler) Sample(containerID string) Stats {
	dir := Dir(s.root, containerID)
	now := s.clk.Now()
	current := ReadCPU(dir)

	s.mu.Lock()
	previous, hasPrevious := s.last[containerID]
	if current != nil {
		s.last[containerID] = previousSample{reading: current, taken: now}
	}
	s.mu.Unlock()

	stats := Stats{
		MemoryBytes:      ReadMemoryCurrent(dir),
		MemoryLimitBytes: ReadMemoryMax(dir),
	}
	if hasPrevious {
		stats.CPUPercent = CPUPercent(previous.reading, current, now.Sub(previous.taken))
	}
	return stats
}

// Forget drops the stored baseline for a container. Called when a
// container is recycled so a reused ID starts fresh.
func (s *Sampler) Forget(containerID string) {
	s.mu.Lock()
	delete(s.last, containerID)
	s.mu.Unlock()
}
