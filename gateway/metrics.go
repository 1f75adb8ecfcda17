// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"net/http"
)

// ContainerUsage is one container's resource sample, supplied by the
// daemon's usage collector (lifecycle list joined with cgroup stats).
type ContainerUsage struct {
	Name          string
	CPUPercent    int
	MemoryBytes   uint64
	MemoryLimit   uint64
	UptimeSeconds int64
}

// containerMetrics is the wire row. Memory travels pre-formatted: the
// dashboard renders the strings verbatim, matching what an operator
// would read from docker stats.
type containerMetrics struct {
	Name          string `json:"name"`
	CPUPercent    int    `json:"cpu_percent"`
	MemUsageHuman string `json:"mem_usage_human"`
	MemLimitHuman string `json:"mem_limit_human"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rows := []containerMetrics{}
	if g.usage != nil {
		for _, usage := range g.usage(r.Context()) {
			limit := "unlimited"
			if usage.MemoryLimit > 0 {
				limit = humanBytes(usage.MemoryLimit)
			}
			rows = append(rows, containerMetrics{
				Name:          usage.Name,
				CPUPercent:    usage.CPUPercent,
				MemUsageHuman: humanBytes(usage.MemoryBytes),
				MemLimitHuman: limit,
				UptimeSeconds: usage.UptimeSeconds,
			})
		}
	}
	g.writeJSON(w, rows)
}

// humanBytes renders a byte count in binary units with one decimal,
// e.g. 1536 → "1.5KiB".
func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
