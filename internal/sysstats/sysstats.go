// Package sysstats periodically samples this process's own CPU and memory
// usage into the metrics registry and debug log — host-level numbers, not
// the cgroup-aware container accounting a deployed-in-Kubernetes sibling
// service would need (see DESIGN.md).
package sysstats

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
)

const sampleInterval = 2 * time.Second

// Run samples CPU and RSS every sampleInterval until ctx is canceled. It
// is meant to be launched in its own goroutine by the orchestrator.
func Run(ctx context.Context, logger zerolog.Logger, reg *metrics.Registry) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("sysstats: could not attach to self, sampling disabled")
		return
	}

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(proc, logger, reg)
		}
	}
}

func sample(proc *process.Process, logger zerolog.Logger, reg *metrics.Registry) {
	if pct, err := proc.CPUPercent(); err == nil {
		reg.SetProcessCPUPercent(pct)
	}

	if mem, err := proc.MemoryInfo(); err == nil {
		reg.SetProcessRSSBytes(mem.RSS)
		logger.Debug().
			Uint64("rss_bytes", mem.RSS).
			Msg("sysstats: sampled")
	}
}
