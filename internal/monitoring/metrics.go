// Package monitoring samples read-only host telemetry for display.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
)

// DefaultInterval is the sampling period used when none is given.
const DefaultInterval = 10 * time.Second

// Stats holds one telemetry sample
type Stats struct {
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryTotalBytes uint64    `json:"memory_total_bytes"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Monitor periodically samples CPU and memory usage
type Monitor struct {
	mu     sync.RWMutex
	latest *Stats
	logger *logging.Logger

	cpuPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
}

// NewMonitor creates a new monitoring service
func NewMonitor(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		logger:        logger.WithComponent("monitoring"),
		cpuPercent:    cpu.Percent,
		virtualMemory: mem.VirtualMemory,
	}
}

// Start samples every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	go m.collect(ctx, interval)
}

func (m *Monitor) collect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sample(); err != nil {
			m.logger.WithError(err).Debug("Failed to sample system stats")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample takes one measurement, records it and returns it.
func (m *Monitor) Sample() (Stats, error) {
	// A zero interval compares against the previous call.
	usage, err := m.cpuPercent(0, false)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(usage) == 0 {
		return Stats{}, fmt.Errorf("failed to read cpu usage: no samples")
	}

	vm, err := m.virtualMemory()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read memory usage: %w", err)
	}

	stats := Stats{
		CPUPercent:       usage[0],
		MemoryPercent:    vm.UsedPercent,
		MemoryUsedBytes:  vm.Used,
		MemoryTotalBytes: vm.Total,
		LastUpdated:      time.Now(),
	}

	m.mu.Lock()
	m.latest = &stats
	m.mu.Unlock()

	metrics.UpdateSystemMetrics(stats.CPUPercent, stats.MemoryPercent)
	m.logger.LogSystemStats(stats.CPUPercent, stats.MemoryPercent)
	return stats, nil
}

// Latest returns the last sample, if any.
func (m *Monitor) Latest() (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == nil {
		return Stats{}, false
	}
	return *m.latest, true
}
