// Package health runs the periodic self checks of a running host: a
// stalled game loop, host resource pressure and disk space, plus the
// heartbeat published to telemetry.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/util"
)

// Manager runs the health checks on their own tickers.
type Manager struct {
	cfg      config.HealthConfig
	diskPath string
	eventBus *events.EventBus
	status   func() netgame.StatusSnapshot
	usage    func() (*util.ProcessUsage, error)
	disk     func(path string) (*util.DiskUsage, error)
	logger   zerolog.Logger

	mu     sync.Mutex
	failed map[string]bool
}

// NewManager creates the checks for one host. diskPath is the directory
// whose filesystem is watched, usually the database directory.
func NewManager(cfg config.HealthConfig, diskPath string, eventBus *events.EventBus, status func() netgame.StatusSnapshot) *Manager {
	return &Manager{
		cfg:      cfg,
		diskPath: diskPath,
		eventBus: eventBus,
		status:   status,
		usage:    util.GetProcessUsage,
		disk:     util.GetDiskUsage,
		logger:   util.ComponentLogger("health"),
		failed:   make(map[string]bool),
	}
}

// Start launches every check and blocks until ctx ends.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"game_loop", m.cfg.CheckIntervalSec, m.checkGameLoop},
		{"resources", m.cfg.CheckIntervalSec, m.checkResources},
		{"disk", m.cfg.DiskIntervalSec, m.checkDisk},
		{"heartbeat", m.cfg.HeartbeatSec, m.heartbeat},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++
		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health checks started")
	wg.Wait()
	m.logger.Info().Msg("health checks stopped")
}

// report emits an alert when a check starts failing and once more when it
// recovers, so a lasting problem is not repeated every tick.
func (m *Manager) report(ctx context.Context, check string, failing bool, level, message string) {
	m.mu.Lock()
	was := m.failed[check]
	m.failed[check] = failing
	m.mu.Unlock()

	switch {
	case failing && !was:
		m.logger.Warn().Str("check", check).Str("level", level).Msg(message)
	case !failing && was:
		level = "info"
		message = check + " recovered"
		m.logger.Info().Str("check", check).Msg(message)
	default:
		return
	}
	m.eventBus.Emit(ctx, events.New(events.EventHealthAlert, "health", events.HealthPayload{
		Check:   check,
		Level:   level,
		Message: message,
	}))
}

// Failing reports whether check is currently failing.
func (m *Manager) Failing(check string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[check]
}

func (m *Manager) checkGameLoop(ctx context.Context) {
	snap := m.status()
	idle := time.Since(snap.UpdatedAt)
	limit := time.Duration(m.cfg.StallSec) * time.Second
	m.report(ctx, "game_loop", idle > limit, "error",
		fmt.Sprintf("game loop has not run for %s", idle.Round(time.Second)))
}

func (m *Manager) checkResources(ctx context.Context) {
	usage, err := m.usage()
	if err != nil {
		m.logger.Warn().Err(err).Msg("resource check failed")
		return
	}
	m.logger.Debug().
		Float64("cpu_percent", usage.CPUPercent).
		Uint64("rss_mb", usage.RSS).
		Int("goroutines", usage.Goroutines).
		Float64("system_cpu", usage.SystemCPU).
		Float64("system_mem", usage.SystemMemUsed).
		Msg("resource usage")

	m.report(ctx, "cpu", m.cfg.CPUWarnPercent > 0 && usage.SystemCPU >= m.cfg.CPUWarnPercent, "warning",
		fmt.Sprintf("host CPU at %.1f%%", usage.SystemCPU))
	m.report(ctx, "memory", m.cfg.MemoryWarnPercent > 0 && usage.SystemMemUsed >= m.cfg.MemoryWarnPercent, "warning",
		fmt.Sprintf("host memory at %.1f%%", usage.SystemMemUsed))
}

func (m *Manager) checkDisk(ctx context.Context) {
	usage, err := m.disk(m.diskPath)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", m.diskPath).Msg("disk utilization check failed")
		return
	}

	var level string
	switch {
	case usage.UsedPercent >= 95:
		level = "critical"
	case usage.UsedPercent >= 90:
		level = "error"
	case usage.UsedPercent >= 80:
		level = "warning"
	}
	m.report(ctx, "disk", level != "", level,
		fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)", usage.UsedPercent, usage.Free, usage.Total))
}

func (m *Manager) heartbeat(ctx context.Context) {
	snap := m.status()
	m.eventBus.Emit(ctx, events.New(events.EventHeartbeat, "health", events.HeartbeatPayload{
		Role:      snap.Role,
		State:     snap.State,
		Players:   len(snap.Players),
		Nodes:     len(snap.Nodes),
		GameTic:   snap.GameTic,
		Timestamp: time.Now().Unix(),
	}))
}
