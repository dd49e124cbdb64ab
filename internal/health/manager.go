// Package health runs the hub's background maintenance loops: stale
// connection sweeps, disk utilization alerts, periodic stats
// publication, and audit log pruning.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/db"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/network"
	"github.com/gamelink-project/gamelink/internal/util"
)

const auditPruneInterval = 24 * time.Hour

// Manager runs the periodic maintenance checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *network.ConnectionRegistry
	store    *db.TokenStore

	mu sync.Mutex
	// serverID -> when the sweep first saw it disconnected with no
	// reconnect activity. Cleared whenever the server comes back.
	staleSince map[string]time.Time
}

// NewManager creates a new maintenance manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, registry *network.ConnectionRegistry, store *db.TokenStore) *Manager {
	return &Manager{
		cfg:        cfg,
		eventBus:   eventBus,
		registry:   registry,
		store:      store,
		staleSince: make(map[string]time.Time),
	}
}

// Start launches all maintenance goroutines and blocks until the
// context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"stale_sweep", timers.StaleSweepInterval, m.sweepStaleConnections},
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
		{"stats_publish", timers.StatsInterval, m.publishStats},
	}

	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}

		check := check
		go func() {
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

	if timers.AuditRetentionDays > 0 {
		go m.auditPruneLoop(ctx, timers.AuditRetentionDays)
	}

	log.Info().Int("checks", len(checks)).Msg("maintenance manager started")

	<-ctx.Done()
	log.Info().Msg("maintenance manager stopped")
}

// sweepStaleConnections removes connections that have sat disconnected
// with no reconnect activity for two full sweep intervals. Connections
// disabled by an operator are kept so the re-handshake bar holds.
func (m *Manager) sweepStaleConnections(ctx context.Context) {
	threshold := 2 * time.Duration(m.cfg.GetApplicationData().Timers.StaleSweepInterval) * time.Second
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	live := make(map[string]bool)
	removed := 0

	for _, conn := range m.registry.All() {
		id := conn.ServerID()
		live[id] = true

		status := conn.Status()
		reconnect := conn.Reconnect().GetStatus()

		idle := (status == network.StatusDisconnected || status == network.StatusError) &&
			!reconnect.IsReconnecting && !reconnect.Disabled

		if !idle {
			delete(m.staleSince, id)
			continue
		}

		since, seen := m.staleSince[id]
		if !seen {
			m.staleSince[id] = now
			continue
		}

		if now.Sub(since) >= threshold {
			m.registry.Remove(id, "stale connection swept")
			delete(m.staleSince, id)
			removed++

			m.eventBus.Emit(ctx, events.Event{
				Type:    events.EventConnectionRemoved,
				Source:  "health",
				Payload: events.ConnectionPayload{ServerID: id, Reason: "stale connection swept"},
			})
		}
	}

	// Forget servers that left the registry through other paths.
	for id := range m.staleSince {
		if !live[id] {
			delete(m.staleSince, id)
		}
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Msg("swept stale connections")
	}
}

// checkDiskUtilization monitors disk space under the database and
// alerts at thresholds.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	usage, err := util.GetDiskUsage("/")
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	// Alert thresholds: 80%, 90%, 95%, 100%
	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	case usage.UsedPercent >= 80:
		level = "info"
	default:
		return // No alert needed
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)

	log.Warn().Str("level", level).Msg(message)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "health",
		Payload: events.NotifyMQTTPayload{
			Topic: "admin",
			Payload: map[string]any{
				"type":    "disk_alert",
				"level":   level,
				"message": message,
			},
		},
	})
}

// publishStats pushes aggregate connection statistics to telemetry.
func (m *Manager) publishStats(ctx context.Context) {
	stats := m.registry.Stats()

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "health",
		Payload: events.NotifyMQTTPayload{
			Topic: "status",
			Payload: map[string]any{
				"type":        "hub_stats",
				"connections": stats.Total,
				"by_status":   stats.ByStatus,
				"by_mode":     stats.ByMode,
			},
		},
	})
}

// auditPruneLoop trims aged audit entries once a day.
func (m *Manager) auditPruneLoop(ctx context.Context, retentionDays int) {
	retention := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := m.store.PruneAudit(retention)
			if err != nil {
				log.Warn().Err(err).Msg("audit prune failed")
				continue
			}
			if pruned > 0 {
				log.Info().Int64("pruned", pruned).Msg("pruned aged audit entries")
			}
		}
	}
}
