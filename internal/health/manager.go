// Package health runs craftkeeper's self-checks: disk space on the volume
// holding probe history, and a periodic heartbeat summarizing monitor state.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/monitor"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// TopicHeartbeat is the telemetry sub-topic for heartbeats.
const TopicHeartbeat = "heartbeat"

// StatusSource reports the monitor's current view. *monitor.Monitor
// satisfies it.
type StatusSource interface {
	Snapshot() []monitor.TargetSnapshot
}

// Heartbeat is published on every heartbeat tick.
type Heartbeat struct {
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Targets       int       `json:"targets"`
	Online        int       `json:"online"`
	Offline       int       `json:"offline"`
	Unknown       int       `json:"unknown"`
	DroppedEvents uint64    `json:"dropped_events"`
	Timestamp     time.Time `json:"timestamp"`
}

// Manager runs the periodic self-checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	status   StatusSource
	version  string
	started  time.Time
	logger   zerolog.Logger

	diskUsage func(path string) (*util.DiskUsage, error)
}

// NewManager creates a health manager. status may be nil when the monitor
// is disabled.
func NewManager(cfg *config.Config, eventBus *events.EventBus, status StatusSource, version string) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		status:    status,
		version:   version,
		started:   time.Now(),
		logger:    util.ComponentLogger("health"),
		diskUsage: util.GetDiskUsage,
	}
}

// Start launches every enabled check on its own ticker and blocks until
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	hc := m.cfg.GetApplicationData().Health

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"disk_utilization", hc.DiskCheckIntervalSec, m.CheckDiskUtilization},
		{"heartbeat", hc.HeartbeatIntervalSec, m.PublishHeartbeat},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			m.logger.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

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

	m.logger.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

// diskAlertLevel maps usage to a notification level, "" below 80%.
func diskAlertLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}

// CheckDiskUtilization alerts when the history volume fills up.
func (m *Manager) CheckDiskUtilization(ctx context.Context) {
	path := m.cfg.DiskPath()

	usage, err := m.diskUsage(path)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Str("path", path).
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := diskAlertLevel(usage.UsedPercent)
	if level == "" {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total) on %s",
		usage.UsedPercent, usage.Free, usage.Total, path)
	m.logger.Warn().Str("level", level).Msg(message)

	if m.cfg.GetApplicationData().Health.NotifyOnDisk {
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventNotifyDiscordAdmin,
			Source: "health_check",
			Payload: events.NotifyDiscordPayload{
				Title:   "Disk Space Alert",
				Message: message,
				Level:   level,
			},
		})
	}
}

// BuildHeartbeat counts targets by status.
func (m *Manager) BuildHeartbeat(now time.Time) Heartbeat {
	hb := Heartbeat{
		Version:       m.version,
		UptimeSeconds: int64(now.Sub(m.started).Seconds()),
		Timestamp:     now,
	}
	for _, st := range m.eventBus.Stats() {
		hb.DroppedEvents += st.Dropped
	}
	if m.status == nil {
		return hb
	}

	for _, t := range m.status.Snapshot() {
		hb.Targets++
		switch t.Status {
		case events.TargetStatusOnline:
			hb.Online++
		case events.TargetStatusOffline:
			hb.Offline++
		default:
			hb.Unknown++
		}
	}
	return hb
}

// PublishHeartbeat emits a heartbeat for the telemetry client.
func (m *Manager) PublishHeartbeat(ctx context.Context) {
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "heartbeat",
		Payload: events.NotifyMQTTPayload{
			Topic: TopicHeartbeat,
			Data:  m.BuildHeartbeat(time.Now()),
		},
	})
}
