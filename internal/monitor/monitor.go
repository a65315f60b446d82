// Package monitor probes the configured servers on a fixed interval, keeps
// a short in-memory history per target and reports online/offline
// transitions on the event bus.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// Prober runs a single probe. *ping.Prober satisfies it.
type Prober interface {
	Run(ctx context.Context, target ping.Target) ping.Outcome
}

// Sample is one recorded probe.
type Sample struct {
	At        time.Time `json:"at"`
	Online    bool      `json:"online"`
	LatencyMs uint64    `json:"latency_ms"`
	State     string    `json:"state"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func sampleOf(out ping.Outcome) Sample {
	s := Sample{
		At:        out.StartedAt,
		Online:    out.Online(),
		LatencyMs: out.Result().Latency,
		State:     out.State.String(),
	}
	if !s.Online {
		s.State = out.FailedAt.String()
		s.ErrorKind = out.Kind().String()
		if out.Err != nil {
			s.Error = out.Err.Error()
		}
	}
	return s
}

// TargetSnapshot is the current view of one target.
type TargetSnapshot struct {
	Target       string              `json:"target"`
	Address      string              `json:"address"`
	Port         uint16              `json:"port"`
	Status       events.TargetStatus `json:"status"`
	Since        time.Time           `json:"since"`
	LastCheck    *Sample             `json:"last_check,omitempty"`
	Probes       uint64              `json:"probes"`
	OnlineProbes uint64              `json:"online_probes"`
	Availability float64             `json:"availability_percent"`
}

type targetState struct {
	target  ping.Target
	status  events.TargetStatus
	since   time.Time
	history []Sample // oldest first, capped at historySize
	probes  uint64
	online  uint64
}

// Monitor probes every configured target on its own ticker.
type Monitor struct {
	cfg    *config.Config
	bus    *events.EventBus
	prober Prober
	logger zerolog.Logger

	interval    time.Duration
	historySize int
	stagger     bool
	metrics     bool

	mu      sync.RWMutex
	targets []ping.Target
	states  map[string]*targetState
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the configured probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithoutStagger makes every target start probing immediately.
func WithoutStagger() Option {
	return func(m *Monitor) {
		m.stagger = false
	}
}

// New creates a monitor for the targets named in cfg.
func New(cfg *config.Config, bus *events.EventBus, prober Prober, opts ...Option) (*Monitor, error) {
	targets, err := cfg.Targets()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve monitor targets: %w", err)
	}

	mc := cfg.GetApplicationData().Monitor
	m := &Monitor{
		cfg:         cfg,
		bus:         bus,
		prober:      prober,
		logger:      util.ComponentLogger("monitor"),
		interval:    time.Duration(mc.IntervalSec) * time.Second,
		historySize: mc.HistorySize,
		stagger:     mc.StaggerStart,
		metrics:     mc.MetricsEnabled,
		targets:     targets,
		states:      make(map[string]*targetState, len(targets)),
	}
	if m.historySize < 1 {
		m.historySize = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = 45 * time.Second
	}

	for _, t := range targets {
		m.states[t.String()] = &targetState{target: t}
	}

	return m, nil
}

// Start launches one probing goroutine per target and blocks until ctx is
// cancelled and all of them have returned.
func (m *Monitor) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, target := range m.Targets() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.run(ctx, target)
		}()
	}

	m.logger.Info().
		Int("targets", len(m.targets)).
		Dur("interval", m.interval).
		Msg("monitor started")

	<-ctx.Done()
	wg.Wait()

	if m.metrics {
		for _, t := range m.Targets() {
			forget(t)
		}
	}
	m.logger.Info().Msg("monitor stopped")
}

func (m *Monitor) run(ctx context.Context, target ping.Target) {
	if m.stagger {
		delay := staggerDelay(target.String(), m.interval)
		m.logger.Debug().Str("target", target.String()).Dur("delay", delay).Msg("staggering first probe")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ProbeNow(ctx, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeNow(ctx, target)
		}
	}
}

// staggerDelay spreads first probes over one interval. The delay depends
// only on the key, so restarts keep the same spacing.
func staggerDelay(key string, interval time.Duration) time.Duration {
	h := xxhash.Sum64String(key)
	return time.Duration(float64(interval) * (float64(h) / (1 << 64)))
}

// ProbeNow probes target immediately. Configured targets have the result
// recorded and published; others are probed without side effects.
func (m *Monitor) ProbeNow(ctx context.Context, target ping.Target) ping.Outcome {
	out := m.prober.Run(ctx, target)
	if ctx.Err() != nil && !out.Online() {
		// Shutting down; a cancelled probe says nothing about the target.
		return out
	}
	m.record(ctx, out)
	return out
}

func (m *Monitor) record(ctx context.Context, out ping.Outcome) {
	key := out.Target.String()
	sample := sampleOf(out)
	current := events.StatusOf(sample.Online)

	m.mu.Lock()
	st, ok := m.states[key]
	if !ok {
		m.mu.Unlock()
		return
	}

	st.history = append(st.history, sample)
	if len(st.history) > m.historySize {
		st.history = append(st.history[:0:0], st.history[len(st.history)-m.historySize:]...)
	}
	st.probes++
	if sample.Online {
		st.online++
	}

	previous := st.status
	changed := previous != current
	if changed {
		st.status = current
		st.since = sample.At
	}
	m.mu.Unlock()

	if m.metrics {
		observe(out)
	}

	m.bus.Emit(ctx, events.Event{
		Type:   events.EventProbeCompleted,
		Source: "monitor",
		Payload: events.ProbeCompletedPayload{
			Target:      key,
			Online:      sample.Online,
			LatencyMs:   sample.LatencyMs,
			State:       sample.State,
			ErrorKind:   sample.ErrorKind,
			Error:       sample.Error,
			StatusBytes: out.StatusBytes,
			At:          sample.At,
		},
	})

	if changed {
		m.transition(ctx, key, previous, current, sample)
	}
}

func (m *Monitor) transition(ctx context.Context, key string, previous, current events.TargetStatus, sample Sample) {
	logEvent := m.logger.Info()
	if current == events.TargetStatusOffline {
		logEvent = m.logger.Warn()
	}
	logEvent.
		Str("target", key).
		Str("from", previous.String()).
		Str("to", current.String()).
		Str("kind", sample.ErrorKind).
		Msg("target status changed")

	m.bus.Emit(ctx, events.Event{
		Type:   events.EventTargetStatusChanged,
		Source: "monitor",
		Payload: events.TargetStatusChangedPayload{
			Target:    key,
			Previous:  previous,
			Current:   current,
			LatencyMs: sample.LatencyMs,
			ErrorKind: sample.ErrorKind,
			At:        sample.At,
		},
	})

	discord := m.cfg.GetApplicationData().Discord
	switch {
	case current == events.TargetStatusOffline && discord.NotifyOnOffline:
		m.bus.Emit(ctx, events.Event{
			Type:   events.EventNotifyDiscordAdmin,
			Source: "monitor",
			Payload: events.NotifyDiscordPayload{
				Title:   "Server Offline",
				Message: fmt.Sprintf("%s stopped answering (%s)", key, sample.ErrorKind),
				Level:   "error",
			},
		})
	case current == events.TargetStatusOnline && previous == events.TargetStatusOffline && discord.NotifyOnOnline:
		m.bus.Emit(ctx, events.Event{
			Type:   events.EventNotifyDiscordAdmin,
			Source: "monitor",
			Payload: events.NotifyDiscordPayload{
				Title:   "Server Online",
				Message: fmt.Sprintf("%s is back online (%d ms)", key, sample.LatencyMs),
				Level:   "info",
			},
		})
	}
}

// Targets returns the monitored targets, primary first.
func (m *Monitor) Targets() []ping.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ping.Target, len(m.targets))
	copy(out, m.targets)
	return out
}

// Interval returns the probe interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Status returns the current status of target, or unknown if it is not
// monitored or has not been probed yet.
func (m *Monitor) Status(target string) events.TargetStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[target]; ok {
		return st.status
	}
	return events.TargetStatusUnknown
}

// Latest returns the most recent sample for target.
func (m *Monitor) Latest(target string) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[target]
	if !ok || len(st.history) == 0 {
		return Sample{}, false
	}
	return st.history[len(st.history)-1], true
}

// History returns up to limit samples for target, newest first. A limit of
// zero or less returns everything held.
func (m *Monitor) History(target string, limit int) ([]Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[target]
	if !ok {
		return nil, false
	}

	n := len(st.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Sample, 0, n)
	for i := len(st.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, st.history[i])
	}
	return out, true
}

// Snapshot returns the view of every target in configuration order.
func (m *Monitor) Snapshot() []TargetSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TargetSnapshot, 0, len(m.targets))
	for _, t := range m.targets {
		st := m.states[t.String()]
		snap := TargetSnapshot{
			Target:       t.String(),
			Address:      t.Address,
			Port:         t.Port,
			Status:       st.status,
			Since:        st.since,
			Probes:       st.probes,
			OnlineProbes: st.online,
		}
		if len(st.history) > 0 {
			last := st.history[len(st.history)-1]
			snap.LastCheck = &last
		}
		if st.probes > 0 {
			snap.Availability = float64(st.online) / float64(st.probes) * 100
		}
		out = append(out, snap)
	}
	return out
}
