// Package scheduler runs craftkeeper's daily background jobs: probe history
// retention and the uptime summary.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/db"
	"github.com/energizer-project/craftkeeper/internal/events"
)

// HistoryStore is the part of the history database the jobs need.
type HistoryStore interface {
	PruneOlderThan(days int) (int64, error)
	Uptime(target string, since time.Time) (db.UptimeStats, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	history  HistoryStore

	now   func() time.Time
	after func(d time.Duration) (<-chan time.Time, func() bool)
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, history HistoryStore) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		history:  history,
		now:      time.Now,
		after: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// Start runs the jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	hc := s.cfg.GetApplicationData().History
	if !hc.Enabled || s.history == nil {
		log.Info().Msg("history disabled, scheduler idle")
		<-ctx.Done()
		return
	}

	log.Info().Msg("scheduler started")

	go s.runHistoryCleanerLoop(ctx)
	if hc.SummaryEnabled {
		go s.runSummaryLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runHistoryCleanerLoop prunes old probes at the configured time each day.
func (s *Scheduler) runHistoryCleanerLoop(ctx context.Context) {
	s.runDaily(ctx, "history cleaner", func(time.Time) {
		if _, err := s.RunHistoryCleaner(); err != nil {
			log.Warn().Err(err).Msg("history cleaner failed")
		}
	})
}

// runDaily calls job at the configured cleanup_time every day until ctx
// is cancelled. The time is re-read before each wait so edits apply from
// the next run.
func (s *Scheduler) runDaily(ctx context.Context, name string, job func(now time.Time)) {
	for {
		now := s.now()
		nextRun := calculateNextCleanupTime(s.cfg.GetApplicationData().History.CleanupTime, now)
		sleepDuration := nextRun.Sub(now)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Str("job", name).
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("daily job scheduled")

		fired, stop := s.after(sleepDuration)
		select {
		case <-ctx.Done():
			stop()
			return
		case at := <-fired:
			job(at)
		}
	}
}

// RunHistoryCleaner deletes probes older than the retention window.
func (s *Scheduler) RunHistoryCleaner() (int64, error) {
	retention := s.cfg.GetApplicationData().History.RetentionDays

	log.Info().Int("retention_days", retention).Msg("running history cleaner")

	deleted, err := s.history.PruneOlderThan(retention)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}

	log.Info().Int64("deleted_probes", deleted).Msg("history cleaner completed")
	return deleted, nil
}

// runSummaryLoop publishes the uptime summary at cleanup_time each day.
func (s *Scheduler) runSummaryLoop(ctx context.Context) {
	s.runDaily(ctx, "uptime summary", func(now time.Time) {
		if _, err := s.PublishSummary(ctx, now); err != nil {
			log.Warn().Err(err).Msg("uptime summary failed")
		}
	})
}

// PublishSummary computes the last 24 hours of uptime for every configured
// target, logs it and forwards it to MQTT and Discord.
func (s *Scheduler) PublishSummary(ctx context.Context, now time.Time) ([]db.UptimeStats, error) {
	targets, err := s.cfg.Targets()
	if err != nil {
		return nil, err
	}

	since := now.Add(-24 * time.Hour)
	summary := make([]db.UptimeStats, 0, len(targets))
	lines := make([]string, 0, len(targets))

	for _, t := range targets {
		stats, err := s.history.Uptime(t.String(), since)
		if err != nil {
			return nil, err
		}
		summary = append(summary, stats)

		log.Info().
			Str("target", stats.Target).
			Int("samples", stats.Samples).
			Float64("uptime_percent", stats.UptimePercent).
			Float64("avg_latency_ms", stats.AvgLatencyMs).
			Msg("daily uptime")

		lines = append(lines, fmt.Sprintf("%s: %.2f%% up over %d probes, avg %.0f ms",
			stats.Target, stats.UptimePercent, stats.Samples, stats.AvgLatencyMs))
	}

	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "scheduler",
		Payload: events.NotifyMQTTPayload{
			Topic: "summary",
			Data:  summary,
		},
	})

	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyDiscordAdmin,
		Source: "scheduler",
		Payload: events.NotifyDiscordPayload{
			Title:   "Daily Uptime",
			Message: strings.Join(lines, "\n"),
			Level:   "info",
		},
	})

	return summary, nil
}

// calculateNextCleanupTime returns the next occurrence of the HH:MM clock
// time after now. Unparseable values fall back to 04:00.
func calculateNextCleanupTime(cleanupTime string, now time.Time) time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", strings.TrimSpace(cleanupTime)); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
