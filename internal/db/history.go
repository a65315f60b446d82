package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// HistoryDatabase stores one row per completed probe.
type HistoryDatabase struct {
	db     *Database
	logger zerolog.Logger
}

// ProbeRecord is a stored probe.
type ProbeRecord struct {
	ID        int64     `json:"id"`
	Target    string    `json:"target"`
	Online    bool      `json:"online"`
	LatencyMs uint64    `json:"latency_ms"`
	State     string    `json:"state"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UptimeStats summarizes the probes of one target since a point in time.
type UptimeStats struct {
	Target        string    `json:"target"`
	Since         time.Time `json:"since"`
	Samples       int       `json:"samples"`
	OnlineSamples int       `json:"online_samples"`
	UptimePercent float64   `json:"uptime_percent"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	MaxLatencyMs  uint64    `json:"max_latency_ms"`
}

// NewHistoryDatabase opens the database at dbPath and creates the schema.
func NewHistoryDatabase(dbPath string) (*HistoryDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hdb := &HistoryDatabase{
		db:     database,
		logger: util.ComponentLogger("history"),
	}

	if err := hdb.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return hdb, nil
}

// historyMigrations are applied in order; append, never edit.
var historyMigrations = []string{
	`CREATE TABLE IF NOT EXISTS probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		online INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_probes_target_created ON probes(target, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_probes_created ON probes(created_at)`,
}

func (h *HistoryDatabase) migrate() error {
	return h.db.Migrate(historyMigrations)
}

// Close closes the underlying database.
func (h *HistoryDatabase) Close() error {
	return h.db.Close()
}

// RecordProbe inserts rec. A zero CreatedAt is stamped with the current time.
func (h *HistoryDatabase) RecordProbe(rec ProbeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if !rec.Online {
		rec.LatencyMs = 0
	}

	_, err := h.db.Exec(
		`INSERT INTO probes (target, online, latency_ms, state, error_kind, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Target, boolToInt(rec.Online), rec.LatencyMs, rec.State, rec.ErrorKind, rec.Message,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record probe for %s: %w", rec.Target, err)
	}
	return nil
}

// OnProbeCompleted stores probe_completed events. It is an events.HandlerFunc.
func (h *HistoryDatabase) OnProbeCompleted(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ProbeCompletedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}

	return h.RecordProbe(ProbeRecord{
		Target:    p.Target,
		Online:    p.Online,
		LatencyMs: p.LatencyMs,
		State:     p.State,
		ErrorKind: p.ErrorKind,
		Message:   p.Error,
		CreatedAt: p.At,
	})
}

// RecentProbes returns up to limit probes, newest first. An empty target
// matches every target.
func (h *HistoryDatabase) RecentProbes(target string, limit int) ([]ProbeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT id, target, online, latency_ms, state, error_kind, message, created_at FROM probes`
	if target == "" {
		rows, err = h.db.Query(cols+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = h.db.Query(cols+` WHERE target = ? ORDER BY created_at DESC, id DESC LIMIT ?`, target, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query probes: %w", err)
	}
	defer rows.Close()

	var records []ProbeRecord
	for rows.Next() {
		var (
			rec     ProbeRecord
			online  int
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Target, &online, &rec.LatencyMs, &rec.State, &rec.ErrorKind, &rec.Message, &created); err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}
		rec.Online = online == 1
		rec.CreatedAt = time.UnixMilli(created)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Uptime computes availability and latency of target since the given time.
// Average latency only counts online probes.
func (h *HistoryDatabase) Uptime(target string, since time.Time) (UptimeStats, error) {
	stats := UptimeStats{Target: target, Since: since}

	var (
		avgLatency sql.NullFloat64
		maxLatency sql.NullInt64
	)
	err := h.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(online), 0),
		        AVG(CASE WHEN online = 1 THEN latency_ms END),
		        MAX(latency_ms)
		 FROM probes WHERE target = ? AND created_at >= ?`,
		target, since.UnixMilli(),
	).Scan(&stats.Samples, &stats.OnlineSamples, &avgLatency, &maxLatency)
	if err != nil {
		return stats, fmt.Errorf("failed to compute uptime for %s: %w", target, err)
	}

	if stats.Samples > 0 {
		stats.UptimePercent = float64(stats.OnlineSamples) / float64(stats.Samples) * 100
	}
	if avgLatency.Valid {
		stats.AvgLatencyMs = avgLatency.Float64
	}
	if maxLatency.Valid {
		stats.MaxLatencyMs = uint64(maxLatency.Int64)
	}

	return stats, nil
}

// Targets returns every target with stored probes.
func (h *HistoryDatabase) Targets() ([]string, error) {
	rows, err := h.db.Query(`SELECT DISTINCT target FROM probes ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// PruneOlderThan deletes probes older than the given number of days.
func (h *HistoryDatabase) PruneOlderThan(days int) (int64, error) {
	if days < 1 {
		return 0, fmt.Errorf("retention must be at least 1 day, got %d", days)
	}
	return h.PruneBefore(time.Now().AddDate(0, 0, -days))
}

// PruneBefore deletes probes created before cutoff.
func (h *HistoryDatabase) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := h.db.Exec(`DELETE FROM probes WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune probes: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned probes: %w", err)
	}

	h.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned probe history")
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
