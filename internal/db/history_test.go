package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/craftkeeper/internal/events"
)

func openHistory(t *testing.T) *HistoryDatabase {
	t.Helper()
	h, err := NewHistoryDatabase(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndRecentProbes(t *testing.T) {
	h := openHistory(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.RecordProbe(ProbeRecord{
			Target:    "localhost:25565",
			Online:    i%2 == 0,
			LatencyMs: uint64(10 + i),
			State:     "succeeded",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, h.RecordProbe(ProbeRecord{Target: "other:25565", Online: true, LatencyMs: 3}))

	recs, err := h.RecentProbes("localhost:25565", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(14), recs[0].LatencyMs)
	assert.True(t, recs[0].Online)
	assert.Equal(t, uint64(0), recs[1].LatencyMs, "offline rows store zero latency")
	assert.False(t, recs[1].Online)
	assert.WithinDuration(t, base.Add(4*time.Minute), recs[0].CreatedAt, time.Millisecond)

	all, err := h.RecentProbes("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "other:25565", all[0].Target)

	targets, err := h.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:25565", "other:25565"}, targets)
}

func TestUptime(t *testing.T) {
	h := openHistory(t)
	now := time.Now()

	rows := []ProbeRecord{
		{Target: "t:1", Online: true, LatencyMs: 10, CreatedAt: now.Add(-50 * time.Minute)},
		{Target: "t:1", Online: true, LatencyMs: 30, CreatedAt: now.Add(-40 * time.Minute)},
		{Target: "t:1", Online: false, ErrorKind: "operation_timeout", CreatedAt: now.Add(-30 * time.Minute)},
		{Target: "t:1", Online: true, LatencyMs: 20, CreatedAt: now.Add(-20 * time.Minute)},
		{Target: "t:1", Online: true, LatencyMs: 999, CreatedAt: now.Add(-3 * time.Hour)},
	}
	for _, r := range rows {
		require.NoError(t, h.RecordProbe(r))
	}

	stats, err := h.Uptime("t:1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, 3, stats.OnlineSamples)
	assert.InDelta(t, 75.0, stats.UptimePercent, 0.001)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, uint64(30), stats.MaxLatencyMs)

	empty, err := h.Uptime("missing:1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Samples)
	assert.Zero(t, empty.UptimePercent)
	assert.Zero(t, empty.AvgLatencyMs)
}

func TestPrune(t *testing.T) {
	h := openHistory(t)
	now := time.Now()

	require.NoError(t, h.RecordProbe(ProbeRecord{Target: "t:1", Online: true, CreatedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, h.RecordProbe(ProbeRecord{Target: "t:1", Online: true, CreatedAt: now.AddDate(0, 0, -31)}))
	require.NoError(t, h.RecordProbe(ProbeRecord{Target: "t:1", Online: true, CreatedAt: now.AddDate(0, 0, -1)}))

	n, err := h.PruneOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err := h.RecentProbes("t:1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = h.PruneOlderThan(0)
	assert.Error(t, err)
}

func TestOnProbeCompleted(t *testing.T) {
	h := openHistory(t)
	at := time.Now().Add(-time.Minute)

	bus := events.NewEventBus()
	bus.Subscribe(events.EventProbeCompleted, "history", h.OnProbeCompleted)

	err := bus.EmitSync(context.Background(), events.Event{
		Type: events.EventProbeCompleted,
		Payload: events.ProbeCompletedPayload{
			Target:    "mc:25565",
			Online:    false,
			State:     "status_requested",
			ErrorKind: "unexpected_packet",
			Error:     "read packet id: got 0x05, want 0x00",
			At:        at,
		},
	})
	require.NoError(t, err)

	recs, err := h.RecentProbes("mc:25565", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "unexpected_packet", recs[0].ErrorKind)
	assert.Equal(t, "status_requested", recs[0].State)
	assert.Contains(t, recs[0].Message, "0x05")

	err = h.OnProbeCompleted(context.Background(), events.Event{Type: events.EventProbeCompleted, Payload: "bogus"})
	assert.Error(t, err)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := NewHistoryDatabase(path)
	require.NoError(t, err)
	require.NoError(t, h.RecordProbe(ProbeRecord{Target: "t:1", Online: true, LatencyMs: 7}))
	require.NoError(t, h.Close())

	h, err = NewHistoryDatabase(path)
	require.NoError(t, err)
	defer h.Close()

	recs, err := h.RecentProbes("t:1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(7), recs[0].LatencyMs)
}

func TestMigrateIsIdempotent(t *testing.T) {
	h := openHistory(t)

	v, err := h.db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(historyMigrations), v)

	require.NoError(t, h.db.Migrate(historyMigrations))
	v, err = h.db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(historyMigrations), v)

	size, err := h.db.Size()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	d, err := NewDatabase(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Migrate([]string{"CREATE TABLE a (id INTEGER)", "CREATE TABLE b (id INTEGER)"}))
	assert.Error(t, d.Migrate([]string{"CREATE TABLE a (id INTEGER)"}))

	err = d.Migrate([]string{"CREATE TABLE a (id INTEGER)", "CREATE TABLE b (id INTEGER)", "NOT SQL"})
	assert.Error(t, err)
	v, err := d.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
