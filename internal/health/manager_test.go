package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/monitor"
	"github.com/energizer-project/craftkeeper/internal/util"
)

type staticStatus []monitor.TargetSnapshot

func (s staticStatus) Snapshot() []monitor.TargetSnapshot { return s }

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func TestDiskAlertLevel(t *testing.T) {
	assert.Equal(t, "", diskAlertLevel(42))
	assert.Equal(t, "info", diskAlertLevel(80))
	assert.Equal(t, "warning", diskAlertLevel(91.5))
	assert.Equal(t, "error", diskAlertLevel(95))
	assert.Equal(t, "critical", diskAlertLevel(100))
}

func TestCheckDiskUtilizationNotifies(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	col := &collector{}
	bus.Subscribe(events.EventNotifyDiscordAdmin, "test", col.handle)

	m := NewManager(cfg, bus, nil, "test")
	var checked string
	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		checked = path
		return &util.DiskUsage{Total: 100, Used: 96, Free: 4, UsedPercent: 96}, nil
	}

	m.CheckDiskUtilization(context.Background())
	bus.Stop()

	assert.Equal(t, "data", checked)
	got := col.all()
	require.Len(t, got, 1)
	p := got[0].Payload.(events.NotifyDiscordPayload)
	assert.Equal(t, "error", p.Level)
	assert.Contains(t, p.Message, "96.0%")
}

func TestCheckDiskUtilizationQuiet(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Health.DiskPath = t.TempDir()
	bus := events.NewEventBus()
	col := &collector{}
	bus.Subscribe(events.EventNotifyDiscordAdmin, "test", col.handle)

	m := NewManager(cfg, bus, nil, "test")
	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		return &util.DiskUsage{UsedPercent: 10}, nil
	}
	m.CheckDiskUtilization(context.Background())

	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		return nil, errors.New("no such volume")
	}
	m.CheckDiskUtilization(context.Background())

	cfg.ApplicationData.Health.NotifyOnDisk = false
	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		return &util.DiskUsage{UsedPercent: 99}, nil
	}
	m.CheckDiskUtilization(context.Background())

	bus.Stop()
	assert.Empty(t, col.all())
}

func TestBuildHeartbeat(t *testing.T) {
	status := staticStatus{
		{Target: "a:1", Status: events.TargetStatusOnline},
		{Target: "b:1", Status: events.TargetStatusOnline},
		{Target: "c:1", Status: events.TargetStatusOffline},
		{Target: "d:1", Status: events.TargetStatusUnknown},
	}
	m := NewManager(config.DefaultConfig(), events.NewEventBus(), status, "1.2.3")

	hb := m.BuildHeartbeat(m.started.Add(90 * time.Second))
	assert.Equal(t, "1.2.3", hb.Version)
	assert.Equal(t, int64(90), hb.UptimeSeconds)
	assert.Equal(t, 4, hb.Targets)
	assert.Equal(t, 2, hb.Online)
	assert.Equal(t, 1, hb.Offline)
	assert.Equal(t, 1, hb.Unknown)
	assert.Zero(t, hb.DroppedEvents)

	empty := NewManager(config.DefaultConfig(), events.NewEventBus(), nil, "1.2.3").BuildHeartbeat(time.Now())
	assert.Equal(t, 0, empty.Targets)
}

func TestStartPublishesHeartbeat(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Health.DiskCheckIntervalSec = 0
	cfg.ApplicationData.Health.HeartbeatIntervalSec = 3600

	bus := events.NewEventBus()
	defer bus.Stop()
	col := &collector{}
	bus.Subscribe(events.EventNotifyMQTT, "test", col.handle)

	m := NewManager(cfg, bus, staticStatus{{Target: "a:1", Status: events.TargetStatusOnline}}, "test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(col.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	p := col.all()[0].Payload.(events.NotifyMQTTPayload)
	assert.Equal(t, TopicHeartbeat, p.Topic)
	assert.Equal(t, 1, p.Data.(Heartbeat).Online)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("health manager did not stop")
	}
}
