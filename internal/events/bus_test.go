package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesAllHandlers(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32

	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(EventProbeCompleted, name, func(ctx context.Context, e Event) error {
			calls.Add(1)
			return nil
		})
	}

	bus.Emit(context.Background(), Event{Type: EventProbeCompleted, Source: "test"})
	bus.Stop()

	assert.Equal(t, int32(3), calls.Load())
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")

	bus.Subscribe(EventShutdown, "ok", func(ctx context.Context, e Event) error { return nil })
	bus.Subscribe(EventShutdown, "fail", func(ctx context.Context, e Event) error { return boom })

	err := bus.EmitSync(context.Background(), Event{Type: EventShutdown})
	assert.ErrorIs(t, err, boom)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventNotifyMQTT, "panics", func(ctx context.Context, e Event) error {
		panic("handler bug")
	})

	assert.NotPanics(t, func() {
		require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventNotifyMQTT}))
	})
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	noop := func(ctx context.Context, e Event) error { return nil }

	bus.Subscribe(EventProbeCompleted, "keep", noop)
	bus.Subscribe(EventProbeCompleted, "drop", noop)
	require.Equal(t, 2, bus.HandlerCount(EventProbeCompleted))

	bus.Unsubscribe(EventProbeCompleted, "drop")
	assert.Equal(t, 1, bus.HandlerCount(EventProbeCompleted))
}

func TestStopDropsEventsAndIsIdempotent(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventProbeCompleted, "count", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Stop()

	bus.Emit(context.Background(), Event{Type: EventProbeCompleted})
	select {
	case <-bus.StopCh():
	case <-time.After(time.Second):
		t.Fatal("stop channel not closed")
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestSubscriberSeesEmitOrder(t *testing.T) {
	bus := NewEventBus()
	var got []int
	bus.Subscribe(EventProbeCompleted, "order", func(ctx context.Context, e Event) error {
		got = append(got, e.Payload.(int))
		return nil
	})

	for i := 0; i < 100; i++ {
		bus.Emit(context.Background(), Event{Type: EventProbeCompleted, Payload: i})
	}
	bus.Stop()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestFullQueueDropsAndCounts(t *testing.T) {
	bus := NewEventBus(WithQueueSize(1))
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32

	bus.Subscribe(EventNotifyMQTT, "slow", func(ctx context.Context, e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		calls.Add(1)
		return nil
	})

	emit := func() { bus.Emit(context.Background(), Event{Type: EventNotifyMQTT}) }

	emit()
	<-started
	emit() // queued
	emit() // dropped

	stats := bus.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "slow", stats[0].Name)
	assert.Equal(t, uint64(1), stats[0].Dropped)
	assert.Equal(t, 1, stats[0].Pending)

	close(release)
	bus.Stop()
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnsubscribeDeliversQueued(t *testing.T) {
	bus := NewEventBus()
	release := make(chan struct{})
	var calls atomic.Int32

	bus.Subscribe(EventProbeCompleted, "h", func(ctx context.Context, e Event) error {
		<-release
		calls.Add(1)
		return nil
	})
	bus.Emit(context.Background(), Event{Type: EventProbeCompleted})
	bus.Emit(context.Background(), Event{Type: EventProbeCompleted})
	bus.Unsubscribe(EventProbeCompleted, "h")
	bus.Emit(context.Background(), Event{Type: EventProbeCompleted})

	close(release)
	bus.Stop()
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubscribeAfterStopIsIgnored(t *testing.T) {
	bus := NewEventBus()
	bus.Stop()
	bus.Subscribe(EventShutdown, "late", func(ctx context.Context, e Event) error { return nil })
	assert.Equal(t, 0, bus.HandlerCount(EventShutdown))
}

func TestTargetStatus(t *testing.T) {
	assert.Equal(t, TargetStatusOnline, StatusOf(true))
	assert.Equal(t, TargetStatusOffline, StatusOf(false))
	assert.Equal(t, "unknown", TargetStatus(42).String())

	data, err := json.Marshal(TargetStatusOffline)
	require.NoError(t, err)
	assert.Equal(t, `"offline"`, string(data))

	var back TargetStatus
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, TargetStatusOffline, back)

	require.NoError(t, json.Unmarshal([]byte(`"sideways"`), &back))
	assert.Equal(t, TargetStatusUnknown, back)
}
