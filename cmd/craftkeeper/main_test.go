package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/ping/pingtest"
	"github.com/energizer-project/craftkeeper/internal/util"
)

func TestPingTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PingData.Address = "mc.example.net"
	cfg.PingData.Port = 25570

	tests := []struct {
		name    string
		args    []string
		want    ping.Target
		wantErr bool
	}{
		{name: "configured", args: nil, want: ping.Target{Address: "mc.example.net", Port: 25570}},
		{name: "address only keeps configured port", args: []string{"other.net"}, want: ping.Target{Address: "other.net", Port: 25570}},
		{name: "host:port", args: []string{"other.net:1234"}, want: ping.Target{Address: "other.net", Port: 1234}},
		{name: "address and port", args: []string{"10.0.0.1", "25565"}, want: ping.Target{Address: "10.0.0.1", Port: 25565}},
		{name: "bad port", args: []string{"10.0.0.1", "x"}, wantErr: true},
		{name: "port zero", args: []string{"10.0.0.1", "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pingTarget(cfg, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPingCommand(t *testing.T) {
	srv := pingtest.NewServer(pingtest.Faithful())
	defer srv.Close()

	configDir = t.TempDir()
	cmd := pingCmd()
	cmd.SetArgs([]string{srv.Host(), fmt.Sprint(srv.Port()), "--json", "--count", "2", "--interval", "10ms"})
	require.NoError(t, cmd.Execute())

	assert.False(t, util.FileExists(filepath.Join(configDir, config.DefaultConfigFile)))
}

func TestPingCommandOffline(t *testing.T) {
	b := pingtest.Faithful()
	b.StatusID = 0x05
	srv := pingtest.NewServer(b)
	defer srv.Close()

	configDir = t.TempDir()
	cmd := pingCmd()
	cmd.SetArgs([]string{srv.Addr(), "--json"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, errOffline)
}

func TestPingCommandRejectsOutOfRangeConfiguredPort(t *testing.T) {
	configDir = t.TempDir()
	path := filepath.Join(configDir, config.DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"ping_data":{"ping_address":"127.0.0.1","ping_port":70000}}`), 0o644))

	cmd := pingCmd()
	cmd.SetArgs([]string{"--json"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_port")
}

func TestPingTargetOutOfRangeConfiguredPort(t *testing.T) {
	for _, port := range []int{70000, -1} {
		cfg := config.DefaultConfig()
		cfg.PingData.Address = "mc.example.net"
		cfg.PingData.Port = port

		_, err := pingTarget(cfg, nil)
		assert.Error(t, err, "port %d", port)
	}
}

func TestStartWithRetry(t *testing.T) {
	calls := 0
	err := startWithRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	calls = 0
	start := time.Now()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err = startWithRetry(ctx, "test", func(context.Context) error {
		calls++
		return errors.New("address in use")
	}, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunComponentsFatalCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := runComponents(ctx, cancel, []component{
		{name: "broken", run: func(context.Context) error { return errors.New("bind failed") }, fatal: true},
		{name: "waiter", run: runUntilDone(func(ctx context.Context) { <-ctx.Done() })},
	})

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fatal component did not cancel the run")
	}
	assert.True(t, waitTimeout(wg, 2*time.Second))
}

func TestRunComponentsNonFatalKeepsRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	wg := runComponents(ctx, cancel, []component{
		{name: "mqtt", run: func(context.Context) error { return errors.New("broker down") }},
	})
	assert.True(t, waitTimeout(wg, 2*time.Second))
	assert.NoError(t, ctx.Err())
	cancel()
}

func TestWaitTimeoutExpires(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Done()

	assert.False(t, waitTimeout(&wg, 20*time.Millisecond))
}
