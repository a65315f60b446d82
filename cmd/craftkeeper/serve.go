package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/craftkeeper/internal/api"
	"github.com/energizer-project/craftkeeper/internal/cli"
	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/connector"
	"github.com/energizer-project/craftkeeper/internal/db"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/health"
	"github.com/energizer-project/craftkeeper/internal/monitor"
	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/scheduler"
	"github.com/energizer-project/craftkeeper/internal/telemetry"
	"github.com/energizer-project/craftkeeper/internal/util"
)

func serveCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Monitor the configured targets and serve the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner()
			fmt.Println()
			return serve(cmd.Context(), interactive)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "I", false, "read console commands from stdin")

	return cmd
}

func serve(parent context.Context, interactive bool) error {
	// Console only until the configured log directory is known.
	if err := util.InitLogger(util.LogConfig{Level: "info", Console: true}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	if err := util.InitLogger(cfg.LogConfig()); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("config", cfg.Path()).
		Msg("starting craftkeeper")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, run 'craftkeeper init' or fix %s", cfg.Path())
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := cfg.GetApplicationData()
	eventBus := events.NewEventBus()

	// Console "quit" and fatal component errors end the run.
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	prober := ping.NewProber(cfg.ProberOptions()...)

	var mon *monitor.Monitor
	if app.Monitor.Enabled {
		mon, err = monitor.New(cfg, eventBus, prober)
		if err != nil {
			return err
		}
	}

	var history *db.HistoryDatabase
	if app.History.Enabled {
		history, err = db.NewHistoryDatabase(app.History.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer history.Close()
		eventBus.Subscribe(events.EventProbeCompleted, "history", history.OnProbeCompleted)
	}

	discord := connector.NewDiscordConnector(cfg, eventBus)
	defer discord.Close()

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	apiServer := api.NewServer(cfg, prober, mon, version)

	var healthMgr *health.Manager
	if mon != nil {
		healthMgr = health.NewManager(cfg, eventBus, mon, version)
	} else {
		healthMgr = health.NewManager(cfg, eventBus, nil, version)
	}

	// Interface-typed stores stay nil when history is disabled.
	var sched *scheduler.Scheduler
	if history != nil {
		apiServer.SetHistory(history)
		sched = scheduler.NewScheduler(cfg, eventBus, history)
	} else {
		sched = scheduler.NewScheduler(cfg, eventBus, nil)
	}

	components := []component{
		{name: "api", run: func(ctx context.Context) error {
			return startWithRetry(ctx, "api", apiServer.Start, 5)
		}, fatal: true},
		{name: "scheduler", run: runUntilDone(sched.Start)},
		{name: "health", run: runUntilDone(healthMgr.Start)},
	}
	if mon != nil {
		components = append(components, component{name: "monitor", run: runUntilDone(mon.Start)})
	} else {
		log.Info().Msg("monitor disabled")
	}
	if mqttHandler != nil {
		components = append(components, component{name: "mqtt", run: mqttHandler.Start})
	}
	if interactive {
		console := cli.NewCLI(cfg, eventBus, mon, prober, os.Stdin, os.Stdout)
		if history != nil {
			console.SetHistory(history)
		}
		components = append(components, component{name: "console", run: runUntilDone(console.Start)})
	}

	wg := runComponents(ctx, cancel, components)

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	if waitTimeout(wg, shutdownTimeout) {
		log.Info().Msg("all tasks stopped gracefully")
	} else {
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	// Drains queued probe results into the history database before it is
	// closed by the deferred Close.
	eventBus.Stop()

	log.Info().Msg("craftkeeper stopped")
	return nil
}

const shutdownTimeout = 30 * time.Second

// component is a long-running part of serve. A fatal component's failure
// ends the whole run; others only log.
type component struct {
	name  string
	run   func(ctx context.Context) error
	fatal bool
}

func runUntilDone(start func(ctx context.Context)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		start(ctx)
		return nil
	}
}

// runComponents starts every component on its own goroutine.
func runComponents(ctx context.Context, cancel context.CancelFunc, components []component) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			if c.fatal {
				log.Error().Err(err).Str("component", c.name).Msg("component failed, shutting down")
				cancel()
				return
			}
			log.Warn().Err(err).Str("component", c.name).Msg("component stopped with error")
		}()
	}
	return &wg
}

// waitTimeout reports whether wg finished within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// startWithRetry retries startFn while the port is still held by a
// previous process.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
