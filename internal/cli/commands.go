// Package cli renders probe results as tables and implements the
// interactive console available while craftkeeper serves.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/db"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/monitor"
	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// HistoryReader is the read side of the probe history store.
type HistoryReader interface {
	RecentProbes(target string, limit int) ([]db.ProbeRecord, error)
	Uptime(target string, since time.Time) (db.UptimeStats, error)
}

// CLI is the interactive console.
type CLI struct {
	cfg     *config.Config
	bus     *events.EventBus
	monitor *monitor.Monitor
	prober  *ping.Prober
	history HistoryReader
	logger  zerolog.Logger

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// mon may be nil when the monitor is disabled.
func NewCLI(cfg *config.Config, bus *events.EventBus, mon *monitor.Monitor, prober *ping.Prober, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:     cfg,
		bus:     bus,
		monitor: mon,
		prober:  prober,
		logger:  util.ComponentLogger("cli"),
		in:      in,
		out:     out,
	}
}

// SetHistory attaches the persistent history store.
func (c *CLI) SetHistory(h HistoryReader) {
	c.history = h
}

// Start runs the console until ctx is cancelled, input ends, or the user
// quits.
func (c *CLI) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(c.out, "\ncraftkeeper console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "craftkeeper> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				c.logger.Debug().Msg("console input closed")
				return
			}
			line = l
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		quit, err := c.Execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// Execute runs one console command. It reports whether the console should
// stop.
func (c *CLI) Execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.cmdStatus()
	case "probe", "p":
		return false, c.cmdProbe(ctx, args)
	case "history":
		return false, c.cmdHistory(args)
	case "uptime":
		return false, c.cmdUptime(args)
	case "setconfig":
		return false, c.cmdSetConfig(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down craftkeeper...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status                  Show every monitored target
  probe [target]          Probe a target now (default: primary)
  history [target] [n]    Show the last n probes of a target
  uptime [target] [hours] Show uptime over the last hours (default 24)
  setconfig <key> <value> Update a ping_data field and save
  quit                    Shut down craftkeeper
  help                    Show this help message`)
}

func (c *CLI) cmdStatus() error {
	if c.monitor == nil {
		return fmt.Errorf("monitor is disabled")
	}
	RenderSnapshot(c.out, c.monitor.Snapshot())
	return nil
}

func (c *CLI) targetArg(args []string, i int) (ping.Target, error) {
	if len(args) <= i {
		return c.cfg.PrimaryTarget(), nil
	}
	return ping.ParseTarget(args[i], config.DefaultPingPort)
}

func (c *CLI) cmdProbe(ctx context.Context, args []string) error {
	target, err := c.targetArg(args, 0)
	if err != nil {
		return err
	}

	var out ping.Outcome
	if c.monitor != nil {
		// Records the result when target is monitored.
		out = c.monitor.ProbeNow(ctx, target)
	} else {
		out = c.prober.Run(ctx, target)
	}
	RenderOutcomes(c.out, []ping.Outcome{out})
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	target, err := c.targetArg(args, 0)
	if err != nil {
		return err
	}
	limit := 20
	if len(args) > 1 {
		if limit, err = strconv.Atoi(args[1]); err != nil || limit < 1 {
			return fmt.Errorf("invalid count: %s", args[1])
		}
	}

	if c.history != nil {
		records, err := c.history.RecentProbes(target.String(), limit)
		if err != nil {
			return err
		}
		RenderRecords(c.out, records)
		return nil
	}

	if c.monitor == nil {
		return fmt.Errorf("history and monitor are disabled")
	}
	samples, ok := c.monitor.History(target.String(), limit)
	if !ok {
		return fmt.Errorf("%s is not monitored", target)
	}
	RenderSamples(c.out, samples)
	return nil
}

func (c *CLI) cmdUptime(args []string) error {
	if c.history == nil {
		return fmt.Errorf("history is disabled")
	}
	target, err := c.targetArg(args, 0)
	if err != nil {
		return err
	}
	hours := 24
	if len(args) > 1 {
		if hours, err = strconv.Atoi(args[1]); err != nil || hours < 1 {
			return fmt.Errorf("invalid hours: %s", args[1])
		}
	}

	stats, err := c.history.Uptime(target.String(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return err
	}
	RenderUptime(c.out, []db.UptimeStats{stats})
	return nil
}

// cmdSetConfig updates a ping_data field. Numbers are stored as numbers and
// extra_targets takes a comma-separated list.
func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{} = raw
	if key == "extra_targets" {
		var list []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		value = list
	} else if n, err := strconv.Atoi(raw); err == nil {
		value = n
	}

	if err := c.cfg.UpdatePingField(key, value); err != nil {
		return err
	}

	if result := config.Validate(c.cfg); !result.IsValid() {
		return fmt.Errorf("invalid configuration: %v", result.Errors[0])
	}

	if err := c.cfg.Save(); err != nil {
		return err
	}

	c.bus.Emit(context.Background(), events.Event{
		Type:    events.EventConfigChanged,
		Source:  "cli",
		Payload: events.ConfigChangedPayload{Section: "ping_data", Key: key, Value: value},
	})

	fmt.Fprintf(c.out, "Config updated: %s = %s (applies on restart)\n", key, raw)
	return nil
}
