package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/craftkeeper/internal/cli"
	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/ping"
)

var errOffline = errors.New("server did not answer")

func pingCmd() *cobra.Command {
	var (
		connectTimeout time.Duration
		overallTimeout time.Duration
		interval       time.Duration
		count          int
		protocolVer    int32
		asJSON         bool
		report         bool
	)

	cmd := &cobra.Command{
		Use:   "ping [address] [port]",
		Short: "Check whether a server is up and measure its latency",
		Long: `Connects to the server, performs the status handshake and times a
ping/pong round trip. Address and port default to ping_address and
ping_port from the configuration.

With --json each probe prints {"online": bool, "latency": ms}.
The command exits non-zero when no probe succeeded.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			initQuietLogger()

			cfg, err := loadConfigIfPresent()
			if err != nil {
				return err
			}

			target, err := pingTarget(cfg, args)
			if err != nil {
				return err
			}

			opts := cfg.ProberOptions()
			if cmd.Flags().Changed("connect-timeout") {
				opts = append(opts, ping.WithConnectTimeout(connectTimeout))
			}
			if cmd.Flags().Changed("timeout") {
				opts = append(opts, ping.WithOverallTimeout(overallTimeout))
			}
			if cmd.Flags().Changed("protocol") {
				opts = append(opts, ping.WithProtocolVersion(protocolVer))
			}
			prober := ping.NewProber(opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if count < 1 {
				count = 1
			}

			enc := json.NewEncoder(os.Stdout)
			outs := make([]ping.Outcome, 0, count)
			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(interval):
					}
				}
				if ctx.Err() != nil {
					break
				}

				out := prober.Run(ctx, target)
				outs = append(outs, out)

				switch {
				case report:
					enc.Encode(out.Report())
				case asJSON:
					enc.Encode(out.Result())
				}
			}

			summary := cli.Summarize(target, outs)
			if !asJSON && !report {
				cli.RenderOutcomes(os.Stdout, outs)
				if len(outs) > 1 {
					cli.RenderSummary(os.Stdout, summary)
				}
			}

			if summary.Online == 0 {
				return fmt.Errorf("%s: %w", target, errOffline)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", ping.DefaultConnectTimeout, "TCP connect timeout")
	cmd.Flags().DurationVarP(&overallTimeout, "timeout", "t", ping.DefaultOverallTimeout, "overall probe timeout, connect included")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of probes")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "wait between probes")
	cmd.Flags().Int32Var(&protocolVer, "protocol", 0, "protocol version sent in the handshake")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print {online, latency} JSON per probe")
	cmd.Flags().BoolVar(&report, "report", false, "print the full diagnostic JSON per probe")

	return cmd
}

// pingTarget resolves the target from arguments, falling back to the
// configured one. A single "host:port" argument is accepted too.
func pingTarget(cfg *config.Config, args []string) (ping.Target, error) {
	target := cfg.PrimaryTarget()

	switch len(args) {
	case 1:
		return ping.ParseTarget(args[0], target.Port)
	case 2:
		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return ping.Target{}, fmt.Errorf("invalid port %q", args[1])
		}
		target = ping.Target{Address: args[0], Port: uint16(port)}
	}

	return target, target.Validate()
}

