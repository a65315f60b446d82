package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/craftkeeper/internal/cli"
	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/db"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// openHistory opens the configured history database read-side. It refuses
// to create a database that does not exist yet.
func openHistory(dbPath string) (*db.HistoryDatabase, error) {
	if dbPath == "" {
		cfg, err := loadConfigIfPresent()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.GetApplicationData().History.DatabasePath
	}
	if !util.FileExists(dbPath) {
		return nil, fmt.Errorf("no history database at %s, run 'craftkeeper serve' with history enabled first", dbPath)
	}
	return db.NewHistoryDatabase(dbPath)
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "history [target]",
		Short: "Show stored probe results, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initQuietLogger()

			hdb, err := openHistory(dbPath)
			if err != nil {
				return err
			}
			defer hdb.Close()

			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			records, err := hdb.RecentProbes(target, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no probes recorded")
				return nil
			}

			cli.RenderRecords(os.Stdout, records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of probes to show")
	cmd.Flags().StringVar(&dbPath, "db", "", "history database path (default from configuration)")

	return cmd
}

func uptimeCmd() *cobra.Command {
	var (
		window time.Duration
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "uptime [target]",
		Short: "Summarize availability and latency from stored probes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initQuietLogger()

			if window <= 0 {
				return fmt.Errorf("--window must be positive")
			}

			hdb, err := openHistory(dbPath)
			if err != nil {
				return err
			}
			defer hdb.Close()

			targets := args
			if len(targets) == 0 {
				if targets, err = hdb.Targets(); err != nil {
					return err
				}
			}

			since := time.Now().Add(-window)
			stats := make([]db.UptimeStats, 0, len(targets))
			for _, t := range targets {
				s, err := hdb.Uptime(t, since)
				if err != nil {
					return err
				}
				stats = append(stats, s)
			}

			cli.RenderUptime(os.Stdout, stats)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&window, "window", "w", 24*time.Hour, "how far back to look")
	cmd.Flags().StringVar(&dbPath, "db", "", "history database path (default from configuration)")

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or update the configuration interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			initQuietLogger()

			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}

			fmt.Printf("\nconfiguration saved to %s\n", cfg.Path())
			return nil
		},
	}
}
