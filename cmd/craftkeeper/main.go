// craftkeeper probes Minecraft servers with the server list ping exchange
// and reports whether they are up and how fast they answer. It runs as a
// one-shot command or as a service that monitors targets, keeps history,
// and publishes results over REST, MQTT and Discord.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
   ___            __ _   _
  / __|_ _ __ _ / _| |_| |_____ ___ _ __  ___ _ _
 | (__| '_/ _' |  _|  _| / / -_) -_) '_ \/ -_) '_|
  \___|_| \__,_|_|  \__|_\_\___\___| .__/\___|_|
                                   |_|  %s
`

var configDir string

func main() {
	rootCmd := &cobra.Command{
		Use:   "craftkeeper",
		Short: "Minecraft server reachability and latency monitor",
		Long: `craftkeeper answers one question about a Minecraft server: is it up,
and how long does it take to answer a ping?

Use "craftkeeper ping" for a one-off check or "craftkeeper serve" to
monitor targets continuously with history, REST API, MQTT telemetry and
Discord notifications.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", config.DefaultConfigDir, "configuration directory")

	rootCmd.AddCommand(
		pingCmd(),
		serveCmd(),
		historyCmd(),
		uptimeCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf(banner, version)
}

// loadConfigIfPresent returns the stored configuration, or the defaults
// when no file exists. One-shot commands must not create files. A stored
// configuration that fails validation is an error.
func loadConfigIfPresent() (*config.Config, error) {
	if !util.FileExists(filepath.Join(configDir, config.DefaultConfigFile)) {
		return config.DefaultConfig(), nil
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	validation := config.Validate(cfg)
	if !validation.IsValid() {
		msgs := make([]string, 0, len(validation.Errors))
		for _, e := range validation.Errors {
			msgs = append(msgs, e.Field+": "+e.Message)
		}
		return nil, fmt.Errorf("invalid configuration %s: %s", cfg.Path(), strings.Join(msgs, "; "))
	}
	return cfg, nil
}

// initQuietLogger sends warnings and errors to stderr only.
func initQuietLogger() {
	if err := util.InitLogger(util.LogConfig{Level: "warn", Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}
}
