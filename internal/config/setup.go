package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks the user through the settings that matter on first
// run and saves the result. Prompts go to out, answers are read from in.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	p := prompter{r: reader, w: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          craftkeeper - First Run Setup       ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	pingData := cfg.GetPingData()
	appData := cfg.GetApplicationData()

	fmt.Fprintln(out, "── Server To Watch ──")

	pingData.Address = p.String("Server address", pingData.Address)
	pingData.Port = p.Int("Server port", pingData.Port)
	extra := p.String("Extra servers (comma separated host[:port], blank for none)", strings.Join(pingData.ExtraTargets, ","))
	pingData.ExtraTargets = splitList(extra)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Probing ──")

	pingData.ConnectTimeoutMs = p.Int("Connect timeout (ms)", pingData.ConnectTimeoutMs)
	pingData.OverallTimeoutMs = p.Int("Overall timeout (ms)", pingData.OverallTimeoutMs)
	appData.Monitor.IntervalSec = p.Int("Probe interval (seconds)", appData.Monitor.IntervalSec)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── REST API ──")

	appData.API.Port = p.Int("REST API port", appData.API.Port)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Notifications ──")

	appData.Discord.WebhookURL = p.String("Discord webhook URL (blank to disable)", appData.Discord.WebhookURL)
	appData.MQTT.Enabled = p.Bool("Enable MQTT telemetry", appData.MQTT.Enabled)
	if appData.MQTT.Enabled {
		appData.MQTT.BrokerURL = p.String("MQTT broker host", appData.MQTT.BrokerURL)
		appData.MQTT.Port = p.Int("MQTT broker port", appData.MQTT.Port)
	}

	cfg.SetPingData(pingData)
	cfg.SetApplicationData(appData)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed with %d error(s)", len(result.Errors))
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	fmt.Fprintln(out)

	return nil
}

type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p prompter) String(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.w, "  %s: ", prompt)
	}

	input, _ := p.r.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func (p prompter) Int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.w, "  %s [%d]: ", prompt, defaultVal)

	input, _ := p.r.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.w, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p prompter) Bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultStr)

	input, _ := p.r.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
