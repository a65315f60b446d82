// Package config handles configuration loading, validation, and persistence
// for craftkeeper.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/protocol"
	"github.com/energizer-project/craftkeeper/internal/util"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultPingAddress = "localhost"
	DefaultPingPort    = 25565
	DefaultAPIPort     = 5000
)

// Config is the root configuration structure for craftkeeper.
type Config struct {
	mu   sync.RWMutex
	path string

	PingData        PingData        `json:"ping_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// PingData holds the probe target and the probe bounds.
type PingData struct {
	Address          string   `json:"ping_address"`
	Port             int      `json:"ping_port"`
	ConnectTimeoutMs int      `json:"connect_timeout_ms"`
	OverallTimeoutMs int      `json:"overall_timeout_ms"`
	ProtocolVersion  int      `json:"protocol_version"`
	ExtraTargets     []string `json:"extra_targets"` // "host" or "host:port"
}

// ApplicationData contains service configuration.
type ApplicationData struct {
	Monitor MonitorConfig `json:"monitor"`
	History HistoryConfig `json:"history"`
	API     APIConfig     `json:"api"`
	Discord DiscordConfig `json:"discord"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Health  HealthConfig  `json:"health"`
	Logging LoggingConfig `json:"logging"`
}

// MonitorConfig holds periodic probing settings.
type MonitorConfig struct {
	Enabled        bool `json:"enabled"`
	IntervalSec    int  `json:"interval_sec"`
	HistorySize    int  `json:"history_size"`
	StaggerStart   bool `json:"stagger_start"`
	MetricsEnabled bool `json:"metrics_enabled"`
}

// HistoryConfig holds probe history persistence and retention settings.
type HistoryConfig struct {
	Enabled        bool   `json:"enabled"`
	DatabasePath   string `json:"database_path"`
	CleanupTime    string `json:"cleanup_time"`
	RetentionDays  int    `json:"retention_days"`
	SummaryEnabled bool   `json:"summary_enabled"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// DiscordConfig holds Discord webhook settings.
type DiscordConfig struct {
	WebhookURL      string `json:"webhook_url"`
	OwnerID         string `json:"owner_id"`
	NotifyOnOffline bool   `json:"notify_on_offline"`
	NotifyOnOnline  bool   `json:"notify_on_online"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// HealthConfig holds the host self-check intervals. A zero interval
// disables that check.
type HealthConfig struct {
	DiskCheckIntervalSec int    `json:"disk_check_interval_sec"`
	DiskPath             string `json:"disk_path"` // empty: directory of the history database
	NotifyOnDisk         bool   `json:"notify_on_disk"`
	HeartbeatIntervalSec int    `json:"heartbeat_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PingData: PingData{
			Address:          DefaultPingAddress,
			Port:             DefaultPingPort,
			ConnectTimeoutMs: int(ping.DefaultConnectTimeout / time.Millisecond),
			OverallTimeoutMs: int(ping.DefaultOverallTimeout / time.Millisecond),
			ProtocolVersion:  int(protocol.ProtocolVersion),
			ExtraTargets:     []string{},
		},
		ApplicationData: ApplicationData{
			Monitor: MonitorConfig{
				Enabled:        true,
				IntervalSec:    45,
				HistorySize:    120,
				StaggerStart:   true,
				MetricsEnabled: true,
			},
			History: HistoryConfig{
				Enabled:        true,
				DatabasePath:   filepath.Join("data", "craftkeeper.db"),
				CleanupTime:    "04:00",
				RetentionDays:  30,
				SummaryEnabled: true,
			},
			API: APIConfig{
				Host:           "127.0.0.1",
				Port:           DefaultAPIPort,
				AllowedOrigins: []string{},
				RateLimitRPS:   100,
			},
			Discord: DiscordConfig{
				NotifyOnOffline: true,
				NotifyOnOnline:  true,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        1883,
				ClientID:    "craftkeeper",
				TopicPrefix: "craftkeeper",
			},
			Health: HealthConfig{
				DiskCheckIntervalSec: 600,
				NotifyOnDisk:         true,
				HeartbeatIntervalSec: 60,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 7,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file picks up fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPingData returns a copy of the ping configuration.
func (c *Config) GetPingData() PingData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data := c.PingData
	data.ExtraTargets = append([]string(nil), c.PingData.ExtraTargets...)
	return data
}

// SetPingData updates the ping configuration.
func (c *Config) SetPingData(data PingData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PingData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdatePingField updates a single ping_data field by its JSON key.
func (c *Config) UpdatePingField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.PingData)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown ping_data field %q", key)
	}
	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	var next PingData
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.PingData = next

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// portOf narrows a configured port. Values outside 1..65535 become 0,
// which ping.Target.Validate rejects.
func portOf(port int) uint16 {
	if port < 1 || port > math.MaxUint16 {
		return 0
	}
	return uint16(port)
}

// PrimaryTarget returns the configured ping_address/ping_port snapshot.
// An out-of-range port yields Port 0 so the target fails validation.
func (c *Config) PrimaryTarget() ping.Target {
	data := c.GetPingData()
	return ping.Target{Address: data.Address, Port: portOf(data.Port)}
}

// Targets returns the primary target followed by the parsed extra targets,
// without duplicates.
func (c *Config) Targets() ([]ping.Target, error) {
	data := c.GetPingData()

	primary := ping.Target{Address: data.Address, Port: portOf(data.Port)}
	if primary.Port == 0 {
		return nil, fmt.Errorf("invalid ping_port %d (must be 1-65535)", data.Port)
	}
	if err := primary.Validate(); err != nil {
		return nil, fmt.Errorf("invalid primary target: %w", err)
	}
	targets := []ping.Target{primary}
	seen := map[string]bool{primary.String(): true}

	for _, raw := range data.ExtraTargets {
		t, err := ping.ParseTarget(raw, DefaultPingPort)
		if err != nil {
			return nil, fmt.Errorf("invalid extra target %q: %w", raw, err)
		}
		if seen[t.String()] {
			continue
		}
		seen[t.String()] = true
		targets = append(targets, t)
	}

	return targets, nil
}

// ProberOptions returns the probe bounds and protocol version as options.
// A protocol version outside 1..MaxInt32 is left at the prober default.
func (c *Config) ProberOptions() []ping.Option {
	data := c.GetPingData()
	opts := []ping.Option{
		ping.WithConnectTimeout(time.Duration(data.ConnectTimeoutMs) * time.Millisecond),
		ping.WithOverallTimeout(time.Duration(data.OverallTimeoutMs) * time.Millisecond),
	}
	if data.ProtocolVersion > 0 && data.ProtocolVersion <= math.MaxInt32 {
		opts = append(opts, ping.WithProtocolVersion(int32(data.ProtocolVersion)))
	}
	return opts
}

// DiskPath is the path whose filesystem the disk check watches: the
// configured health path, else the history database directory.
func (c *Config) DiskPath() string {
	app := c.GetApplicationData()
	if app.Health.DiskPath != "" {
		return app.Health.DiskPath
	}
	return filepath.Dir(app.History.DatabasePath)
}

// LogConfig converts the logging section for util.InitLogger.
func (c *Config) LogConfig() util.LogConfig {
	l := c.GetApplicationData().Logging
	return util.LogConfig{
		Level:      l.Level,
		Directory:  l.Directory,
		MaxBackups: l.MaxBackups,
		Console:    l.Console,
	}
}
