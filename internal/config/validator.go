package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/energizer-project/craftkeeper/internal/ping"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	pingData := cfg.GetPingData()
	appData := cfg.GetApplicationData()

	validatePingData(&pingData, result)
	validateApplicationData(&appData, result)

	return result
}

func validatePingData(data *PingData, result *ValidationResult) {
	if strings.TrimSpace(data.Address) == "" {
		result.AddError("ping_data.ping_address", "ping address is required")
	}
	validatePort(data.Port, "ping_data.ping_port", result)

	if data.ConnectTimeoutMs <= 0 {
		result.AddError("ping_data.connect_timeout_ms", "connect timeout must be positive")
	}
	if data.OverallTimeoutMs <= 0 {
		result.AddError("ping_data.overall_timeout_ms", "overall timeout must be positive")
	}
	if data.ConnectTimeoutMs > 0 && data.OverallTimeoutMs > 0 && data.ConnectTimeoutMs > data.OverallTimeoutMs {
		result.AddWarning("ping_data.connect_timeout_ms",
			"connect timeout exceeds overall timeout, the overall timeout will cut the connect short")
	}
	if data.OverallTimeoutMs > int((time.Minute).Milliseconds()) {
		result.AddWarning("ping_data.overall_timeout_ms", "overall timeout longer than a minute")
	}

	if data.ProtocolVersion <= 0 || data.ProtocolVersion > math.MaxInt32 {
		result.AddError("ping_data.protocol_version", fmt.Sprintf("invalid protocol version: %d (must be 1-%d)", data.ProtocolVersion, math.MaxInt32))
	}

	for i, raw := range data.ExtraTargets {
		if _, err := ping.ParseTarget(raw, DefaultPingPort); err != nil {
			result.AddError(fmt.Sprintf("ping_data.extra_targets[%d]", i), err.Error())
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// Monitor
	if data.Monitor.Enabled {
		if data.Monitor.IntervalSec < 1 {
			result.AddError("application_data.monitor.interval_sec", "interval must be at least 1 second")
		} else if data.Monitor.IntervalSec < 5 {
			result.AddWarning("application_data.monitor.interval_sec",
				"interval less than 5s may flood the target with connections")
		}
		if data.Monitor.HistorySize < 1 {
			result.AddError("application_data.monitor.history_size", "history size must be at least 1")
		}
	}

	// History
	if data.History.Enabled {
		if strings.TrimSpace(data.History.DatabasePath) == "" {
			result.AddError("application_data.history.database_path", "database path is required when history is enabled")
		}
		if data.History.RetentionDays < 1 {
			result.AddError("application_data.history.retention_days", "retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", data.History.CleanupTime); err != nil {
			result.AddError("application_data.history.cleanup_time",
				fmt.Sprintf("invalid time %q (expected HH:MM)", data.History.CleanupTime))
		}
	}

	// API
	validatePort(data.API.Port, "application_data.api.port", result)
	if data.API.Host != "" && net.ParseIP(data.API.Host) == nil && data.API.Host != "localhost" {
		result.AddWarning("application_data.api.host", fmt.Sprintf("host %q is not an IP literal", data.API.Host))
	}
	if data.API.TLSEnabled {
		if strings.TrimSpace(data.API.TLSCertFile) == "" {
			result.AddError("application_data.api.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.API.TLSKeyFile) == "" {
			result.AddError("application_data.api.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}
	if data.API.RateLimitRPS < 1 {
		result.AddWarning("application_data.api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Health
	if data.Health.DiskCheckIntervalSec < 0 {
		result.AddError("application_data.health.disk_check_interval_sec", "interval cannot be negative")
	}
	if data.Health.HeartbeatIntervalSec < 0 {
		result.AddError("application_data.health.heartbeat_interval_sec", "interval cannot be negative")
	}

	// Discord
	if data.Discord.WebhookURL != "" {
		u, err := url.Parse(data.Discord.WebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			result.AddError("application_data.discord.webhook_url", "webhook URL must be an http(s) URL")
		}
	}
	if data.Discord.OwnerID != "" {
		if len(data.Discord.OwnerID) < 17 || len(data.Discord.OwnerID) > 20 {
			result.AddWarning("application_data.discord.owner_id",
				"Discord owner ID appears invalid (expected 17-20 digit snowflake)")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}

// IsPortAvailable checks if a TCP address can be bound.
func IsPortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
