// Package events defines the event types exchanged between craftkeeper
// components over the EventBus.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Probe events
	EventProbeCompleted      EventType = "probe_completed"
	EventTargetStatusChanged EventType = "target_status_changed"

	// Notification events
	EventNotifyDiscordAdmin EventType = "notify_discord_admin"
	EventNotifyMQTT         EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// TargetStatus is the monitor's view of a target.
type TargetStatus int

const (
	TargetStatusUnknown TargetStatus = iota
	TargetStatusOnline
	TargetStatusOffline
)

var targetStatusStrings = map[TargetStatus]string{
	TargetStatusUnknown: "unknown",
	TargetStatusOnline:  "online",
	TargetStatusOffline: "offline",
}

// String returns the string representation of TargetStatus.
func (s TargetStatus) String() string {
	if str, ok := targetStatusStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes TargetStatus as a JSON string (e.g. "online").
func (s TargetStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the string form. Unrecognized names map to unknown.
func (s *TargetStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = TargetStatusUnknown
	for status, str := range targetStatusStrings {
		if str == name {
			*s = status
		}
	}
	return nil
}

// StatusOf maps a probe's online flag to a TargetStatus.
func StatusOf(online bool) TargetStatus {
	if online {
		return TargetStatusOnline
	}
	return TargetStatusOffline
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ProbeCompletedPayload is emitted after every scheduled or on-demand probe.
type ProbeCompletedPayload struct {
	Target      string
	Online      bool
	LatencyMs   uint64
	State       string // terminal or failing state name
	ErrorKind   string // empty when online
	Error       string
	StatusBytes int
	At          time.Time
}

// TargetStatusChangedPayload is emitted when a target flips between online
// and offline. The first probe of a target moves it out of unknown.
type TargetStatusChangedPayload struct {
	Target    string
	Previous  TargetStatus
	Current   TargetStatus
	LatencyMs uint64
	ErrorKind string
	At        time.Time
}

// NotifyDiscordPayload is used for sending Discord notifications.
type NotifyDiscordPayload struct {
	Title   string
	Message string
	Level   string // "info", "warning", "error"
}

// NotifyMQTTPayload asks the telemetry client to publish on a sub-topic.
type NotifyMQTTPayload struct {
	Topic string
	Data  interface{}
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
