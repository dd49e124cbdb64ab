// Package events defines the event types and payloads flowing through
// the GameLink event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle events
	EventConnectionEstablished   EventType = "connection_established"
	EventConnectionAuthenticated EventType = "connection_authenticated"
	EventConnectionLost          EventType = "connection_lost"
	EventConnectionRemoved       EventType = "connection_removed"
	EventAuthenticationFailed    EventType = "authentication_failed"

	// Liveness events
	EventHeartbeatTimeout EventType = "heartbeat_timeout"
	EventHeartbeatFailure EventType = "heartbeat_failure"

	// Reconnection events
	EventReconnectScheduled EventType = "reconnect_scheduled"
	EventReconnectDisabled  EventType = "reconnect_disabled"

	// Remote events forwarded from agents
	EventRemoteEvent EventType = "remote_event"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload accompanies connection lifecycle events.
type ConnectionPayload struct {
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName,omitempty"`
	ServerType string `json:"serverType,omitempty"`
	Mode       string `json:"mode,omitempty"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// HeartbeatPayload accompanies heartbeat timeout and failure events.
type HeartbeatPayload struct {
	ServerID    string        `json:"serverId"`
	MissedBeats int           `json:"missedBeats"`
	AverageRTT  time.Duration `json:"averageRtt"`
}

// ReconnectPayload accompanies reconnection events.
type ReconnectPayload struct {
	ServerID        string `json:"serverId"`
	CurrentAttempts int    `json:"currentAttempts"`
	TotalAttempts   int64  `json:"totalAttempts"`
}

// RemoteEventPayload carries an event frame received from an agent.
type RemoteEventPayload struct {
	ServerID  string         `json:"serverId"`
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data,omitempty"`
}

// NotifyMQTTPayload asks the telemetry publisher to forward a payload.
type NotifyMQTTPayload struct {
	Topic   string
	Payload interface{}
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
