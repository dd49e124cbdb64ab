package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
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

// ValidateHub validates the configuration for running the hub.
func ValidateHub(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateHubData(&cfg.HubData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

// ValidateAgent validates the configuration for running an agent.
func ValidateAgent(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateAgentData(&cfg.AgentData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateHubData(data *HubData, result *ValidationResult) {
	validatePort(data.ListenPort, "hub_data.hub_listen_port", result)
	validatePort(data.APIPort, "hub_data.hub_api_port", result)

	if data.ListenPort == data.APIPort {
		result.AddError("hub_data.ports", "listener and API ports must be unique")
	}

	if !strings.HasPrefix(data.WSPath, "/") {
		result.AddError("hub_data.hub_ws_path", "websocket path must start with /")
	}

	if strings.TrimSpace(data.AdminToken) == "" {
		result.AddWarning("hub_data.hub_admin_token",
			"no admin token configured, API requests will be rejected unless auth is disabled")
	}

	if strings.TrimSpace(data.DatabasePath) == "" {
		result.AddError("hub_data.hub_database_path", "database path is required")
	}
}

func validateAgentData(data *AgentData, result *ValidationResult) {
	if strings.TrimSpace(data.ServerID) == "" {
		result.AddError("agent_data.agent_server_id", "server id is required")
	}

	if strings.TrimSpace(data.Token) == "" {
		result.AddError("agent_data.agent_token", "authentication token is required")
	}

	u, err := url.Parse(data.HubURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		result.AddError("agent_data.agent_hub_url",
			fmt.Sprintf("invalid hub URL %q (expected ws:// or wss://)", data.HubURL))
	}

	if data.StatusInterval < 0 {
		result.AddError("agent_data.agent_status_interval_sec", "status interval cannot be negative")
	} else if data.StatusInterval > 0 && data.StatusInterval < 5 {
		result.AddWarning("agent_data.agent_status_interval_sec",
			"status interval under 5s generates excessive traffic")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateConnectionSettings(&data.Connection, result)

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateConnectionSettings(conn *ConnectionSettings, result *ValidationResult) {
	if conn.ReconnectBaseMs < 100 {
		result.AddError("connection.reconnect_base_ms", "reconnect base interval must be at least 100ms")
	}
	if conn.ReconnectMultiplier < 1.0 {
		result.AddError("connection.reconnect_multiplier", "backoff multiplier must be >= 1.0")
	}
	if conn.ReconnectMaxMs < conn.ReconnectBaseMs {
		result.AddError("connection.reconnect_max_ms", "backoff cap must be >= base interval")
	}
	if conn.ReconnectMaxAttempts < 1 {
		result.AddError("connection.reconnect_max_attempts", "must allow at least 1 reconnect attempt")
	}

	if conn.HeartbeatIntervalMs < 1000 {
		result.AddError("connection.heartbeat_interval_ms", "heartbeat interval must be at least 1000ms")
	}
	if conn.HeartbeatMinMs > conn.HeartbeatIntervalMs || conn.HeartbeatMaxMs < conn.HeartbeatIntervalMs {
		result.AddError("connection.heartbeat_interval_ms",
			"heartbeat interval must lie within [min, max]")
	}
	if conn.MaxMissedBeats < 1 {
		result.AddError("connection.max_missed_beats", "must tolerate at least 1 missed beat")
	}

	if conn.RequestTimeoutMs < 1000 {
		result.AddWarning("connection.request_timeout_ms",
			"request timeout under 1s will fail slow operations")
	}
	if conn.SendQueueLimit < 0 {
		result.AddError("connection.send_queue_limit", "queue limit cannot be negative")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
