// Package config handles configuration loading, validation, and
// persistence for the GameLink hub and agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultListenPort  = 7788
	DefaultAPIPort     = 5000
	DefaultWSPath      = "/ws"
	DefaultDatabase    = "gamelink.db"
)

// Config is the root configuration structure shared by the hub and
// agent binaries; each reads the sections relevant to its role.
type Config struct {
	mu       sync.RWMutex
	path     string
	firstRun bool

	HubData         HubData         `json:"hub_data"`
	AgentData       AgentData       `json:"agent_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// HubData contains hub-side configuration.
type HubData struct {
	// Listeners
	ListenHost string `json:"hub_listen_host"`
	ListenPort int    `json:"hub_listen_port"`
	WSPath     string `json:"hub_ws_path"`
	APIPort    int    `json:"hub_api_port"`

	// Admin API access
	AdminToken string `json:"hub_admin_token"`

	// Storage
	DatabasePath string `json:"hub_database_path"`
}

// AgentData contains agent-side configuration: the identity the agent
// presents at handshake and where to find the hub.
type AgentData struct {
	HubURL       string   `json:"agent_hub_url"`
	ServerID     string   `json:"agent_server_id"`
	ServerName   string   `json:"agent_server_name"`
	ServerType   string   `json:"agent_server_type"`
	Token        string   `json:"agent_token"`
	Mode         string   `json:"agent_mode"`
	Capabilities []string `json:"agent_capabilities"`

	// Interval between unsolicited server.status events, in seconds.
	// Zero disables periodic status reporting.
	StatusInterval int `json:"agent_status_interval_sec"`
}

// ApplicationData contains settings shared by both roles.
type ApplicationData struct {
	Connection ConnectionSettings `json:"connection"`
	Timers     TimerConfig        `json:"timers"`
	MQTT       MQTTConfig         `json:"mqtt"`
	Security   SecurityConfig     `json:"security"`
	Logging    LoggingConfig      `json:"logging"`
}

// ConnectionSettings tunes the per-connection engine. Durations are
// milliseconds on disk, matching the wire protocol's time unit.
type ConnectionSettings struct {
	ReconnectBaseMs      int     `json:"reconnect_base_ms"`
	ReconnectMultiplier  float64 `json:"reconnect_multiplier"`
	ReconnectMaxMs       int     `json:"reconnect_max_ms"`
	ReconnectMaxAttempts int     `json:"reconnect_max_attempts"`
	ReconnectAutoDisable bool    `json:"reconnect_auto_disable"`

	HeartbeatIntervalMs int  `json:"heartbeat_interval_ms"`
	HeartbeatMinMs      int  `json:"heartbeat_min_ms"`
	HeartbeatMaxMs      int  `json:"heartbeat_max_ms"`
	MaxMissedBeats      int  `json:"max_missed_beats"`
	AdaptiveHeartbeat   bool `json:"adaptive_heartbeat"`

	RequestTimeoutMs int `json:"request_timeout_ms"`
	SendQueueLimit   int `json:"send_queue_limit"`
}

// TimerConfig holds background task interval settings.
type TimerConfig struct {
	StaleSweepInterval    int `json:"stale_sweep_interval_sec"`
	DiskCheckInterval     int `json:"disk_check_interval_sec"`
	StatsInterval         int `json:"stats_interval_sec"`
	AuditRetentionDays    int `json:"audit_retention_days"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	TopicRoot string `json:"topic_root"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HubData: HubData{
			ListenHost:   "0.0.0.0",
			ListenPort:   DefaultListenPort,
			WSPath:       DefaultWSPath,
			APIPort:      DefaultAPIPort,
			DatabasePath: DefaultDatabase,
		},
		AgentData: AgentData{
			HubURL:         "ws://127.0.0.1:7788/ws",
			ServerType:     "game",
			Mode:           "direct",
			Capabilities:   []string{"server.status"},
			StatusInterval: 60,
		},
		ApplicationData: ApplicationData{
			Connection: ConnectionSettings{
				ReconnectBaseMs:      5000,
				ReconnectMultiplier:  1.5,
				ReconnectMaxMs:       60000,
				ReconnectMaxAttempts: 10,
				ReconnectAutoDisable: true,
				HeartbeatIntervalMs:  30000,
				HeartbeatMinMs:       10000,
				HeartbeatMaxMs:       60000,
				MaxMissedBeats:       2,
				AdaptiveHeartbeat:    false,
				RequestTimeoutMs:     30000,
				SendQueueLimit:       1000,
			},
			Timers: TimerConfig{
				StaleSweepInterval: 300,
				DiskCheckInterval:  3600,
				StatsInterval:      60,
				AuditRetentionDays: 30,
			},
			MQTT: MQTTConfig{
				Enabled:   false,
				Port:      8883,
				UseTLS:    true,
				TopicRoot: "gamelink",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
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
			cfg.firstRun = true
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

	// Re-save config to persist any new default fields added in code
	// updates, so config.json always reflects the complete option set.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// GetHubData returns a copy of the hub configuration.
func (c *Config) GetHubData() HubData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HubData
}

// GetAgentData returns a copy of the agent configuration.
func (c *Config) GetAgentData() AgentData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AgentData
}

// GetApplicationData returns a copy of the shared application settings.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the shared application settings.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateAppField updates a specific field in application data by its
// JSON key, used by the API's config endpoint.
func (c *Config) UpdateAppField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.ApplicationData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.ApplicationData); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether Load had to create a default config file.
func (c *Config) IsFirstRun() bool {
	return c.firstRun
}
