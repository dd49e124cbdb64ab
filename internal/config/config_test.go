package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.GetHubData().ListenPort != DefaultListenPort {
		t.Errorf("listen port = %d, want %d", cfg.GetHubData().ListenPort, DefaultListenPort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("default config not persisted: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{"hub_data": {"hub_listen_port": 9999}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	hub := cfg.GetHubData()
	if hub.ListenPort != 9999 {
		t.Errorf("listen port = %d, want 9999", hub.ListenPort)
	}
	// Untouched fields keep their defaults.
	if hub.APIPort != DefaultAPIPort {
		t.Errorf("api port = %d, want default %d", hub.APIPort, DefaultAPIPort)
	}
	if cfg.GetApplicationData().Connection.ReconnectBaseMs != 5000 {
		t.Error("connection defaults lost in overlay")
	}
}

func TestValidateHubCatchesBadPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HubData.ListenPort = 70000

	result := ValidateHub(cfg)
	if result.IsValid() {
		t.Fatal("invalid port accepted")
	}
}

func TestValidateHubRejectsPortConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HubData.APIPort = cfg.HubData.ListenPort

	if ValidateHub(cfg).IsValid() {
		t.Fatal("duplicate ports accepted")
	}
}

func TestValidateAgentRequiresIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentData.ServerID = ""
	cfg.AgentData.Token = ""

	result := ValidateAgent(cfg)
	if result.IsValid() {
		t.Fatal("agent config without identity accepted")
	}
	if len(result.Errors) < 2 {
		t.Errorf("got %d errors, want server id and token flagged", len(result.Errors))
	}
}

func TestValidateAgentRejectsHTTPURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentData.ServerID = "gs-1"
	cfg.AgentData.Token = "secret"
	cfg.AgentData.HubURL = "http://hub.example.com/ws"

	if ValidateAgent(cfg).IsValid() {
		t.Fatal("non-websocket hub URL accepted")
	}
}

func TestValidateConnectionSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplicationData.Connection.ReconnectMultiplier = 0.5

	if ValidateHub(cfg).IsValid() {
		t.Fatal("sub-1.0 backoff multiplier accepted")
	}
}

func TestEngineConversion(t *testing.T) {
	settings := DefaultConfig().GetApplicationData().Connection
	engine := settings.Engine()

	if engine.Reconnect.BaseInterval.Milliseconds() != 5000 {
		t.Errorf("base interval = %v, want 5s", engine.Reconnect.BaseInterval)
	}
	if engine.Heartbeat.MaxMissedBeats != 2 {
		t.Errorf("max missed = %d, want 2", engine.Heartbeat.MaxMissedBeats)
	}
	if engine.RequestTimeout.Milliseconds() != 30000 {
		t.Errorf("request timeout = %v, want 30s", engine.RequestTimeout)
	}
}

func TestUpdateAppField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateAppField("timers", map[string]any{"stats_interval_sec": 15}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := cfg.GetApplicationData().Timers.StatsInterval; got != 15 {
		t.Errorf("stats interval = %d, want 15", got)
	}
}
