package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/util"
)

// RunSetupWizard guides the operator through first-time hub
// configuration.
func RunSetupWizard(cfg *Config) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║         GameLink - First Run Setup           ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Println("║  Welcome! Let's configure your hub.          ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("── Listeners ──")

	cfg.HubData.ListenHost = promptString(reader, "Agent listener host", cfg.HubData.ListenHost)
	cfg.HubData.ListenPort = promptInt(reader, "Agent listener port (WebSocket)", cfg.HubData.ListenPort)
	cfg.HubData.WSPath = promptString(reader, "WebSocket path", cfg.HubData.WSPath)
	cfg.HubData.APIPort = promptInt(reader, "REST API port", cfg.HubData.APIPort)

	fmt.Println()
	fmt.Println("── Admin Access ──")

	cfg.HubData.AdminToken = promptString(reader,
		"Admin API token (leave blank to generate)", cfg.HubData.AdminToken)
	if cfg.HubData.AdminToken == "" {
		token, err := util.GenerateToken(32)
		if err != nil {
			return fmt.Errorf("failed to generate admin token: %w", err)
		}
		cfg.HubData.AdminToken = token
		fmt.Printf("  Generated admin token (keep it safe):\n    %s\n", token)
	}

	fmt.Println()
	fmt.Println("── Storage ──")

	cfg.HubData.DatabasePath = promptString(reader, "Database path", cfg.HubData.DatabasePath)

	fmt.Println()
	fmt.Println("── MQTT Telemetry ──")

	cfg.ApplicationData.MQTT.Enabled = promptBool(reader, "Enable MQTT telemetry", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = promptString(reader, "MQTT broker host", cfg.ApplicationData.MQTT.BrokerURL)
		cfg.ApplicationData.MQTT.Port = promptInt(reader, "MQTT broker port", cfg.ApplicationData.MQTT.Port)
		cfg.ApplicationData.MQTT.UseTLS = promptBool(reader, "Use TLS for MQTT", cfg.ApplicationData.MQTT.UseTLS)
	}

	// Validate before saving
	result := ValidateHub(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved successfully!")
	fmt.Println("  GameLink will now start with your configuration.")
	fmt.Println()

	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
