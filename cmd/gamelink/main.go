// GameLink hub.
//
// The hub accepts WebSocket connections from game server agents,
// authenticates them against provisioned tokens, supervises each link
// with heartbeats and reconnect tracking, and exposes a REST API and an
// interactive CLI for operators. Telemetry is published via MQTT when
// enabled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/api"
	"github.com/gamelink-project/gamelink/internal/cli"
	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/db"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/health"
	"github.com/gamelink-project/gamelink/internal/hub"
	"github.com/gamelink-project/gamelink/internal/network"
	"github.com/gamelink-project/gamelink/internal/telemetry"
	"github.com/gamelink-project/gamelink/internal/util"
)

const (
	AppName    = "GameLink"
	AppVersion = "1.0.0"
	Banner     = `
   ____                     _     _       _
  / ___| __ _ _ __ ___   __| |   (_)_ __ | | __
 | |  _ / _' | '_ ' _ \ / _' |   | | '_ \| |/ /
 | |_| | (_| | | | | | |  __/    | | | | |   <
  \____|\__,_|_| |_| |_|\___|____|_|_| |_|_|\_\
                           |_____|  hub v%s
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger("gamelink", util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting GameLink hub")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger("gamelink", logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.ValidateHub(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if cfg.IsFirstRun() {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	eventBus := events.NewEventBus()

	database, err := db.NewDatabase(cfg.GetHubData().DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	store, err := db.NewTokenStore(database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token store")
	}

	registry := network.NewConnectionRegistry()
	listener := hub.NewListener(cfg, registry, store, store, eventBus)
	manager := hub.NewManager(registry)
	apiServer := api.NewServer(cfg, eventBus, manager, store)
	healthMgr := health.NewManager(cfg, eventBus, registry, store)
	cliHandler := cli.NewCLI(cfg, eventBus, manager, store)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApplicationData().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: WebSocket listener for agent connections
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetHubData().ListenPort).Msg("starting agent listener")
		if err := startWithRetry(ctx, "agent listener", listener.Start, 15); err != nil {
			log.Error().Err(err).Msg("agent listener failed after retries")
			errCh <- fmt.Errorf("agent listener: %w", err)
		}
	}()

	// Task 2: REST API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetHubData().APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	// Task 3: maintenance loops
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 4: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 5: interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		cliHandler.Start(ctx)
	}()

	// CLI 'quit' emits a shutdown event; treat it like a signal.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Notify connected agents before the sockets go away.
	registry.CloseAll("hub shutting down")

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	log.Info().Msg("GameLink hub stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. A fixed 3-second interval gives the OS time to release
// sockets after a previous instance was force-killed.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
