// GameLink agent.
//
// The agent runs alongside a game server instance. It dials the hub,
// authenticates with its provisioned token, and serves operator
// requests (status, player roster, console commands) over the link,
// reconnecting with exponential backoff whenever the hub goes away.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/agent"
	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/util"
)

const AppVersion = "1.0.0"

func main() {
	if err := util.InitLogger("gamelink-agent", util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Msg("starting GameLink agent")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger("gamelink-agent", logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.ValidateAgent(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := agent.New(cfg)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("agent terminated")
	}

	log.Info().Msg("GameLink agent stopped")
}
