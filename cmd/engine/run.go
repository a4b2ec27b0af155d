package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/mtfengine/internal/config"
	httpiface "github.com/sawpanic/mtfengine/internal/interfaces/http"
)

// runEngine loads the configured venue and runs the full pipeline until
// an interrupt signal arrives or the venue's candle stream ends on its
// own. The --one-shot flag is recorded in the start-up log and does not
// change when the run ends; there is no single-iteration mode.
func runEngine(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	oneShot, _ := cmd.Flags().GetBool("one-shot")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer built.emit.Close()
	defer built.dbmgr.Close()

	var server *httpiface.Server
	if cfg.HTTP.ListenAddr != "" {
		server, err = startMonitorServer(ctx, cfg, built)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Str("symbol", cfg.Symbol).Str("venue", cfg.Venue).Bool("one_shot", oneShot).Msg("engine: starting driver")

	err = built.driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("engine: shutdown signal received")
		return nil
	}
	return err
}

// startMonitorServer builds and starts the read-only HTTP surface atop
// a live driver, used by both `run` (when http.listen_addr is set) and
// `monitor` (always).
func startMonitorServer(ctx context.Context, cfg *config.EngineConfig, built *builtEngine) (*httpiface.Server, error) {
	host, port := splitListenAddr(cfg.HTTP.ListenAddr)
	serverCfg := httpiface.ServerConfig{
		Host:         host,
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server, err := httpiface.NewServer(serverCfg, httpiface.Deps{
		Health:      built.driver.Health(),
		BanditState: built.driver.BanditSelector,
		Emit:        built.driver.Emitter(),
		Venue:       built.driver.Venue(),
		StartedAt:   time.Now(),
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	server.StartMetricsRefresh(ctx, 5*time.Second)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("engine: monitor server stopped")
		}
	}()
	log.Info().Str("addr", server.Address()).Msg("engine: monitor endpoints available at /health, /bandit, /kpi, /metrics")
	return server, nil
}
