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
)

// runMonitorStandalone runs the trading driver with the HTTP monitor
// surface as the primary entry point, for an operator-attended
// deployment where the dashboard matters as much as the trading loop.
// It builds the same engine as `run`; --port/--host here override
// whatever http.listen_addr the config file sets.
func runMonitorStandalone(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetString("port")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.HTTP.ListenAddr = host + ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer built.emit.Close()
	defer built.dbmgr.Close()

	server, err := startMonitorServer(ctx, cfg, built)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("symbol", cfg.Symbol).Str("addr", server.Address()).Msg("engine: monitor running with live driver")

	err = built.driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("engine: shutdown signal received")
		return nil
	}
	return err
}
