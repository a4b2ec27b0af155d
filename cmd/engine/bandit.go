package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sawpanic/mtfengine/internal/config"
	"github.com/sawpanic/mtfengine/internal/infrastructure/db"
)

// runBanditDump prints the latest persisted bandit/BMA snapshot for a
// timeframe as JSON, for an operator inspecting arm selection without
// standing up the monitor HTTP server.
func runBanditDump(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	timeframe, _ := cmd.Flags().GetString("timeframe")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Persist.PostgresDSN == "" {
		return fmt.Errorf("bandit dump requires persistence.postgres_dsn to be set")
	}

	dbCfg := db.DefaultConfig()
	dbCfg.Enabled = true
	dbCfg.DSN = cfg.Persist.PostgresDSN
	mgr, err := db.NewManager(dbCfg)
	if err != nil {
		return fmt.Errorf("connect to persistence layer: %w", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()

	snap, err := mgr.Repository().Bandit.Latest(ctx, timeframe)
	if err != nil {
		return fmt.Errorf("load latest bandit snapshot for %s: %w", timeframe, err)
	}
	if snap == nil {
		fmt.Printf("no bandit snapshot persisted yet for timeframe %q\n", timeframe)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
