package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/mtfengine/internal/config"
	"github.com/sawpanic/mtfengine/internal/venue"
)

// selftestFixture builds a small deterministic candle/ticker/funding
// set with no network access, enough to warm the feature computer
// (feature.NewComputer's windows top out at 50 bars) and drive at
// least one full combine-through-emit cycle.
func selftestFixture() ([]venue.Candle, []venue.BookTicker, venue.FundingUpdate) {
	candles := make([]venue.Candle, 0, 120)
	price := 50000.0
	for i := 0; i < 120; i++ {
		price += 12.5
		candles = append(candles, venue.Candle{
			TsMs: int64(i+1) * 300_000, Open: price - 10, High: price + 8,
			Low: price - 15, Close: price, Volume: 25, Closed: true,
		})
	}
	tickers := []venue.BookTicker{{TsMs: 1, Bid: price - 1, Ask: price + 1}}
	funding := venue.FundingUpdate{TsMs: 1, FundingRate: 0.0001}
	return candles, tickers, funding
}

// runSelftest validates the full pipeline (accumulate -> rollup ->
// feature -> predict -> signal -> combine -> guard -> execute -> emit)
// against a bundled offline fixture, with no network calls, mirroring
// a smoke test an operator would run before trusting a fresh deploy.
func runSelftest(cmd *cobra.Command, args []string) error {
	tmpDir, err := os.MkdirTemp("", "mtfengine-selftest-*")
	if err != nil {
		return fmt.Errorf("selftest: create scratch emitter dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := &config.EngineConfig{
		Symbol: "BTCUSDT",
		Venue:  "offline",
		Timeframes: []config.TimeframeConfig{
			{Name: "5m", BarMinutes: 5},
			{Name: "15m", BarMinutes: 15},
			{Name: "1h", BarMinutes: 60},
		},
		Risk:    config.RiskConfig{PosMax: 1, SigmaTarget: 0.01, BarMinutes: 5, BaseNotional: 10_000},
		Emitter: config.EmitterPathConfig{BaseDir: tmpDir},
	}

	candles, tickers, funding := selftestFixture()
	v := venue.NewOfflineVenue("selftest", candles, tickers, nil,
		venue.Filters{StepSize: 0.001, TickSize: 0.01, MinQty: 0.001, MinNotional: 10}, funding)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	built, err := buildEngineFromVenue(ctx, cfg, v)
	if err != nil {
		return fmt.Errorf("selftest: build failed: %w", err)
	}
	defer built.emit.Close()
	defer built.dbmgr.Close()

	if err := built.driver.Run(ctx); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		return fmt.Errorf("selftest: pipeline failed: %w", err)
	}

	snap := built.driver.Health().Snapshot()
	fmt.Printf("selftest PASSED: bars_tracked=%d sharpe=%.4f max_drawdown=%.4f hit_rate=%.4f\n",
		snap.BarsTracked, snap.Sharpe, snap.MaxDrawdown, snap.HitRate)
	log.Info().Int("bars_tracked", snap.BarsTracked).Msg("selftest: pipeline completed with no network access")
	return nil
}
