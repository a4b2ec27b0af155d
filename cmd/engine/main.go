package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "mtfengine"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "engine",
		Short:   "Multi-timeframe crypto trading engine",
		Version: version,
		Long: `engine drives a multi-timeframe cohort-aware trading pipeline:
accumulate -> rollup -> feature -> predict -> signal -> combine ->
guard -> size/execute -> health/emit.

Run 'engine run --config engine.yaml' for a live or offline pass,
'engine monitor' for the read-only HTTP status endpoints, and
'engine selftest' to validate the pipeline end to end with no network.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine against a configured venue",
		RunE:  runEngine,
	}
	runCmd.Flags().String("config", "engine.yaml", "Path to the engine YAML config")
	runCmd.Flags().Bool("one-shot", false, "Recorded in the start-up log only; in either mode the run ends on interrupt or when the venue's candle stream ends")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the read-only monitoring HTTP server",
		RunE:  runMonitorStandalone,
	}
	monitorCmd.Flags().String("config", "engine.yaml", "Path to the engine YAML config")
	monitorCmd.Flags().String("port", "8080", "HTTP listen port")
	monitorCmd.Flags().String("host", "127.0.0.1", "HTTP listen host")

	selftestCmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the full pipeline once against a bundled offline fixture",
		Long:  "Validates accumulate->rollup->feature->predict->signal->combine->guard->execute->emit with no network access.",
		RunE:  runSelftest,
	}

	banditCmd := &cobra.Command{
		Use:   "bandit",
		Short: "Bandit arm state inspection",
	}
	banditDumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the latest persisted bandit snapshot as JSON",
		RunE:  runBanditDump,
	}
	banditDumpCmd.Flags().String("config", "engine.yaml", "Path to the engine YAML config")
	banditDumpCmd.Flags().String("timeframe", "5m", "Timeframe whose snapshot to dump")
	banditCmd.AddCommand(banditDumpCmd)

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest commands",
	}
	backtestReplayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a fixture file through the full pipeline in offline mode",
		RunE:  runBacktestReplay,
	}
	backtestReplayCmd.Flags().String("config", "engine.yaml", "Path to the engine YAML config")
	backtestReplayCmd.Flags().String("fixture", "", "Path to a JSON candle fixture file (required)")
	backtestCmd.AddCommand(backtestReplayCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(banditCmd)
	rootCmd.AddCommand(backtestCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
