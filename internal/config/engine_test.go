package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sawpanic/mtfengine/internal/domain/risk"
)

const sampleYAML = `
symbol: BTCUSDT
venue: offline
timeframes:
  - name: 5m
    bar_minutes: 5
  - name: 1h
    bar_minutes: 60
guard:
  max_spread_bps: 10
  band_bps: 5
risk:
  sigma_target: 0.2
  pos_max: 1.0
  bar_minutes: 5
combine:
  required_agreement: ["5m", "15m"]
bandit:
  epsilon: 0.1
emitter:
  base_dir: /tmp/logs
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("failed to write sample config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeSampleConfig(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Symbol != "BTCUSDT" {
		t.Fatalf("expected symbol BTCUSDT, got %s", cfg.Symbol)
	}
	if len(cfg.Timeframes) != 2 {
		t.Fatalf("expected 2 timeframes, got %d", len(cfg.Timeframes))
	}
}

func TestLoadRejectsMissingSymbol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("venue: offline\ntimeframes:\n  - name: 5m\n    bar_minutes: 5\nrisk:\n  pos_max: 1.0\nemitter:\n  base_dir: /tmp/x\n"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}

func TestLoadRejectsInvalidVenue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("symbol: BTCUSDT\nvenue: coinbase\ntimeframes:\n  - name: 5m\n    bar_minutes: 5\nrisk:\n  pos_max: 1.0\nemitter:\n  base_dir: /tmp/x\n"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported venue")
	}
}

func TestGuardConfigToGuardChainBuilds(t *testing.T) {
	cfg := GuardConfig{MaxSpreadBps: 10, BandBps: 5}
	chain := cfg.ToGuardChain()
	if chain == nil {
		t.Fatal("expected non-nil chain")
	}
}

func TestRiskConfigToExecutorConfigMapsDayBoundary(t *testing.T) {
	cfg := RiskConfig{PosMax: 1.0, DailyStopBoundary: "ist"}
	dc := cfg.ToExecutorConfig()
	if dc.DailyStopBoundary != risk.DayBoundaryIST {
		t.Fatalf("expected ist boundary, got %v", dc.DailyStopBoundary)
	}
}

func TestEmitterPathConfigFallsBackToDefaults(t *testing.T) {
	cfg := EmitterPathConfig{BaseDir: "/tmp/logs"}
	ec := cfg.ToEmitterConfig("BTCUSDT")
	if ec.MaxFiles != 10 {
		t.Fatalf("expected default MaxFiles 10, got %d", ec.MaxFiles)
	}
	if ec.Asset != "BTCUSDT" {
		t.Fatalf("expected asset threaded through, got %q", ec.Asset)
	}
	if ec.SamplingRate != 1.0 {
		t.Fatalf("expected default SamplingRate 1.0, got %v", ec.SamplingRate)
	}
	if !ec.Async || ec.BatchSize != 100 {
		t.Fatalf("expected default async batching (100), got async=%v batch=%d", ec.Async, ec.BatchSize)
	}
}
