package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/mtfengine/internal/domain/bandit"
	"github.com/sawpanic/mtfengine/internal/domain/combine"
	"github.com/sawpanic/mtfengine/internal/domain/ensemble"
	"github.com/sawpanic/mtfengine/internal/domain/guard"
	"github.com/sawpanic/mtfengine/internal/domain/risk"
	"github.com/sawpanic/mtfengine/internal/emitter"
)

// EngineConfig is the top-level YAML configuration for a running engine
// instance, mirroring ProvidersConfig's YAML-tagged-struct-plus-Validate
// pattern but scoped to the trading pipeline rather than provider RPS/
// budget bookkeeping.
type EngineConfig struct {
	Symbol     string             `yaml:"symbol"`
	Venue      string             `yaml:"venue"` // "binance" or "offline"
	Timeframes []TimeframeConfig  `yaml:"timeframes"`
	Guard      GuardConfig        `yaml:"guard"`
	Risk       RiskConfig         `yaml:"risk"`
	Combine    CombineConfig      `yaml:"combine"`
	Bandit     BanditConfig       `yaml:"bandit"`
	Ensemble   EnsembleConfig     `yaml:"ensemble"`
	Emitter    EmitterPathConfig  `yaml:"emitter"`
	Persist    PersistenceConfig  `yaml:"persistence"`
	HTTP       HTTPConfig         `yaml:"http"`
	LogLevel   string             `yaml:"log_level"`

	// ModelManifestPath points at a frozen predictor manifest; empty
	// falls back to predictor.NeutralPredictor so the engine still runs
	// (flat) without a trained model available.
	ModelManifestPath string   `yaml:"model_manifest_path"`
	FeatureSchema     []string `yaml:"feature_schema"`

	// AdvNotionalUSD is the symbol's 20-day average daily volume in USD,
	// used by the guard chain and executor for impact/ADV-cap gating.
	// Zero disables both gates rather than blocking startup on a value
	// that in production would come from a separate ADV refresh job.
	AdvNotionalUSD float64 `yaml:"adv_notional_usd"`
}

// TimeframeConfig names one driver timeframe and its bar width.
type TimeframeConfig struct {
	Name       string `yaml:"name"` // "5m", "1h", "12h", "24h"
	BarMinutes int    `yaml:"bar_minutes"`
}

// GuardConfig maps 1:1 onto guard.Config for YAML loading.
type GuardConfig struct {
	MaxSpreadBps        float64 `yaml:"max_spread_bps"`
	FundingGuardBias    float64 `yaml:"funding_guard_bias"`
	MinSignFlipGapS     int     `yaml:"min_sign_flip_gap_s"`
	DeltaPiMinBps       float64 `yaml:"delta_pi_min_bps"`
	MaxImpactBps        float64 `yaml:"max_impact_bps"`
	MaxImpactBpsHard    float64 `yaml:"max_impact_bps_hard"`
	MinNetEdgeBps       float64 `yaml:"min_net_edge_bps"`
	EnableNetEdgeGating bool    `yaml:"enable_net_edge_gating"`
	MaxOrdersPerSec     int     `yaml:"max_orders_per_sec"`
	AdvOrderCap         float64 `yaml:"adv_order_cap"`
	AdvHourCap          float64 `yaml:"adv_hour_cap"`
	BandBps             float64 `yaml:"band_bps"`
	ImpactK             float64 `yaml:"impact_k"`
	BaseNotional        float64 `yaml:"base_notional"`
	CostBps             float64 `yaml:"cost_bps"`
	SlippageBps         float64 `yaml:"slippage_bps"`
}

func (g GuardConfig) toDomain() guard.Config {
	return guard.Config{
		MaxSpreadBps:        g.MaxSpreadBps,
		FundingGuardBias:    g.FundingGuardBias,
		MinSignFlipGapS:     g.MinSignFlipGapS,
		DeltaPiMinBps:       g.DeltaPiMinBps,
		MaxImpactBps:        g.MaxImpactBps,
		MaxImpactBpsHard:    g.MaxImpactBpsHard,
		MinNetEdgeBps:       g.MinNetEdgeBps,
		EnableNetEdgeGating: g.EnableNetEdgeGating,
		MaxOrdersPerSec:     g.MaxOrdersPerSec,
		AdvOrderCap:         g.AdvOrderCap,
		AdvHourCap:          g.AdvHourCap,
		BandBps:             g.BandBps,
		ImpactK:             g.ImpactK,
		BaseNotional:        g.BaseNotional,
		CostBps:             g.CostBps,
		SlippageBps:         g.SlippageBps,
	}
}

// ToGuardChain builds a guard.Chain from this config section.
func (g GuardConfig) ToGuardChain() *guard.Chain {
	return guard.NewChain(g.toDomain())
}

// RiskConfig maps onto risk.Config for YAML loading.
type RiskConfig struct {
	SigmaTarget             float64 `yaml:"sigma_target"`
	PosMax                  float64 `yaml:"pos_max"`
	CooldownBars            int     `yaml:"cooldown_bars"`
	RealizedVolWindow       int     `yaml:"realized_vol_window"`
	BarMinutes              float64 `yaml:"bar_minutes"`
	BaseNotional            float64 `yaml:"base_notional"`
	VolFloor                float64 `yaml:"vol_floor"`
	AdvCapPct               float64 `yaml:"adv_cap_pct"`
	RebalanceMinPosDelta    float64 `yaml:"rebalance_min_pos_delta"`
	DailyStopDDPct          float64 `yaml:"daily_stop_dd_pct"`
	DailyStopBoundary       string  `yaml:"daily_stop_boundary"` // "utc" or "ist"
	WarmupSkipBars          int     `yaml:"warmup_skip_bars"`
	CostBps                 float64 `yaml:"cost_bps"`
	SlippageBps             float64 `yaml:"slippage_bps"`
	ImpactK                 float64 `yaml:"impact_k"`
	EnableForcedExits       bool    `yaml:"enable_forced_exits"`
	MaxPositionDurationBars int64   `yaml:"max_position_duration_bars"`
	StopLossBps             float64 `yaml:"stop_loss_bps"`
	TakeProfitBps           float64 `yaml:"take_profit_bps"`
	PassiveFillFraction     float64 `yaml:"passive_fill_fraction"`
}

func (r RiskConfig) toDomain() risk.Config {
	boundary := risk.DayBoundaryUTC
	if r.DailyStopBoundary == "ist" {
		boundary = risk.DayBoundaryIST
	}
	return risk.Config{
		SigmaTarget:             r.SigmaTarget,
		PosMax:                  r.PosMax,
		CooldownBars:            r.CooldownBars,
		RealizedVolWindow:       r.RealizedVolWindow,
		BarMinutes:              r.BarMinutes,
		BaseNotional:            r.BaseNotional,
		VolFloor:                r.VolFloor,
		AdvCapPct:               r.AdvCapPct,
		RebalanceMinPosDelta:    r.RebalanceMinPosDelta,
		DailyStopDDPct:          r.DailyStopDDPct,
		DailyStopBoundary:       boundary,
		WarmupSkipBars:          r.WarmupSkipBars,
		CostBps:                 r.CostBps,
		SlippageBps:             r.SlippageBps,
		ImpactK:                 r.ImpactK,
		EnableForcedExits:       r.EnableForcedExits,
		MaxPositionDurationBars: r.MaxPositionDurationBars,
		StopLossBps:             r.StopLossBps,
		TakeProfitBps:           r.TakeProfitBps,
		PassiveFillFraction:     r.PassiveFillFraction,
	}
}

// ToExecutorConfig builds a risk.Config ready for risk.NewExecutor.
func (r RiskConfig) ToExecutorConfig() risk.Config { return r.toDomain() }

// CombineConfig maps onto combine.Config for YAML loading.
type CombineConfig struct {
	Weights             map[string]float64 `yaml:"weights"`
	RequiredAgreement   []string           `yaml:"required_agreement"`
	OverrideTimeframe   string             `yaml:"override_timeframe"`
	OverrideThreshold   float64            `yaml:"override_threshold"`
	ConflictMinAlpha    float64            `yaml:"conflict_min_alpha"`
	HalveOn1hOpposition bool               `yaml:"halve_on_1h_opposition"`
	ConflictBandMult    float64            `yaml:"conflict_band_mult"`
}

// ToCombineConfig builds a combine.Config from this config section.
func (c CombineConfig) ToCombineConfig() combine.Config {
	return combine.Config{
		Weights:             c.Weights,
		RequiredAgreement:   c.RequiredAgreement,
		OverrideTimeframe:   c.OverrideTimeframe,
		OverrideThreshold:   c.OverrideThreshold,
		ConflictMinAlpha:    c.ConflictMinAlpha,
		HalveOn1hOpposition: c.HalveOn1hOpposition,
		ConflictBandMult:    c.ConflictBandMult,
	}
}

// BanditConfig maps onto bandit.Config for YAML loading.
type BanditConfig struct {
	Epsilon        float64 `yaml:"epsilon"`
	VarianceBonusK float64 `yaml:"variance_bonus_k"`
}

// ToBanditConfig builds a bandit.Config from this config section.
func (b BanditConfig) ToBanditConfig() bandit.Config {
	cfg := bandit.DefaultConfig()
	if b.Epsilon != 0 {
		cfg.Epsilon = b.Epsilon
	}
	cfg.VarianceBonusK = b.VarianceBonusK
	return cfg
}

// EnsembleConfig maps onto ensemble.Config for YAML loading.
type EnsembleConfig struct {
	Window int     `yaml:"window"`
	Kappa  float64 `yaml:"kappa"`
	Freeze bool    `yaml:"freeze"`
}

// ToEnsembleConfig builds an ensemble.Config from this config section.
func (e EnsembleConfig) ToEnsembleConfig() ensemble.Config {
	cfg := ensemble.DefaultConfig()
	if e.Window != 0 {
		cfg.Window = e.Window
	}
	if e.Kappa != 0 {
		cfg.Kappa = e.Kappa
	}
	cfg.Freeze = e.Freeze
	return cfg
}

// EmitterPathConfig points the log emitter at a base directory and tunes
// its sampling/batching/compression behavior, mirroring
// production_emitter.py's EmitterConfig dataclass fields.
type EmitterPathConfig struct {
	BaseDir       string  `yaml:"base_dir"`
	SchemaVersion string  `yaml:"schema_v"`
	MaxFileMB     int     `yaml:"max_file_mb"`
	MaxFiles      int     `yaml:"max_files"`
	ChannelBuffer int     `yaml:"channel_buffer"`
	SamplingRate  float64 `yaml:"sampling_rate"`
	Compress      bool    `yaml:"compression"`

	// Async defaults to true when unset; set explicitly to false to run
	// the sync write-with-retry path instead of batched async flush.
	Async          *bool   `yaml:"enable_async"`
	BatchSize      int     `yaml:"batch_size"`
	FlushIntervalS float64 `yaml:"flush_interval"`
	RetryAttempts  int     `yaml:"retry_attempts"`
	RetryDelayS    float64 `yaml:"retry_delay"`
}

// ToEmitterConfig builds an emitter.Config from this config section for
// the given traded asset, falling back to emitter.DefaultConfig's
// rotation/buffer/batch sizing for any zero-valued field.
func (e EmitterPathConfig) ToEmitterConfig(asset string) emitter.Config {
	cfg := emitter.DefaultConfig(e.BaseDir)
	cfg.Asset = asset
	if e.SchemaVersion != "" {
		cfg.SchemaVersion = e.SchemaVersion
	}
	if e.MaxFileMB > 0 {
		cfg.MaxFileBytes = int64(e.MaxFileMB) * 1024 * 1024
	}
	if e.MaxFiles > 0 {
		cfg.MaxFiles = e.MaxFiles
	}
	if e.ChannelBuffer > 0 {
		cfg.ChannelBuffer = e.ChannelBuffer
	}
	if e.SamplingRate > 0 {
		cfg.SamplingRate = e.SamplingRate
	}
	cfg.Compress = e.Compress
	if e.Async != nil {
		cfg.Async = *e.Async
	}
	if e.BatchSize > 0 {
		cfg.BatchSize = e.BatchSize
	}
	if e.FlushIntervalS > 0 {
		cfg.FlushInterval = time.Duration(e.FlushIntervalS * float64(time.Second))
	}
	if e.RetryAttempts > 0 {
		cfg.RetryAttempts = e.RetryAttempts
	}
	if e.RetryDelayS > 0 {
		cfg.RetryDelay = time.Duration(e.RetryDelayS * float64(time.Second))
	}
	return cfg
}

// PersistenceConfig carries the optional Postgres DSN; an empty DSN
// disables the durable-persistence tier and leaves JSONL/checkpoint
// files as the sole record, matching the teacher's optional-DB pattern.
type PersistenceConfig struct {
	PostgresDSN          string `yaml:"postgres_dsn"`
	RedisAddr            string `yaml:"redis_addr"`
	BanditCheckpointPath string `yaml:"bandit_checkpoint_path"`
}

// HTTPConfig configures the monitor server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and validates an EngineConfig from a YAML file.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &cfg, nil
}

// Validate checks structural invariants the driver relies on.
func (c *EngineConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if c.Venue != "binance" && c.Venue != "offline" {
		return fmt.Errorf("venue must be \"binance\" or \"offline\", got %q", c.Venue)
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe must be configured")
	}
	for _, tf := range c.Timeframes {
		if tf.Name == "" {
			return fmt.Errorf("timeframe name cannot be empty")
		}
		if tf.BarMinutes <= 0 {
			return fmt.Errorf("timeframe %s: bar_minutes must be positive", tf.Name)
		}
	}
	if c.Risk.PosMax <= 0 {
		return fmt.Errorf("risk.pos_max must be positive")
	}
	if c.Emitter.BaseDir == "" {
		return fmt.Errorf("emitter.base_dir cannot be empty")
	}
	return nil
}

// RequestTimeout is the default timeout applied to outbound venue REST
// calls, kept here rather than per-provider since the engine talks to
// exactly one venue per run.
func (c *EngineConfig) RequestTimeout() time.Duration {
	return 10 * time.Second
}
