package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mtfengine/internal/cache"
	"github.com/sawpanic/mtfengine/internal/config"
	"github.com/sawpanic/mtfengine/internal/domain/bandit"
	"github.com/sawpanic/mtfengine/internal/domain/health"
	"github.com/sawpanic/mtfengine/internal/domain/predictor"
	"github.com/sawpanic/mtfengine/internal/domain/risk"
	"github.com/sawpanic/mtfengine/internal/domain/signal"
	"github.com/sawpanic/mtfengine/internal/driver"
	"github.com/sawpanic/mtfengine/internal/emitter"
	"github.com/sawpanic/mtfengine/internal/infrastructure/db"
	"github.com/sawpanic/mtfengine/internal/venue"
)

// defaultFeatureSchema backs a config that neither names a manifest nor
// lists its own schema explicitly. None of these names is a column that
// feature.Computer.Update produces, so every entry of the resulting
// FeatureVector is 0; the list only fixes the vector's length, which is
// all a flat NeutralPredictor run needs since it ignores its input.
var defaultFeatureSchema = []string{
	"ret_1", "rv", "funding", "cohort_pros", "cohort_amateurs", "cohort_mood", "corr",
}

// builtEngine bundles everything runEngine/runMonitorStandalone/
// runSelftest/runBacktestReplay need, so each command wires the same
// config -> domain-object path rather than re-deriving it.
type builtEngine struct {
	driver *driver.Driver
	emit   *emitter.Emitter
	dbmgr  *db.Manager
}

// buildVenue resolves cfg.Venue to a concrete venue.Venue. "offline"
// has no fixture of its own to replay here; selftest and backtest
// replay construct their OfflineVenue directly and call
// buildEngineFromVenue, bypassing this function entirely.
func buildVenue(cfg *config.EngineConfig) (venue.Venue, error) {
	switch cfg.Venue {
	case "binance":
		return venue.NewBinanceVenue("", ""), nil
	case "offline":
		return nil, fmt.Errorf("venue \"offline\" requires a fixture; use the backtest/selftest commands")
	default:
		return nil, fmt.Errorf("unsupported venue %q", cfg.Venue)
	}
}

// resolvePredictor loads a manifest predictor when configured, falling
// back to a flat NeutralPredictor. A manifest path that fails to load
// degrades rather than erroring, matching predictor.NewManifestPredictor's
// own contract: the engine keeps running flat instead of refusing to
// start over a bad artifact.
func resolvePredictor(cfg *config.EngineConfig) (predictor.Predictor, []string) {
	if cfg.ModelManifestPath == "" {
		schema := cfg.FeatureSchema
		if len(schema) == 0 {
			schema = defaultFeatureSchema
		}
		return predictor.NeutralPredictor{B: 1}, schema
	}
	pred := predictor.NewManifestPredictor(cfg.ModelManifestPath)
	if mp, ok := pred.(*predictor.ManifestPredictor); ok {
		if schema := mp.Schema(); len(schema) > 0 {
			return pred, schema
		}
	}
	schema := cfg.FeatureSchema
	if len(schema) == 0 {
		schema = defaultFeatureSchema
	}
	return pred, schema
}

// resolveFilters loads exchange precision filters for the executor,
// caching the REST round-trip behind the shared Redis/TTL cache tier so
// repeated engine restarts against the same symbol don't hammer the
// venue for a value that changes on the order of days.
func resolveFilters(ctx context.Context, v venue.Venue, symbol string, sharedCache *cache.SharedCache) risk.ExchangeFilters {
	key := "exchange_filters:" + v.Name() + ":" + symbol
	if sharedCache != nil {
		if cached, ok := sharedCache.Get(ctx, key); ok {
			if m, ok := cached.(map[string]interface{}); ok {
				return risk.ExchangeFilters{
					StepSize:    toFloat(m["step_size"]),
					TickSize:    toFloat(m["tick_size"]),
					MinQty:      toFloat(m["min_qty"]),
					MinNotional: toFloat(m["min_notional"]),
				}
			}
		}
	}
	f, err := v.ExchangeInfo(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("engine: exchange filters unavailable, executor runs unconstrained")
		return risk.ExchangeFilters{}
	}
	filters := risk.ExchangeFilters{StepSize: f.StepSize, TickSize: f.TickSize, MinQty: f.MinQty, MinNotional: f.MinNotional}
	if sharedCache != nil {
		sharedCache.Set(ctx, key, map[string]interface{}{
			"step_size": f.StepSize, "tick_size": f.TickSize, "min_qty": f.MinQty, "min_notional": f.MinNotional,
		}, 6*time.Hour)
	}
	return filters
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// driverTimeframes converts the config's flat bar-minutes list into
// driver.Timeframe, deriving each overlay's BaseMultiple from its ratio
// to the base (first-listed) timeframe's bar width.
func driverTimeframes(cfgTFs []config.TimeframeConfig) ([]driver.Timeframe, error) {
	if len(cfgTFs) == 0 {
		return nil, fmt.Errorf("no timeframes configured")
	}
	base := cfgTFs[0]
	out := make([]driver.Timeframe, 0, len(cfgTFs))
	for i, tf := range cfgTFs {
		if i == 0 {
			out = append(out, driver.Timeframe{Name: tf.Name, BaseMultiple: 1})
			continue
		}
		if tf.BarMinutes%base.BarMinutes != 0 {
			return nil, fmt.Errorf("timeframe %s (%dm) is not a whole multiple of base timeframe %s (%dm)", tf.Name, tf.BarMinutes, base.Name, base.BarMinutes)
		}
		out = append(out, driver.Timeframe{Name: tf.Name, BaseMultiple: tf.BarMinutes / base.BarMinutes})
	}
	return out, nil
}

// buildEngineFromVenue assembles a driver.Driver and its emitter/db
// manager from an already-constructed venue, so selftest/backtest can
// supply an OfflineVenue fixture while runEngine supplies a live one.
func buildEngineFromVenue(ctx context.Context, cfg *config.EngineConfig, v venue.Venue) (*builtEngine, error) {
	timeframes, err := driverTimeframes(cfg.Timeframes)
	if err != nil {
		return nil, err
	}

	pred, schema := resolvePredictor(cfg)

	redisCfg := cache.DefaultRedisConfig()
	if cfg.Persist.RedisAddr != "" {
		redisCfg.Addr = cfg.Persist.RedisAddr
		redisCfg.Enabled = true
	}
	sharedCache := cache.NewSharedCache(redisCfg, 10_000)

	filters := resolveFilters(ctx, v, cfg.Symbol, sharedCache)

	dbCfg := db.DefaultConfig()
	if cfg.Persist.PostgresDSN != "" {
		dbCfg.Enabled = true
		dbCfg.DSN = cfg.Persist.PostgresDSN
	}
	dbmgr, err := db.NewManager(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("build persistence layer: %w", err)
	}

	emit := emitter.New(cfg.Emitter.ToEmitterConfig(cfg.Symbol))

	banditState, err := bandit.LoadCheckpoint(cfg.Persist.BanditCheckpointPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Persist.BanditCheckpointPath).Msg("engine: bandit checkpoint unreadable, starting cold")
	}

	deps := driver.Deps{
		Venue:       v,
		Symbol:      cfg.Symbol,
		BaseBar:     timeframes[0].Name,
		Timeframes:  timeframes,
		Predictor:   pred,
		Schema:      schema,
		CombineCfg:  cfg.Combine.ToCombineConfig(),
		BanditCfg:   cfg.Bandit.ToBanditConfig(),
		EnsembleCfg: cfg.Ensemble.ToEnsembleConfig(),
		Thresholds:  signal.DefaultThresholds(),
		GuardChain:  cfg.Guard.ToGuardChain(),
		Executor:    risk.NewExecutor(cfg.Risk.ToExecutorConfig(), filters),
		Health:               health.NewTracker(200, float64(cfg.Timeframes[0].BarMinutes)),
		Emit:                 emit,
		BanditState:          banditState,
		BanditCheckpointPath: cfg.Persist.BanditCheckpointPath,
		AdvNotionalUSD:       cfg.AdvNotionalUSD,
	}

	return &builtEngine{driver: driver.New(deps), emit: emit, dbmgr: dbmgr}, nil
}

// buildEngine is the live-venue entry point used by runEngine and
// runMonitorStandalone.
func buildEngine(ctx context.Context, cfg *config.EngineConfig) (*builtEngine, error) {
	v, err := buildVenue(cfg)
	if err != nil {
		return nil, err
	}
	return buildEngineFromVenue(ctx, cfg, v)
}

// splitListenAddr splits a "host:port" HTTP listen address, defaulting
// the host to loopback and the port to 8080 if either piece is missing
// or unparsable.
func splitListenAddr(addr string) (string, int) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return "127.0.0.1", 8080
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8080
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port
}
