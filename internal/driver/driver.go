// Package driver owns all business state: cohort accumulation, rollup,
// feature computation, prediction, signal generation, combining,
// bandit/BMA reshaping, the guard chain, risk sizing and paper
// execution, and health tracking. Market data and cohort flow arrive via
// channels; Run starts one goroutine per channel plus a funding poller,
// and each of them mutates driver state only while holding the driver's
// mutex. Nothing outside this package mutates engine state directly.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/mtfengine/internal/domain"
	"github.com/sawpanic/mtfengine/internal/domain/bandit"
	"github.com/sawpanic/mtfengine/internal/domain/cohort"
	"github.com/sawpanic/mtfengine/internal/domain/combine"
	"github.com/sawpanic/mtfengine/internal/domain/ensemble"
	"github.com/sawpanic/mtfengine/internal/domain/feature"
	"github.com/sawpanic/mtfengine/internal/domain/guard"
	"github.com/sawpanic/mtfengine/internal/domain/health"
	"github.com/sawpanic/mtfengine/internal/domain/predictor"
	"github.com/sawpanic/mtfengine/internal/domain/risk"
	"github.com/sawpanic/mtfengine/internal/domain/rollup"
	"github.com/sawpanic/mtfengine/internal/domain/signal"
	"github.com/sawpanic/mtfengine/internal/emitter"
	"github.com/sawpanic/mtfengine/internal/venue"
)

// Timeframe describes one driver timeframe: either the base stream the
// venue feeds directly, or an overlay rolled up from a fixed number of
// base bars.
type Timeframe struct {
	Name         string
	BaseMultiple int // 1 for the base timeframe itself
}

// Deps bundles everything the driver needs, already constructed from
// config by the caller (cmd/engine), so Driver itself does no
// config-parsing or I/O setup.
type Deps struct {
	Venue      venue.Venue
	Symbol     string
	BaseBar    string // venue interval string for the base timeframe, e.g. "5m"
	Timeframes []Timeframe

	Predictor predictor.Predictor
	Schema    []string

	CombineCfg combine.Config
	BanditCfg  bandit.Config
	EnsembleCfg ensemble.Config
	Thresholds signal.Thresholds

	GuardChain *guard.Chain
	Executor   *risk.Executor
	Health     *health.Tracker
	Emit       *emitter.Emitter

	BanditState *domain.BanditState

	// BanditCheckpointPath, when set, is written atomically after every
	// Select and Update so the selector's statistics survive a restart.
	BanditCheckpointPath string

	// CohortFills optionally feeds cohort.Fill records from an external
	// address-classification source. When nil, cohort flow features
	// stay at zero for every bar rather than block startup on a feed
	// this engine has no way to derive from the venue's raw trade tape.
	CohortFills <-chan cohort.Fill

	AdvNotionalUSD float64
}

// Driver runs the per-bar pipeline for one symbol across all configured
// timeframes.
type Driver struct {
	deps Deps

	mu       sync.Mutex
	computers map[string]*feature.Computer
	rollups   map[string]*rollup.Buffer
	latest    map[string]domain.Signal

	cohortState *cohort.State
	banditSel   *bandit.Selector
	blender     *ensemble.Blender

	lastBookTicker *guard.BookTicker
	lastFunding    *float64
	lastPrice      *float64
	prevClose      float64
	execPrevClose  float64
	lastBlended    float64

	barsProcessed int64
}

// New constructs a Driver from deps. All per-timeframe feature computers
// and rollup buffers are created here so Run starts with warm, empty
// state rather than lazily initializing on first bar.
func New(deps Deps) *Driver {
	d := &Driver{
		deps:      deps,
		computers: make(map[string]*feature.Computer),
		rollups:   make(map[string]*rollup.Buffer),
		latest:    make(map[string]domain.Signal),
	}
	for _, tf := range deps.Timeframes {
		d.computers[tf.Name] = feature.NewComputer(deps.Schema, 12, 50, 36)
		if tf.BaseMultiple > 1 {
			d.rollups[tf.Name] = rollup.NewBuffer(tf.BaseMultiple)
		}
	}
	d.cohortState = cohort.NewState(200, barIntervalMsFor(deps.Timeframes), 1.0, 30.0)
	d.banditSel = bandit.NewSelector(deps.BanditState, deps.BanditCfg)
	d.blender = ensemble.NewBlender(deps.EnsembleCfg)
	return d
}

// BanditSelector exposes the driver's bandit selector for the monitor
// server's /bandit endpoint. Safe to call concurrently: the selector's
// own State() method is read-only and the underlying BanditState is
// only mutated from inside the driver's own locked cycle.
func (d *Driver) BanditSelector() *bandit.Selector {
	return d.banditSel
}

// Health exposes the driver's rolling KPI tracker for the monitor
// server's /kpi and /metrics endpoints. Tracker.Snapshot is read-only
// and safe to call from outside the driver's own locked cycle.
func (d *Driver) Health() *health.Tracker {
	return d.deps.Health
}

// Emitter exposes the driver's log emitter so the monitor server can
// report per-stream drop counts alongside the KPI snapshot.
func (d *Driver) Emitter() *emitter.Emitter {
	return d.deps.Emit
}

// Venue exposes the driver's venue so the monitor server can report
// REST-transport stats for venues that collect them (e.g. BinanceVenue's
// HTTPStats).
func (d *Driver) Venue() venue.Venue {
	return d.deps.Venue
}

func barIntervalMsFor(tfs []Timeframe) int64 {
	return 5 * 60 * 1000
}

// Run subscribes to the venue and processes bars until ctx is cancelled
// or the venue's stream ends (the offline backend's natural termination
// for one_shot/offline/selftest runs).
func (d *Driver) Run(ctx context.Context) error {
	stream, err := d.deps.Venue.Subscribe(ctx, d.deps.Symbol, d.deps.BaseBar)
	if err != nil {
		return fmt.Errorf("driver: subscribe failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, endRun := context.WithCancel(gctx)
	defer endRun()

	g.Go(func() error {
		// The candle stream ending ends the run: stop the other
		// consumers and the funding poller as well.
		defer endRun()
		return d.consumeCandles(runCtx, stream.Candles)
	})
	g.Go(func() error { return d.consumeBookTickers(runCtx, stream.BookTickers) })
	g.Go(func() error { return d.consumeTrades(runCtx, stream.Trades) })
	g.Go(func() error { return d.consumeErrors(runCtx, stream.Err) })
	if d.deps.CohortFills != nil {
		g.Go(func() error { return d.consumeCohortFills(runCtx, d.deps.CohortFills) })
	}
	g.Go(func() error { return d.pollFunding(runCtx) })

	err = g.Wait()
	if err == context.Canceled && ctx.Err() == nil {
		return nil
	}
	return err
}

func (d *Driver) consumeErrors(ctx context.Context, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-errs:
			if !ok {
				return nil
			}
			log.Error().Err(e).Msg("driver: venue stream error")
		}
	}
}

func (d *Driver) consumeBookTickers(ctx context.Context, tickers <-chan venue.BookTicker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-tickers:
			if !ok {
				return nil
			}
			d.mu.Lock()
			bt := guard.BookTicker{Bid: t.Bid, Ask: t.Ask}
			d.lastBookTicker = &bt
			mid := (t.Bid + t.Ask) / 2
			d.lastPrice = &mid
			d.mu.Unlock()
		}
	}
}

func (d *Driver) consumeTrades(ctx context.Context, trades <-chan venue.Trade) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-trades:
			if !ok {
				return nil
			}
			// Raw venue trades carry no cohort classification; cohort
			// flow is fed exclusively through Deps.CohortFills.
		}
	}
}

func (d *Driver) consumeCohortFills(ctx context.Context, fills <-chan cohort.Fill) error {
	weights := cohort.Weights{Pros: 1, Amateurs: 1, Mood: 1}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-fills:
			if !ok {
				return nil
			}
			d.mu.Lock()
			d.cohortState.UpdateFromFill(f, weights)
			d.mu.Unlock()
		}
	}
}

func (d *Driver) pollFunding(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fu, err := d.deps.Venue.PremiumIndex(ctx, d.deps.Symbol)
			if err != nil {
				log.Warn().Err(err).Msg("driver: funding poll failed, using stale value")
				continue
			}
			d.mu.Lock()
			rate := fu.FundingRate
			d.lastFunding = &rate
			d.mu.Unlock()
		}
	}
}

func (d *Driver) consumeCandles(ctx context.Context, candles <-chan venue.Candle) error {
	baseTF := d.deps.Timeframes[0].Name
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-candles:
			if !ok {
				return nil
			}
			if !c.Closed {
				continue
			}
			d.processBar(ctx, baseTF, d.toDomainBar(c))
		}
	}
}

func (d *Driver) toDomainBar(c venue.Candle) domain.Bar {
	return domain.Bar{TsMs: c.TsMs, BarID: d.barsProcessed, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
}

// processBar advances the base timeframe and every overlay timeframe
// whose rollup window just closed, then runs one combine-through-emit
// cycle using whichever timeframes have a signal so far.
func (d *Driver) processBar(ctx context.Context, sourceTF string, bar domain.Bar) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updateTimeframe(sourceTF, bar)
	for name, buf := range d.rollups {
		if overlay, ready := buf.Push(bar); ready {
			d.updateTimeframe(name, overlay)
		}
	}
	d.barsProcessed++
	d.runCycle(ctx, bar)
}

func (d *Driver) updateTimeframe(tf string, bar domain.Bar) {
	computer := d.computers[tf]
	pros, amateurs, mood := d.cohortState.Snapshot()
	funding := 0.0
	if d.lastFunding != nil {
		funding = *d.lastFunding
	}
	row := feature.Row{Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume}
	cohortRow := feature.Cohort{Pros: pros, Amateurs: amateurs, Mood: mood}
	values, _ := computer.Update(row, cohortRow, funding)
	if !computer.IsWarmed() {
		return
	}
	fv, err := domain.NewFeatureVector(values, d.deps.Schema, len(values))
	if err != nil {
		log.Error().Err(err).Str("timeframe", tf).Msg("driver: invalid feature vector")
		return
	}
	pred := d.deps.Predictor.Infer(fv.Values)

	if tf == d.deps.Timeframes[0].Name {
		if d.prevClose != 0 {
			realized := (bar.Close - d.prevClose) / d.prevClose
			d.blender.Observe(pred.SModel, pred.PUp-pred.PDown, realized)
		}
		d.prevClose = bar.Close
		d.lastBlended = d.blender.Blend(pred.SModel, pred.PUp-pred.PDown)
	}

	sig := signal.Generate(pred, tf, bar.BarID, d.deps.Thresholds)
	d.latest[tf] = sig
}

func (d *Driver) runCycle(ctx context.Context, bar domain.Bar) {
	if len(d.latest) == 0 {
		return
	}
	combined := combine.Combine(d.latest, d.deps.CombineCfg)

	pros, amateurs, _ := d.cohortState.Snapshot()
	eligible := map[string]float64{
		bandit.ArmPros:      pros,
		bandit.ArmAmateurs:  amateurs,
		bandit.ArmModelMeta: combined.Alpha * float64(combined.Direction),
		bandit.ArmModelBMA:  d.lastBlended,
	}
	arm := d.banditSel.Select(eligible)
	if err := d.banditSel.SaveCheckpoint(d.deps.BanditCheckpointPath); err != nil {
		log.Warn().Err(err).Msg("driver: bandit checkpoint write failed after select")
	}

	decision := domain.NewDecision(combined.Direction, combined.Alpha, domain.OverlayDetails{
		Mode:      combined.AlignmentRule,
		ChosenArm: arm,
	})

	price := 0.0
	if d.lastPrice != nil {
		price = *d.lastPrice
	} else {
		price = bar.Close
	}

	gctx := guard.Context{
		TsMs:        bar.TsMs,
		BookTicker:  d.lastBookTicker,
		FundingRate: d.lastFunding,
		LastPrice:   &price,
		CurrentPos:  d.deps.Executor.Position(),
		TargetPos:   d.deps.Executor.TargetPosition(decision.Direction, decision.Alpha),
		PredCalBps:  decision.Alpha * 10000,
		Adv20USD:    d.deps.AdvNotionalUSD,
	}
	guarded := d.deps.GuardChain.Evaluate(guard.Decision{Direction: decision.Direction, Alpha: decision.Alpha}, gctx)
	if guarded.Direction != 0 {
		d.deps.GuardChain.NotifyOrderAttempt(bar.TsMs)
	}

	if d.execPrevClose != 0 {
		d.deps.Executor.UpdateReturns(d.execPrevClose, bar.Close)
		retBps := (bar.Close - d.execPrevClose) / d.execPrevClose * 10000
		d.banditSel.Update(retBps)
		if err := d.banditSel.SaveCheckpoint(d.deps.BanditCheckpointPath); err != nil {
			log.Warn().Err(err).Msg("driver: bandit checkpoint write failed after update")
		}
	}
	d.execPrevClose = bar.Close
	target := d.deps.Executor.TargetPosition(guarded.Direction, guarded.Alpha)
	result := d.deps.Executor.ExecuteMarket(target, price, d.deps.AdvNotionalUSD, d.barsProcessed)
	d.deps.Executor.AdvanceBar()
	if result.Executed {
		d.deps.GuardChain.PostExecutionUpdate(result.Qty*result.Price, bar.TsMs, d.deps.Executor.Position())
	}

	posDelta := target - gctx.CurrentPos
	if posDelta < 0 {
		posDelta = -posDelta
	}
	d.deps.Health.Observe(health.Record{
		Equity:    d.deps.Executor.Book().RealizedPnL + result.UnrealizedPnL,
		Return:    0,
		Direction: guarded.Direction,
		InBand:    guarded.Direction == 0 && guarded.Mode == "calibration_band_gate",
		PosDelta:  posDelta,
	})

	d.emitAll(bar, decision, guarded, result)
}

func (d *Driver) emitAll(bar domain.Bar, decision domain.Decision, guarded guard.Decision, result risk.ExecutionResult) {
	if d.deps.Emit == nil {
		return
	}
	d.deps.Emit.Emit("signals", bar.BarID, map[string]any{"bar_ts_ms": bar.TsMs, "direction": decision.Direction, "alpha": decision.Alpha})
	d.deps.Emit.Emit("ensemble_log", bar.BarID, map[string]any{"bar_ts_ms": bar.TsMs, "mode": decision.Details.Mode, "arm": decision.Details.ChosenArm})
	d.deps.Emit.Emit("order_intent", bar.BarID, map[string]any{"bar_ts_ms": bar.TsMs, "direction": guarded.Direction, "alpha": guarded.Alpha, "mode": guarded.Mode, "details": guarded.Details})
	if result.Executed {
		d.deps.Emit.Emit("execution", bar.BarID, map[string]any{
			"bar_ts_ms": bar.TsMs, "side": result.Side, "qty": result.Qty, "price": result.Price,
			"fee": result.Fee, "impact": result.Impact,
		})
	}
	snap := d.deps.Health.Snapshot()
	d.deps.Emit.Emit("health", bar.BarID, map[string]any{
		"bar_ts_ms": bar.TsMs, "sharpe": snap.Sharpe, "max_drawdown": snap.MaxDrawdown,
		"in_band_share": snap.InBandShare, "hit_rate": snap.HitRate, "turnover": snap.Turnover,
	})
}
