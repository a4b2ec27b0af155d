package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScenario1VolatilityTargeting(t *testing.T) {
	tgt := TargetPositionFromVol(0.2, 1.0, 0, 1, 0.8, 1.0)
	assert.InDelta(t, 0.16, tgt, 1e-9)

	// A vol guard scaling the sized position to half its computed value
	// (e.g. a regime-aware throttle) halves the target again.
	scaled := tgt * 0.5
	assert.InDelta(t, 0.08, scaled, 1e-9)
}

func TestSizerTargetPositionZeroWithoutWarmup(t *testing.T) {
	s := NewSizer(50, 5, 0.20, 1.0, 0)
	assert.Equal(t, 0.0, s.TargetPosition(1, 0.5))
}

func TestSizerTargetPositionUsesVolFloor(t *testing.T) {
	s := NewSizer(50, 5, 0.20, 1.0, 0.10)
	tgt := s.TargetPosition(1, 0.5)
	assert.Greater(t, tgt, 0.0)
}

func TestSizerTargetPositionClampsToPosMax(t *testing.T) {
	s := NewSizer(50, 5, 100.0, 0.5, 0.001)
	tgt := s.TargetPosition(1, 1.0)
	assert.InDelta(t, 0.5, tgt, 1e-9)
}

func TestSizerRealizedVolFromReturns(t *testing.T) {
	s := NewSizer(10, 5, 0.2, 1.0, 0)
	price := 100.0
	for i := 0; i < 5; i++ {
		next := price * 1.01
		s.UpdateReturns(price, next)
		price = next
	}
	assert.Greater(t, s.RealizedVol(), 0.0)
}

func TestClampQtyWidensToMinNotional(t *testing.T) {
	f := ExchangeFilters{MinNotional: 100, StepSize: 0.001}
	q := f.ClampQty(0.0001, 50) // notional would be 0.005, needs 2.0 at min notional
	assert.GreaterOrEqual(t, q*50, 100.0-1e-6)
}

func TestClampQtyPreservesSign(t *testing.T) {
	f := ExchangeFilters{StepSize: 0.01}
	q := f.ClampQty(-1.234, 100)
	assert.Less(t, q, 0.0)
}

func TestPaperBookSimulatesSameSideAverage(t *testing.T) {
	b := &PaperBook{}
	r1 := b.SimulateTrade(SideBuy, 1.0, 100, 5, 0)
	assert.InDelta(t, 100, r1.AvgPx, 1e-9)
	r2 := b.SimulateTrade(SideBuy, 1.0, 200, 5, 0)
	assert.InDelta(t, 150, r2.AvgPx, 1e-9)
}

func TestPaperBookRealizesOnClose(t *testing.T) {
	b := &PaperBook{}
	b.SimulateTrade(SideBuy, 2.0, 100, 0, 0)
	r := b.SimulateTrade(SideSell, 2.0, 110, 0, 0)
	assert.InDelta(t, 20.0, r.RealizedPnL, 1e-9) // 2 * (110-100)
}

func TestExecutorWarmupWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupSkipBars = 3
	e := NewExecutor(cfg, ExchangeFilters{})
	assert.True(t, e.InWarmup())
	e.AdvanceBar()
	e.AdvanceBar()
	e.AdvanceBar()
	assert.False(t, e.InWarmup())
}

func TestExecutorCooldownWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownBars = 2
	cfg.BarMinutes = 5
	e := NewExecutor(cfg, ExchangeFilters{})
	e.SetCooldown(1_000_000)
	assert.True(t, e.InCooldown(1_000_000+60_000))
	assert.False(t, e.InCooldown(1_000_000+601_000))
}

func TestExecutorForcedExitOnModelReversal(t *testing.T) {
	cfg := DefaultConfig()
	e := NewExecutor(cfg, ExchangeFilters{})
	e.pos = 0.5
	e.haveEntry = true
	e.entryBar = 0
	e.entryPrice = 100

	check := e.CheckForcedExit(1, 100, -1, 0.5, 0.5, 0.40, 0.30)
	assert.True(t, check.ShouldClose)
	assert.Equal(t, "model_reversal_long_to_short", check.Reason)
}

func TestExecutorForcedExitOnStopLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossBps = 100
	e := NewExecutor(cfg, ExchangeFilters{})
	e.pos = 0.5
	e.haveEntry = true
	e.entryBar = 0
	e.entryPrice = 100

	check := e.CheckForcedExit(1, 98.9, 1, 0.1, 0.1, 0.40, 0.30) // -110bps move
	assert.True(t, check.ShouldClose)
	assert.Equal(t, "stop_loss", check.Reason)
}

func TestExecutorForcedExitOnMaxDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionDurationBars = 10
	e := NewExecutor(cfg, ExchangeFilters{})
	e.pos = 0.5
	e.haveEntry = true
	e.entryBar = 0
	e.entryPrice = 100

	check := e.CheckForcedExit(10, 100, 1, 0.1, 0.1, 0.40, 0.30)
	assert.True(t, check.ShouldClose)
	assert.Equal(t, "max_duration", check.Reason)
}

func TestExecutorNoForcedExitWhenFlat(t *testing.T) {
	cfg := DefaultConfig()
	e := NewExecutor(cfg, ExchangeFilters{})
	check := e.CheckForcedExit(100, 100, -1, 0.9, 0.9, 0.40, 0.30)
	assert.False(t, check.ShouldClose)
}

func TestExecuteMarketSkipsTinyRebalance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RebalanceMinPosDelta = 0.10
	e := NewExecutor(cfg, ExchangeFilters{})
	result := e.ExecuteMarket(0.01, 100, 0, 1)
	assert.False(t, result.Executed)
}

func TestExecuteMarketOpensPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseNotional = 10000
	e := NewExecutor(cfg, ExchangeFilters{})
	result := e.ExecuteMarket(0.5, 100, 0, 1)
	assert.True(t, result.Executed)
	assert.Equal(t, SideBuy, result.Side)
	assert.InDelta(t, 0.5, e.Position(), 1e-9)
}

func TestExecuteMarketAppliesADVCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseNotional = 1_000_000
	cfg.AdvCapPct = 1.0 // 1% of adv20
	e := NewExecutor(cfg, ExchangeFilters{})
	result := e.ExecuteMarket(1.0, 100, 100_000, 1) // cap = 1000 usd -> 10 qty
	assert.True(t, result.Executed)
	assert.LessOrEqual(t, result.Qty*100, 1000.0+1e-6)
}

func TestExecutePassiveThenCrossSplitsFill(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseNotional = 10000
	cfg.PassiveFillFraction = 0.25
	e := NewExecutor(cfg, ExchangeFilters{})
	book := BookQuote{Bid: 99, Ask: 100, BidQty: 1000, AskQty: 1000}
	result := e.ExecutePassiveThenCross(0.5, 100, 0, book, 1)
	assert.True(t, result.Executed)
	assert.Greater(t, result.PassiveQty, 0.0)
	assert.Equal(t, result.Qty, result.PassiveQty+result.CrossQty)
}

func TestDailyStopTripsOnDrawdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyStopDDPct = 5.0
	e := NewExecutor(cfg, ExchangeFilters{})
	tsMs := int64(1_700_000_000_000)

	assert.False(t, e.DailyStopCheck(1000, tsMs))
	assert.True(t, e.DailyStopCheck(940, tsMs+1000)) // 6% drawdown from peak 1000
}

func TestDailyStopResetsAtDayBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyStopDDPct = 5.0
	cfg.DailyStopBoundary = DayBoundaryUTC
	e := NewExecutor(cfg, ExchangeFilters{})

	day1 := int64(1_700_000_000_000)
	day2 := day1 + 86_400_000

	assert.False(t, e.DailyStopCheck(1000, day1))
	assert.True(t, e.DailyStopCheck(900, day1+1000))
	assert.False(t, e.DailyStopCheck(900, day2)) // new day resets peak to current equity
}
