package risk

import (
	"math"
	"time"
)

// DayBoundary selects which midnight the daily-stop tracker resets on.
type DayBoundary string

const (
	DayBoundaryUTC DayBoundary = "utc"
	DayBoundaryIST DayBoundary = "ist"
)

const istOffset = 5*time.Hour + 30*time.Minute

// Config tunes position sizing, costs, and risk limits for one symbol.
type Config struct {
	SigmaTarget          float64
	PosMax               float64
	CooldownBars         int
	RealizedVolWindow    int
	BarMinutes           float64
	BaseNotional         float64
	VolFloor             float64
	AdvCapPct            float64 // percent (0-100) of adv20_usd per trade
	RebalanceMinPosDelta float64
	DailyStopDDPct       float64
	DailyStopBoundary    DayBoundary
	WarmupSkipBars       int

	CostBps      float64
	SlippageBps  float64
	ImpactK      float64

	EnableForcedExits       bool
	MaxPositionDurationBars int64
	StopLossBps             float64
	TakeProfitBps           float64

	PassiveFillFraction float64 // fraction of displayed top-of-book size filled passively, default 0.25
}

// DefaultConfig mirrors the reference paper-trading defaults.
func DefaultConfig() Config {
	return Config{
		SigmaTarget:             0.20,
		PosMax:                  1.0,
		CooldownBars:            1,
		RealizedVolWindow:       50,
		BarMinutes:              5.0,
		BaseNotional:            5000.0,
		DailyStopBoundary:       DayBoundaryUTC,
		CostBps:                 5.0,
		EnableForcedExits:       true,
		MaxPositionDurationBars: 288,
		StopLossBps:             200.0,
		TakeProfitBps:           300.0,
		PassiveFillFraction:     0.25,
	}
}

// Executor holds one symbol's paper-trading state: sizing, the
// simulated book, exchange precision filters, cooldown/warmup/daily-
// stop bookkeeping, and open-position entry tracking for forced exits.
type Executor struct {
	cfg     Config
	sizer   *Sizer
	book    PaperBook
	filters ExchangeFilters

	pos             float64
	barsSeen        int64
	cooldownUntilMs int64

	entryBar   int64
	entryPrice float64
	haveEntry  bool

	peakEquity   float64
	dayKey       string
	dailyStopped bool
}

// NewExecutor constructs an Executor around cfg.
func NewExecutor(cfg Config, filters ExchangeFilters) *Executor {
	return &Executor{
		cfg:     cfg,
		sizer:   NewSizer(cfg.RealizedVolWindow, cfg.BarMinutes, cfg.SigmaTarget, cfg.PosMax, cfg.VolFloor),
		filters: filters,
	}
}

// UpdateReturns feeds one bar's close-to-close return into the sizer.
func (e *Executor) UpdateReturns(prevClose, newClose float64) {
	e.sizer.UpdateReturns(prevClose, newClose)
}

// Position returns the executor's current signed position fraction.
func (e *Executor) Position() float64 { return e.pos }

// Book returns the current simulated paper book state.
func (e *Executor) Book() PaperBook { return e.book }

// InCooldown reports whether nowMs falls within the post-execution
// cooldown window.
func (e *Executor) InCooldown(nowMs int64) bool {
	return nowMs < e.cooldownUntilMs
}

// SetCooldown arms the cooldown window from the bar close time.
func (e *Executor) SetCooldown(lastCloseMs int64) {
	barMs := math.Max(1.0, e.cfg.BarMinutes) * 60000.0
	e.cooldownUntilMs = lastCloseMs + int64(float64(e.cfg.CooldownBars)*barMs)
}

// InWarmup reports whether the engine is still inside the
// warmup_skip_bars window, during which all rebalances go flat.
func (e *Executor) InWarmup() bool {
	return e.barsSeen < int64(e.cfg.WarmupSkipBars)
}

// AdvanceBar increments the bar counter that InWarmup reads. Call once
// per bar. Forced-exit duration tracking does not use this counter; it
// is measured from the currentBar argument of ExecuteMarket.
func (e *Executor) AdvanceBar() {
	e.barsSeen++
}

// TargetPosition sizes a target position fraction for the given
// direction/alpha via the embedded Sizer.
func (e *Executor) TargetPosition(direction int, alpha float64) float64 {
	return e.sizer.TargetPosition(direction, alpha)
}

// ExitCheck reports a forced exit and its reason, if any of the
// configured exit conditions are met for the current open position.
type ExitCheck struct {
	ShouldClose bool
	Reason      string
}

// CheckForcedExit evaluates model-reversal, max-duration, stop-loss,
// and take-profit exit conditions against the currently open position.
// confidence and alpha come from the bar's combined Decision.
func (e *Executor) CheckForcedExit(currentBar int64, currentPrice float64, decisionDir int, alpha, confidence, exitConfMin, exitAlphaMin float64) ExitCheck {
	if !e.cfg.EnableForcedExits {
		return ExitCheck{}
	}
	if math.Abs(e.pos) < 1e-9 {
		return ExitCheck{}
	}

	if e.pos > 0 && decisionDir == -1 && (confidence >= exitConfMin || alpha >= exitAlphaMin) {
		return ExitCheck{ShouldClose: true, Reason: "model_reversal_long_to_short"}
	}
	if e.pos < 0 && decisionDir == 1 && (confidence >= exitConfMin || alpha >= exitAlphaMin) {
		return ExitCheck{ShouldClose: true, Reason: "model_reversal_short_to_long"}
	}

	if e.haveEntry && e.cfg.MaxPositionDurationBars > 0 {
		barsHeld := currentBar - e.entryBar
		if barsHeld >= e.cfg.MaxPositionDurationBars {
			return ExitCheck{ShouldClose: true, Reason: "max_duration"}
		}
	}

	if e.haveEntry && e.entryPrice > 0 && currentPrice > 0 {
		var pnlBps float64
		if e.pos > 0 {
			pnlBps = (currentPrice - e.entryPrice) / e.entryPrice * 10000.0
		} else {
			pnlBps = (e.entryPrice - currentPrice) / e.entryPrice * 10000.0
		}
		if e.cfg.StopLossBps > 0 && pnlBps < -e.cfg.StopLossBps {
			return ExitCheck{ShouldClose: true, Reason: "stop_loss"}
		}
		if e.cfg.TakeProfitBps > 0 && pnlBps > e.cfg.TakeProfitBps {
			return ExitCheck{ShouldClose: true, Reason: "take_profit"}
		}
	}

	return ExitCheck{}
}

// trackPosition updates entry-bar/entry-price bookkeeping whenever the
// signed position opens, closes, flips, or is added to.
func (e *Executor) trackPosition(newPos float64, currentBar int64, currentPrice float64) {
	oldPos := e.pos
	e.pos = newPos

	opened := math.Abs(newPos) > math.Abs(oldPos)+1e-9
	closed := math.Abs(newPos) < 1e-9
	flipped := (oldPos > 0 && newPos < 0) || (oldPos < 0 && newPos > 0)

	switch {
	case closed:
		e.haveEntry = false
	case opened || flipped:
		e.entryBar = currentBar
		e.entryPrice = currentPrice
		e.haveEntry = true
	}
}

// ExecutionResult is what one rebalance attempt produced, dry-run
// paper-simulated throughout.
type ExecutionResult struct {
	Executed     bool
	Side         Side
	Qty          float64
	Price        float64
	MidPrice     float64
	TargetQty    float64
	DeltaQty     float64
	PassiveQty   float64
	CrossQty     float64
	Fee          float64
	Impact       float64
	RealizedPnL  float64
	UnrealizedPnL float64
}

// ExecuteMarket rebalances toward targetPos with a single simulated
// market order, applying slippage, fees, and impact. The quantity to
// trade is measured against the paper book's own quantity (book.Qty),
// which is the source of truth for a paper run.
func (e *Executor) ExecuteMarket(targetPos, lastPrice, adv20USD float64, currentBar int64) ExecutionResult {
	if math.Abs(targetPos-e.pos) < math.Max(0, e.cfg.RebalanceMinPosDelta) {
		return ExecutionResult{}
	}

	baseNotional := math.Max(1e-6, e.cfg.BaseNotional)
	targetQty := targetPos * baseNotional / math.Max(1e-6, lastPrice)
	exchQty := e.book.Qty
	deltaQty := targetQty - exchQty
	if math.Abs(deltaQty) < 1e-9 {
		e.trackPosition(targetPos, currentBar, lastPrice)
		return ExecutionResult{}
	}

	side := SideBuy
	if deltaQty < 0 {
		side = SideSell
	}
	qty := e.filters.ClampQty(math.Abs(deltaQty), lastPrice)
	qty = e.applyADVCap(qty, lastPrice, adv20USD)
	if qty <= 0 {
		e.trackPosition(targetPos, currentBar, lastPrice)
		return ExecutionResult{}
	}

	effPrice := ApplySlippage(side, lastPrice, e.cfg.SlippageBps)
	sim := e.book.SimulateTrade(side, qty, effPrice, e.cfg.CostBps, e.cfg.ImpactK)
	e.trackPosition(targetPos, currentBar, lastPrice)

	return ExecutionResult{
		Executed:      true,
		Side:          side,
		Qty:           qty,
		Price:         effPrice,
		MidPrice:      lastPrice,
		TargetQty:     targetQty,
		DeltaQty:      deltaQty,
		Fee:           sim.Fee,
		Impact:        sim.Impact,
		RealizedPnL:   sim.RealizedPnL,
		UnrealizedPnL: sim.UnrealizedPnL,
	}
}

// BookQuote is the top-of-book state used for passive-then-cross fills.
type BookQuote struct {
	Bid, Ask       float64
	BidQty, AskQty float64
}

// ExecutePassiveThenCross rests up to PassiveFillFraction of the
// displayed top-of-book size as a passive fill, crossing the remainder
// at lastPrice with slippage applied.
func (e *Executor) ExecutePassiveThenCross(targetPos, lastPrice, adv20USD float64, book BookQuote, currentBar int64) ExecutionResult {
	if math.Abs(targetPos-e.pos) < math.Max(0, e.cfg.RebalanceMinPosDelta) {
		return ExecutionResult{}
	}

	baseNotional := math.Max(1e-6, e.cfg.BaseNotional)
	targetQty := targetPos * baseNotional / math.Max(1e-6, lastPrice)
	exchQty := e.book.Qty
	deltaQty := targetQty - exchQty
	if math.Abs(deltaQty) < 1e-9 {
		e.trackPosition(targetPos, currentBar, lastPrice)
		return ExecutionResult{}
	}

	side := SideBuy
	if deltaQty < 0 {
		side = SideSell
	}
	qty := e.filters.ClampQty(math.Abs(deltaQty), lastPrice)
	qty = e.applyADVCap(qty, lastPrice, adv20USD)
	if qty <= 0 {
		e.trackPosition(targetPos, currentBar, lastPrice)
		return ExecutionResult{}
	}

	var passivePx, bookQty float64
	if side == SideBuy {
		passivePx, bookQty = book.Bid, math.Max(0, book.BidQty)
	} else {
		passivePx, bookQty = book.Ask, math.Max(0, book.AskQty)
	}
	if passivePx == 0 {
		passivePx = lastPrice
	}

	fraction := e.cfg.PassiveFillFraction
	if fraction <= 0 {
		fraction = 0.25
	}
	passiveCap := fraction * bookQty
	passiveQty := math.Min(qty, passiveCap)

	var totalFee, totalImpact, weightedNumer, totalExecQty float64
	if passiveQty > 0 {
		sim := e.book.SimulateTrade(side, passiveQty, passivePx, e.cfg.CostBps, e.cfg.ImpactK)
		totalFee += sim.Fee
		totalImpact += sim.Impact
		weightedNumer += passiveQty * passivePx
		totalExecQty += passiveQty
	}

	crossQty := math.Max(0, qty-passiveQty)
	var sim TradeResult
	if crossQty > 0 {
		effCrossPx := ApplySlippage(side, lastPrice, e.cfg.SlippageBps)
		sim = e.book.SimulateTrade(side, crossQty, effCrossPx, e.cfg.CostBps, e.cfg.ImpactK)
		totalFee += sim.Fee
		totalImpact += sim.Impact
		weightedNumer += crossQty * effCrossPx
		totalExecQty += crossQty
	}

	e.trackPosition(targetPos, currentBar, lastPrice)

	avgPx := lastPrice
	if totalExecQty > 0 {
		avgPx = weightedNumer / totalExecQty
	}

	return ExecutionResult{
		Executed:      true,
		Side:          side,
		Qty:           qty,
		Price:         avgPx,
		MidPrice:      lastPrice,
		TargetQty:     targetQty,
		DeltaQty:      deltaQty,
		PassiveQty:    passiveQty,
		CrossQty:      crossQty,
		Fee:           totalFee,
		Impact:        totalImpact,
		RealizedPnL:   e.book.RealizedPnL,
		UnrealizedPnL: sim.UnrealizedPnL,
	}
}

func (e *Executor) applyADVCap(qty, price, adv20USD float64) float64 {
	if e.cfg.AdvCapPct <= 0 || adv20USD <= 0 {
		return qty
	}
	maxNotional := adv20USD * (e.cfg.AdvCapPct / 100.0)
	tradeNotional := qty * price
	if tradeNotional > maxNotional && maxNotional > 0 {
		return maxNotional / math.Max(1e-6, price)
	}
	return qty
}

// DailyStopCheck tracks session peak equity and reports whether the
// daily drawdown limit has been breached. equity is the caller's
// current mark-to-market equity (realized + unrealized PnL, or an
// account-level equivalent); tsMs is the current bar's timestamp.
func (e *Executor) DailyStopCheck(equity float64, tsMs int64) bool {
	if e.cfg.DailyStopDDPct <= 0 {
		return false
	}

	key := dayKey(tsMs, e.cfg.DailyStopBoundary)
	if key != e.dayKey {
		e.dayKey = key
		e.peakEquity = equity
		e.dailyStopped = false
	}
	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	if e.peakEquity <= 0 {
		return e.dailyStopped
	}
	drawdownPct := (e.peakEquity - equity) / e.peakEquity * 100.0
	if drawdownPct > e.cfg.DailyStopDDPct {
		e.dailyStopped = true
	}
	return e.dailyStopped
}

func dayKey(tsMs int64, boundary DayBoundary) string {
	t := time.UnixMilli(tsMs).UTC()
	if boundary == DayBoundaryIST {
		t = t.Add(istOffset)
	}
	return t.Format("2006-01-02")
}
