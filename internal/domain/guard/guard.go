// Package guard implements the pre-trade guard chain: an ordered series
// of independent checks, each able to neutralize a directional decision
// before it reaches the executor. The first guard that fires wins; a
// neutralized decision carries the firing guard's reason code plus
// diagnostic details and is never overridden by a later guard.
package guard

// Reason codes, identical to the ones the model-runtime side already
// emits on a Signal so the log emitter can key off one enum family.
const (
	ReasonSpread               = "spread_guard"
	ReasonFunding              = "funding_guard"
	ReasonMinSignFlip          = "min_sign_flip"
	ReasonDeltaPiMin           = "delta_pi_min"
	ReasonImpactGuard          = "impact_guard"
	ReasonImpactCritical       = "impact_critical"
	ReasonNetEdgeInsufficient  = "net_edge_insufficient"
	ReasonThrottle             = "throttle_guard"
	ReasonAdvOrderCap          = "adv_order_cap"
	ReasonAdvHourCap           = "adv_hour_cap"
	ReasonCalibrationBandGate  = "calibration_band_gate"
)

// BookTicker is the top-of-book quote used by the spread guard.
type BookTicker struct {
	Bid float64
	Ask float64
}

// Config tunes every guard in the chain. A zero value for a guard's
// threshold disables that guard (it never fires), with two exceptions:
// with FundingGuardBias 0 the funding guard fires on any non-zero
// funding rate whose sign matches the direction, and the net-edge guard
// is switched by EnableNetEdgeGating alone, so with MinNetEdgeBps 0 it
// still fires on a negative net edge.
type Config struct {
	MaxSpreadBps     float64
	FundingGuardBias float64
	MinSignFlipGapS  int
	DeltaPiMinBps    float64
	MaxImpactBps     float64 // soft cap
	MaxImpactBpsHard float64 // hard veto
	MinNetEdgeBps    float64
	EnableNetEdgeGating bool
	MaxOrdersPerSec  int
	AdvOrderCap      float64 // fraction of adv20_usd
	AdvHourCap       float64 // fraction of adv20_usd
	BandBps          float64 // calibration band

	ImpactK      float64
	BaseNotional float64
	CostBps      float64
	SlippageBps  float64
}

// Context carries the per-evaluation market and book state the guard
// chain needs. TargetPos is the sizing engine's proposed target
// position fraction for this bar's decision, computed upstream.
type Context struct {
	TsMs        int64
	BookTicker  *BookTicker
	FundingRate *float64
	LastPrice   *float64
	CurrentPos  float64
	TargetPos   float64
	PredCalBps  float64
	Adv20USD    float64
}

// Decision is the guard chain's input/output: a directional call plus
// whatever details have accumulated from earlier pipeline stages.
type Decision struct {
	Direction int
	Alpha     float64
	Mode      string
	Details   map[string]any
}

func cloneDetails(d map[string]any) map[string]any {
	out := make(map[string]any, len(d)+4)
	for k, v := range d {
		out[k] = v
	}
	return out
}

func neutralize(d Decision, reason string, diagnostics map[string]any) Decision {
	details := cloneDetails(d.Details)
	details["mode"] = reason
	for k, v := range diagnostics {
		details[k] = v
	}
	return Decision{Direction: 0, Alpha: 0, Mode: reason, Details: details}
}

// Chain holds the temporal state a handful of guards need across bars:
// order-attempt timestamps for the 1s throttle window, executed
// notionals for the 1h ADV window, and the last position-sign flip.
type Chain struct {
	cfg Config

	orderTimesMs []int64
	hourExecs    []hourExec

	flipLastSign int
	flipLastTsMs int64
}

type hourExec struct {
	tsMs     int64
	notional float64
}

// NewChain constructs a guard chain around cfg.
func NewChain(cfg Config) *Chain {
	return &Chain{cfg: cfg}
}

// NotifyOrderAttempt records an order attempt for the 1s throttle
// window. Call this whenever the chain allows a non-neutral decision
// through to the executor.
func (c *Chain) NotifyOrderAttempt(tsMs int64) {
	c.pruneOrders1s(tsMs)
	c.orderTimesMs = append(c.orderTimesMs, tsMs)
}

// PostExecutionUpdate records an executed notional for the 1h ADV
// window and updates flip-timing state from the resulting position
// sign. Call this after the executor reports a fill.
func (c *Chain) PostExecutionUpdate(executedNotional float64, tsMs int64, newPos float64) {
	c.pruneHourExecs(tsMs)
	if executedNotional > 0 {
		c.hourExecs = append(c.hourExecs, hourExec{tsMs: tsMs, notional: executedNotional})
	}

	newSign := 0
	if newPos > 0 {
		newSign = 1
	} else if newPos < 0 {
		newSign = -1
	}
	if c.flipLastSign != 0 && newSign != 0 && newSign != c.flipLastSign {
		c.flipLastTsMs = tsMs
	}
	if newSign != 0 {
		c.flipLastSign = newSign
	}
}

func (c *Chain) pruneOrders1s(nowMs int64) {
	cutoff := nowMs - 1000
	i := 0
	for i < len(c.orderTimesMs) && c.orderTimesMs[i] < cutoff {
		i++
	}
	c.orderTimesMs = c.orderTimesMs[i:]
}

func (c *Chain) pruneHourExecs(nowMs int64) {
	cutoff := nowMs - 3600_000
	i := 0
	for i < len(c.hourExecs) && c.hourExecs[i].tsMs < cutoff {
		i++
	}
	c.hourExecs = c.hourExecs[i:]
}

// estimateImpact computes the guard chain's shared impact estimate:
// impact_bps = impact_k * qty^2 * price / notional * 10000, where
// notional = |target - current| * base_notional and qty = notional/price.
func (c *Chain) estimateImpact(posDeltaFrac, price float64) (estNotional, estQty, impactBps float64) {
	estNotional = posDeltaFrac * maxf(1e-6, c.cfg.BaseNotional)
	estQty = estNotional / maxf(1e-6, price)
	if estNotional <= 0 {
		return estNotional, estQty, 0
	}
	impactEst := c.cfg.ImpactK * estQty * estQty * price
	impactBps = impactEst / estNotional * 10000.0
	return estNotional, estQty, impactBps
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absf(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

// Evaluate runs every configured guard in spec order against d and ctx,
// returning the first neutralizing result or d unchanged if every guard
// passes. Guards that require dir != 0 are skipped entirely when the
// decision is already neutral.
func (c *Chain) Evaluate(d Decision, ctx Context) Decision {
	if d.Direction == 0 {
		return d
	}

	if out, fired := c.spreadGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.fundingGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.minSignFlipGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.deltaPiMinGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.impactSoftCapGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.impactHardVetoGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.netEdgeGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.throttleGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.advOrderCapGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.advHourCapGuard(d, ctx); fired {
		return out
	}
	if out, fired := c.calibrationBandGuard(d, ctx); fired {
		return out
	}
	return d
}

func (c *Chain) spreadGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.MaxSpreadBps <= 0 || ctx.BookTicker == nil {
		return d, false
	}
	bid, ask := ctx.BookTicker.Bid, ctx.BookTicker.Ask
	mid := 0.5 * (bid + ask)
	spreadBps := 10000.0 * (ask - bid) / maxf(1e-9, mid)
	if spreadBps > c.cfg.MaxSpreadBps {
		return neutralize(d, ReasonSpread, map[string]any{"spread_bps": spreadBps}), true
	}
	return d, false
}

func (c *Chain) fundingGuard(d Decision, ctx Context) (Decision, bool) {
	if ctx.FundingRate == nil {
		return d, false
	}
	fr := *ctx.FundingRate
	if absf(fr) <= c.cfg.FundingGuardBias {
		return d, false
	}
	sign := 1
	if fr < 0 {
		sign = -1
	}
	if sign != d.Direction {
		return d, false
	}
	return neutralize(d, ReasonFunding, map[string]any{"funding": fr}), true
}

func (c *Chain) minSignFlipGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.MinSignFlipGapS <= 0 {
		return d, false
	}
	newSign := 1
	if d.Direction < 0 {
		newSign = -1
	}
	if c.flipLastSign == 0 || newSign == c.flipLastSign || c.flipLastTsMs <= 0 {
		return d, false
	}
	gapMs := int64(c.cfg.MinSignFlipGapS) * 1000
	if ctx.TsMs-c.flipLastTsMs < gapMs {
		return neutralize(d, ReasonMinSignFlip, map[string]any{"gap_s": c.cfg.MinSignFlipGapS}), true
	}
	return d, false
}

func (c *Chain) deltaPiMinGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.DeltaPiMinBps <= 0 {
		return d, false
	}
	fracMin := c.cfg.DeltaPiMinBps / 10000.0
	if absf(ctx.TargetPos-ctx.CurrentPos) < fracMin {
		return neutralize(d, ReasonDeltaPiMin, map[string]any{"delta_pi_min_bps": c.cfg.DeltaPiMinBps}), true
	}
	return d, false
}

func (c *Chain) impactSoftCapGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.MaxImpactBps <= 0 || c.cfg.ImpactK <= 0 || ctx.LastPrice == nil {
		return d, false
	}
	posDeltaFrac := absf(ctx.TargetPos - ctx.CurrentPos)
	_, _, impactBps := c.estimateImpact(posDeltaFrac, *ctx.LastPrice)
	if impactBps > c.cfg.MaxImpactBps {
		return neutralize(d, ReasonImpactGuard, map[string]any{
			"est_impact_bps": impactBps,
			"max_impact_bps": c.cfg.MaxImpactBps,
		}), true
	}
	return d, false
}

func (c *Chain) impactHardVetoGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.MaxImpactBpsHard <= 0 || c.cfg.ImpactK <= 0 || ctx.LastPrice == nil {
		return d, false
	}
	posDeltaFrac := absf(ctx.TargetPos - ctx.CurrentPos)
	estNotional, estQty, impactBps := c.estimateImpact(posDeltaFrac, *ctx.LastPrice)
	if impactBps > c.cfg.MaxImpactBpsHard {
		return neutralize(d, ReasonImpactCritical, map[string]any{
			"impact_bps_est":       impactBps,
			"max_impact_bps_hard":  c.cfg.MaxImpactBpsHard,
			"est_notional":         estNotional,
			"est_qty":              estQty,
		}), true
	}
	return d, false
}

func (c *Chain) netEdgeGuard(d Decision, ctx Context) (Decision, bool) {
	if !c.cfg.EnableNetEdgeGating {
		return d, false
	}
	signalBps := d.Alpha * 10000.0

	impactBps := 0.0
	if c.cfg.ImpactK > 0 && ctx.LastPrice != nil {
		posDeltaFrac := absf(ctx.TargetPos - ctx.CurrentPos)
		_, _, impactBps = c.estimateImpact(posDeltaFrac, *ctx.LastPrice)
	}
	totalCostBps := c.cfg.CostBps + c.cfg.SlippageBps + impactBps
	netEdgeBps := signalBps - totalCostBps

	if netEdgeBps < c.cfg.MinNetEdgeBps {
		return neutralize(d, ReasonNetEdgeInsufficient, map[string]any{
			"net_edge_bps":       netEdgeBps,
			"estimated_cost_bps": totalCostBps,
			"signal_strength_bps": signalBps,
			"min_net_edge_bps":   c.cfg.MinNetEdgeBps,
		}), true
	}
	// Passed: stash the computation for downstream logging even though
	// the decision survives unchanged.
	details := cloneDetails(d.Details)
	details["net_edge_bps"] = netEdgeBps
	details["estimated_cost_bps"] = totalCostBps
	details["signal_strength_bps"] = signalBps
	d.Details = details
	return d, false
}

func (c *Chain) throttleGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.MaxOrdersPerSec <= 0 {
		return d, false
	}
	c.pruneOrders1s(ctx.TsMs)
	if int64(len(c.orderTimesMs)) >= int64(c.cfg.MaxOrdersPerSec) {
		return neutralize(d, ReasonThrottle, map[string]any{"max_orders_per_sec": c.cfg.MaxOrdersPerSec}), true
	}
	return d, false
}

func (c *Chain) advOrderCapGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.AdvOrderCap <= 0 || ctx.Adv20USD <= 0 {
		return d, false
	}
	posDeltaFrac := absf(ctx.TargetPos - ctx.CurrentPos)
	estNotional := posDeltaFrac * maxf(1e-6, c.cfg.BaseNotional)
	capUSD := ctx.Adv20USD * c.cfg.AdvOrderCap
	if estNotional > capUSD {
		return neutralize(d, ReasonAdvOrderCap, map[string]any{"est_usd": estNotional, "cap_usd": capUSD}), true
	}
	return d, false
}

func (c *Chain) advHourCapGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.AdvHourCap <= 0 || ctx.Adv20USD <= 0 || ctx.LastPrice == nil {
		return d, false
	}
	c.pruneHourExecs(ctx.TsMs)
	used := 0.0
	for _, e := range c.hourExecs {
		used += e.notional
	}
	capUSD := ctx.Adv20USD * c.cfg.AdvHourCap
	posDeltaFrac := absf(ctx.TargetPos - ctx.CurrentPos)
	estNotional := posDeltaFrac * maxf(1e-6, c.cfg.BaseNotional)
	if used+estNotional > capUSD {
		return neutralize(d, ReasonAdvHourCap, map[string]any{"used_usd": used, "cap_usd": capUSD}), true
	}
	return d, false
}

func (c *Chain) calibrationBandGuard(d Decision, ctx Context) (Decision, bool) {
	if c.cfg.BandBps <= 0 {
		return d, false
	}
	if absf(ctx.PredCalBps) <= c.cfg.BandBps {
		return neutralize(d, ReasonCalibrationBandGate, map[string]any{
			"pred_cal_bps": ctx.PredCalBps,
			"band_bps":     c.cfg.BandBps,
		}), true
	}
	return d, false
}
