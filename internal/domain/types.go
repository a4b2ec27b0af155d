// Package domain holds the core value types shared by every stage of the
// per-bar pipeline: accumulation, feature computation, prediction, signal
// combination, sizing, and execution. Types here are immutable once
// constructed except where the invariant explicitly allows mutation
// (Position, BanditState).
package domain

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrHighLowViolation  = errors.New("domain: high/low ordering violated")
	ErrNonMonotonicBar   = errors.New("domain: bar timestamp not strictly increasing")
	ErrFeatureDimMismatch = errors.New("domain: feature vector length does not match schema")
	ErrProbabilitySum    = errors.New("domain: prediction probabilities do not sum to 1")
)

// Side is the direction of a fill or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderSide is the richer three-way side used on an OrderIntent.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
	OrderHold OrderSide = "HOLD"
)

// FillSource distinguishes user-attributable fills from public tape fills.
type FillSource string

const (
	FillSourceUser   FillSource = "user"
	FillSourcePublic FillSource = "public"
)

// Bar is an immutable OHLCV candle closed at TsMs.
type Bar struct {
	TsMs      int64
	BarID     int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Funding   *float64
	SpreadBps *float64
	RV1h      *float64
}

// NewBar validates and constructs a Bar, enforcing the OHLC ordering
// invariant. prevTsMs is the TsMs of the prior bar on this timeframe, or 0
// for the first bar.
func NewBar(tsMs, barID int64, open, high, low, close, volume float64, prevTsMs int64) (Bar, error) {
	hi := math.Max(open, close)
	lo := math.Min(open, close)
	if !(high >= hi && hi >= lo && lo >= low) {
		return Bar{}, fmt.Errorf("bar %d (ts=%d): o=%v h=%v l=%v c=%v: %w", barID, tsMs, open, high, low, close, ErrHighLowViolation)
	}
	if prevTsMs != 0 && tsMs <= prevTsMs {
		return Bar{}, fmt.Errorf("bar %d: ts=%d prev=%d: %w", barID, tsMs, prevTsMs, ErrNonMonotonicBar)
	}
	return Bar{
		TsMs:   tsMs,
		BarID:  barID,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}, nil
}

// Fill is a single trade print, either from the user's own order flow or
// from the public tape.
type Fill struct {
	TsMs    int64
	Address string
	Symbol  string
	Side    Side
	Price   float64
	Size    float64
	Source  FillSource
	TID     string
}

// DedupeKey identifies a fill for polling-window deduplication.
func (f Fill) DedupeKey() string {
	return f.Address + "|" + f.TID
}

// FeatureVector is the ordered, fixed-length input to the model. Column
// order must match the loaded feature schema.
type FeatureVector struct {
	Values   []float64
	Schema   []string
	IsWarmed bool
}

// NewFeatureVector validates len(values) == len(schema).
func NewFeatureVector(values []float64, schema []string, barsIngested int) (FeatureVector, error) {
	if len(values) != len(schema) {
		return FeatureVector{}, fmt.Errorf("got %d values, schema wants %d: %w", len(values), len(schema), ErrFeatureDimMismatch)
	}
	return FeatureVector{
		Values:   values,
		Schema:   schema,
		IsWarmed: barsIngested >= 50,
	}, nil
}

// Prediction is the frozen model's three-class probability output plus the
// calibration parameters used to map it into bps.
type Prediction struct {
	PDown    float64
	PNeutral float64
	PUp      float64
	SModel   float64
	A        float64
	B        float64
}

const probSumTolerance = 1e-6

// NewPrediction validates the probability simplex and derives SModel.
func NewPrediction(pDown, pNeutral, pUp, a, b float64) (Prediction, error) {
	if pDown < 0 || pNeutral < 0 || pUp < 0 {
		return Prediction{}, fmt.Errorf("negative probability: down=%v neutral=%v up=%v", pDown, pNeutral, pUp)
	}
	sum := pDown + pNeutral + pUp
	if math.Abs(sum-1.0) > probSumTolerance {
		return Prediction{}, fmt.Errorf("sum=%v: %w", sum, ErrProbabilitySum)
	}
	return Prediction{
		PDown:    pDown,
		PNeutral: pNeutral,
		PUp:      pUp,
		SModel:   pUp - pDown,
		A:        a,
		B:        b,
	}, nil
}

// BpsEdge is the calibrated prediction expressed in basis points.
func (p Prediction) BpsEdge() float64 {
	return 10000.0 * (p.A + p.B*p.SModel)
}

// Signal is one timeframe's directional opinion for the current bar.
type Signal struct {
	Direction  int
	Alpha      float64
	Confidence float64
	Timeframe  string
	BarID      int64
}

// OverlayDetails records which combiner path and bandit arm produced a
// Decision, for audit/replay.
type OverlayDetails struct {
	Mode          string
	ChosenArm     string
	BanditWeights map[string]float64
	Overlay       map[string]any
}

// Decision is the combined, arm-selected directional call for the bar.
type Decision struct {
	Direction int
	Alpha     float64
	Details   OverlayDetails
}

// NewDecision enforces direction=0 => alpha=0.
func NewDecision(direction int, alpha float64, details OverlayDetails) Decision {
	if direction == 0 {
		alpha = 0
	}
	return Decision{Direction: direction, Alpha: alpha, Details: details}
}

// Position is the paper book's signed exposure in a single symbol.
type Position struct {
	Target      float64 // signed fraction in [-PosMax, PosMax]
	Qty         float64
	AvgPx       float64
	RealizedPnL float64
	EntryBar    int64
	EntryPx     float64
	EntryTsMs   int64
}

// IsFlat reports whether the position carries no quantity.
func (p Position) IsFlat() bool {
	return p.Qty == 0
}

// OrderIntent is the guard chain's verdict plus the sized order it guards.
type OrderIntent struct {
	Side               OrderSide
	IntentQty          float64
	IntentNotional     float64
	ReasonCodes        map[string]bool
	VetoReasonPrimary  string
	VetoReasonSecondary string
	GuardDetails       map[string]any
}

// NewOrderIntent enforces side=HOLD => intent_qty=0.
func NewOrderIntent(side OrderSide, qty, notional float64, reasonCodes map[string]bool, vetoPrimary, vetoSecondary string, details map[string]any) OrderIntent {
	if side == OrderHold {
		qty = 0
		notional = 0
	}
	return OrderIntent{
		Side:                side,
		IntentQty:           qty,
		IntentNotional:      notional,
		ReasonCodes:         reasonCodes,
		VetoReasonPrimary:   vetoPrimary,
		VetoReasonSecondary: vetoSecondary,
		GuardDetails:        details,
	}
}

// BanditState is the persisted per-arm statistics for the arm selector.
type BanditState struct {
	Counts    map[string]int64   `json:"counts"`
	Means     map[string]float64 `json:"means"`
	Variances map[string]float64 `json:"variances"`
}

// NewBanditState returns an empty, ready-to-use state.
func NewBanditState() *BanditState {
	return &BanditState{
		Counts:    make(map[string]int64),
		Means:     make(map[string]float64),
		Variances: make(map[string]float64),
	}
}
