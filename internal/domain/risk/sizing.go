// Package risk sizes positions from volatility-targeted signal alpha,
// tracks a paper book's fills and realized PnL, and enforces the
// cooldown, warmup, forced-exit, and daily-stop trading rules that sit
// between the guard chain and an actual execution venue.
package risk

import "math"

const minutesPerYear = 365.0 * 24.0 * 60.0

// Sizer maintains a rolling window of bar-over-bar returns and derives
// a volatility-targeted position fraction from it.
type Sizer struct {
	window       int
	barMinutes   float64
	sigmaTarget  float64
	posMax       float64
	volFloor     float64
	returns      []float64
}

// NewSizer constructs a Sizer with the given rolling window length.
func NewSizer(window int, barMinutes, sigmaTarget, posMax, volFloor float64) *Sizer {
	if window < 2 {
		window = 2
	}
	return &Sizer{
		window:      window,
		barMinutes:  barMinutes,
		sigmaTarget: sigmaTarget,
		posMax:      posMax,
		volFloor:    volFloor,
	}
}

// UpdateReturns records one bar's simple return given the previous and
// new close, dropping the oldest observation once the window is full.
func (s *Sizer) UpdateReturns(prevClose, newClose float64) {
	if prevClose == 0 || newClose == 0 {
		return
	}
	r := newClose/prevClose - 1.0
	s.returns = append(s.returns, r)
	if len(s.returns) > s.window {
		s.returns = s.returns[len(s.returns)-s.window:]
	}
}

// RealizedVol returns the annualized realized volatility of the
// tracked returns, using sample standard deviation (ddof=1) scaled by
// sqrt(bars per year).
func (s *Sizer) RealizedVol() float64 {
	if len(s.returns) < 2 {
		return 0
	}
	n := float64(len(s.returns))
	var mean float64
	for _, r := range s.returns {
		mean += r
	}
	mean /= n
	var ss float64
	for _, r := range s.returns {
		d := r - mean
		ss += d * d
	}
	sampleStd := math.Sqrt(ss / (n - 1))

	minutesPerBar := math.Max(1e-9, s.barMinutes)
	barsPerYear := minutesPerYear / minutesPerBar
	return sampleStd * math.Sqrt(barsPerYear)
}

// TargetPosition maps a directional alpha into a signed position
// fraction in [-posMax, posMax] via inverse-volatility scaling:
// tgt = dir * clip((sigma_target/rv_annualized)*alpha, -pos_max, +pos_max).
// If realized vol is zero and no floor is configured, the target is 0.
func (s *Sizer) TargetPosition(direction int, alpha float64) float64 {
	return TargetPositionFromVol(s.sigmaTarget, s.posMax, s.volFloor, direction, alpha, s.RealizedVol())
}

// TargetPositionFromVol is the pure volatility-targeting formula
// TargetPosition wraps around a Sizer's own rolling RealizedVol:
// tgt = dir * clip((sigmaTarget/rv)*alpha, -posMax, +posMax), with rv
// replaced by volFloor when realized vol is non-positive, or zero
// returned outright when no floor is configured.
func TargetPositionFromVol(sigmaTarget, posMax, volFloor float64, direction int, alpha, rv float64) float64 {
	if rv <= 0 {
		if volFloor > 0 {
			rv = volFloor
		} else {
			return 0
		}
	}
	pos := (sigmaTarget / rv) * alpha
	if pos > posMax {
		pos = posMax
	}
	if pos < -posMax {
		pos = -posMax
	}
	return float64(direction) * pos
}
