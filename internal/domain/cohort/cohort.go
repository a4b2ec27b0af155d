// Package cohort implements the per-fill, per-timeframe cohort flow
// accumulator: pros/amateurs/mood signals built from signed, ADV-normalized,
// exponentially decayed trade flow, aggregated per bar.
package cohort

import (
	"math"
	"time"
)

// Weights maps a cohort channel name to its blend weight.
type Weights struct {
	Pros     float64
	Amateurs float64
	Mood     float64
}

func (w Weights) get(channel string) float64 {
	switch channel {
	case "pros":
		return w.Pros
	case "amateurs":
		return w.Amateurs
	case "mood":
		return w.Mood
	default:
		return 0
	}
}

// Fill is the minimal shape cohort.State needs from a domain.Fill; kept
// decoupled from the domain package so the accumulator can be fed directly
// from a venue's wire decode.
type Fill struct {
	TsMs          int64
	Side          string // "buy"/"sell"/"a"/"b"/"bid"/"ask"
	Size          float64
	Channel       string // which of pros/amateurs/mood this fill belongs to
	PreNormalized bool
}

// State is a ring of the last Window bar-aggregates per cohort channel, plus
// a mutable current-bar accumulator. Mirrors cohort_signals.py's CohortState
// exactly, including the per-bar accumulation fix (fills within one bar are
// summed before ever entering the ring, so a late mood fill cannot evict a
// cohort fill from the window).
type State struct {
	Window int

	ADV20 float64

	Pros     float64
	Amateurs float64
	Mood     float64

	prosQ []float64
	amQ   []float64
	moodQ []float64

	UseADV20Normalization bool
	UseSignalDecay        bool
	TimeframeHours        float64
	SignalHalfLifeMinutes float64

	BarIntervalMs int64
	currentBarTs  int64
	hasBar        bool // false until the first fill opens a bar; a bar may start at ts 0
	curPros       float64
	curAmateurs   float64
	curMood       float64

	now func() int64 // injected clock for decay age calculation; defaults to time.Now
}

// NewState constructs a cohort State with the given rolling window (in
// bars) and bar interval. adv20 must be pre-seeded via SetADV20 before the
// first fill if ADV normalization is enabled.
func NewState(window int, barIntervalMs int64, timeframeHours, halfLifeMinutes float64) *State {
	return &State{
		Window:                window,
		ADV20:                 1.0,
		UseADV20Normalization: true,
		UseSignalDecay:        true,
		TimeframeHours:        timeframeHours,
		SignalHalfLifeMinutes: halfLifeMinutes,
		BarIntervalMs:         barIntervalMs,
		now:                   func() int64 { return time.Now().UnixMilli() },
	}
}

// SetADV20 updates the rolling 20-day average daily volume used for
// normalization, floored to avoid division blowups.
func (s *State) SetADV20(adv20 float64) {
	if adv20 < 1e-6 {
		adv20 = 1e-6
	}
	s.ADV20 = adv20
}

func signedSide(side string) float64 {
	switch side {
	case "buy", "a", "bid", "Buy", "A", "Bid":
		return 1.0
	case "sell", "b", "ask", "Sell", "B", "Ask":
		return -1.0
	default:
		return 0.0
	}
}

// UpdateFromFill folds one fill into the current bar's accumulator,
// flushing the previous bar into the ring on a bar-boundary crossing, and
// recomputes Pros/Amateurs/Mood immediately.
//
// Order of operations, matching cohort_signals.py exactly: compute signed
// size, apply ADV normalization (skipped when PreNormalized), apply
// exponential decay by fill age, THEN multiply by the channel weight and
// accumulate. pre_normalized only bypasses the ADV division step, never the
// decay step.
func (s *State) UpdateFromFill(f Fill, weights Weights) {
	fillBarTs := (f.TsMs / s.BarIntervalMs) * s.BarIntervalMs

	if !s.hasBar {
		s.currentBarTs = fillBarTs
		s.hasBar = true
	} else if fillBarTs > s.currentBarTs {
		s.flushCurrentBar()
		s.currentBarTs = fillBarTs
	}

	signed := signedSide(f.Side)

	var impact float64
	if s.UseADV20Normalization && !f.PreNormalized {
		advTimeframe := s.ADV20 / (24.0 / s.TimeframeHours)
		if advTimeframe < 1e-6 {
			advTimeframe = 1e-6
		}
		impact = (signed * f.Size) / advTimeframe
	} else {
		impact = signed * f.Size
	}

	decayWeight := 1.0
	if s.UseSignalDecay {
		nowMs := s.now()
		ageMs := nowMs - f.TsMs
		if ageMs < 0 {
			ageMs = 0
		}
		halfLifeMs := s.SignalHalfLifeMinutes * 60 * 1000
		if halfLifeMs > 0 {
			decayWeight = math.Exp(-float64(ageMs) / halfLifeMs)
		}
	}

	finalImpact := impact * decayWeight

	s.curPros += finalImpact * weights.get("pros")
	s.curAmateurs += finalImpact * weights.get("amateurs")
	s.curMood += finalImpact * weights.get("mood")

	s.updateSignals()
}

func (s *State) flushCurrentBar() {
	s.prosQ = pushBounded(s.prosQ, s.curPros, s.Window)
	s.amQ = pushBounded(s.amQ, s.curAmateurs, s.Window)
	s.moodQ = pushBounded(s.moodQ, s.curMood, s.Window)

	s.curPros = 0
	s.curAmateurs = 0
	s.curMood = 0
}

func pushBounded(q []float64, v float64, max int) []float64 {
	q = append(q, v)
	if len(q) > max {
		q = q[len(q)-max:]
	}
	return q
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func (s *State) updateSignals() {
	prosSum := sum(s.prosQ)
	amSum := sum(s.amQ)
	moodSum := sum(s.moodQ)
	count := len(s.prosQ)

	if s.hasBar {
		prosSum += s.curPros
		amSum += s.curAmateurs
		moodSum += s.curMood
		count++
	}

	divisor := float64(count)
	if divisor < 1 {
		divisor = 1
	}

	s.Pros = prosSum / divisor
	s.Amateurs = amSum / divisor
	s.Mood = moodSum / divisor
}

// Snapshot returns the current pros/amateurs/mood signal values.
func (s *State) Snapshot() (pros, amateurs, mood float64) {
	return s.Pros, s.Amateurs, s.Mood
}
