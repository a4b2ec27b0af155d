// Package combine merges per-timeframe signals into one combined
// trading decision using a fixed priority of alignment rules.
package combine

import (
	"math"

	"github.com/sawpanic/mtfengine/internal/domain"
)

// Config tunes the combiner's thresholds and weights.
type Config struct {
	Weights              map[string]float64
	RequiredAgreement    []string // timeframes that must agree for the agreement rule, e.g. {"5m","15m"}
	OverrideTimeframe     string   // e.g. "1h"
	OverrideThreshold     float64  // alpha below which the override timeframe yields to the others
	ConflictMinAlpha      float64  // default 0.3
	HalveOn1hOpposition   bool
	ConflictBandMult      float64 // default conflict-band-skip multiplier on band_bps
}

// DefaultConfig mirrors the reference combiner's baseline configuration.
func DefaultConfig() Config {
	return Config{
		Weights:             map[string]float64{"5m": 0.5, "15m": 0.3, "1h": 0.2},
		RequiredAgreement:   []string{"5m", "15m"},
		OverrideTimeframe:   "1h",
		OverrideThreshold:   0.1,
		ConflictMinAlpha:    0.3,
		HalveOn1hOpposition: true,
		ConflictBandMult:    1.0,
	}
}

// Combined is the result of merging the available timeframe signals.
type Combined struct {
	Direction         int
	Alpha             float64
	Confidence        float64
	ChosenTimeframes  []string
	AlignmentRule     string
	IndividualSignals map[string]domain.Signal
}

// Combine applies the alignment rules in priority order: conflict skip,
// agreement, neutral override, weighted average, majority vote. The
// first rule that produces a result wins; a post-adjustment then
// halves alpha if a non-zero 1h signal opposes the combined direction.
func Combine(signals map[string]domain.Signal, cfg Config) Combined {
	if c, ok := conflictSkip(signals, cfg); ok {
		return c
	}

	if c, ok := agreement(signals, cfg.RequiredAgreement); ok {
		return applyHalveOn1h(c, signals, cfg)
	}

	if c, ok := neutralOverride(signals, cfg); ok {
		return applyHalveOn1h(c, signals, cfg)
	}

	if c, ok := weightedAverage(signals, cfg.Weights); ok {
		return applyHalveOn1h(c, signals, cfg)
	}

	if c, ok := majorityVote(signals); ok {
		return applyHalveOn1h(c, signals, cfg)
	}

	return Combined{Direction: 0, Alpha: 0, Confidence: 0, AlignmentRule: "fallback", IndividualSignals: signals}
}

func conflictSkip(signals map[string]domain.Signal, cfg Config) (Combined, bool) {
	s5, ok5 := signals["5m"]
	s15, ok15 := signals["15m"]
	if !ok5 || !ok15 {
		return Combined{}, false
	}
	if s5.Direction == 0 || s15.Direction == 0 || s5.Direction == s15.Direction {
		return Combined{}, false
	}
	maxAlpha := math.Max(math.Abs(s5.Alpha), math.Abs(s15.Alpha))
	if maxAlpha >= cfg.ConflictMinAlpha {
		return Combined{}, false
	}
	return Combined{
		Direction:        0,
		Alpha:            0,
		Confidence:       (s5.Confidence + s15.Confidence) / 2,
		ChosenTimeframes: []string{"5m", "15m"},
		AlignmentRule:    "conflict_skip",
		IndividualSignals: signals,
	}, true
}

func agreement(signals map[string]domain.Signal, required []string) (Combined, bool) {
	for _, tf := range required {
		if _, ok := signals[tf]; !ok {
			return Combined{}, false
		}
	}

	var nonZero []int
	for _, tf := range required {
		if d := signals[tf].Direction; d != 0 {
			nonZero = append(nonZero, d)
		}
	}

	if len(nonZero) == 0 {
		conf := meanConfidence(signals, required)
		return Combined{Direction: 0, Alpha: 0, Confidence: conf, ChosenTimeframes: required, AlignmentRule: "agreement", IndividualSignals: signals}, true
	}

	allSame := true
	for _, d := range nonZero {
		if d != nonZero[0] {
			allSame = false
			break
		}
	}
	if !allSame {
		return Combined{}, false
	}

	direction := nonZero[0]
	var alphaSum, confSum float64
	var n int
	for _, tf := range required {
		if signals[tf].Direction == direction {
			alphaSum += signals[tf].Alpha
			confSum += signals[tf].Confidence
			n++
		}
	}

	return Combined{
		Direction:        direction,
		Alpha:            alphaSum / float64(n),
		Confidence:       confSum / float64(n),
		ChosenTimeframes: required,
		AlignmentRule:    "agreement",
		IndividualSignals: signals,
	}, true
}

func neutralOverride(signals map[string]domain.Signal, cfg Config) (Combined, bool) {
	if cfg.OverrideTimeframe == "" {
		return Combined{}, false
	}
	overrideSig, ok := signals[cfg.OverrideTimeframe]
	if !ok {
		return Combined{}, false
	}

	if math.Abs(overrideSig.Alpha) < cfg.OverrideThreshold {
		others := make(map[string]domain.Signal, len(signals))
		for tf, s := range signals {
			if tf != cfg.OverrideTimeframe {
				others[tf] = s
			}
		}
		if len(others) > 0 {
			return weightedAverage(others, cfg.Weights)
		}
	}

	return Combined{
		Direction:        overrideSig.Direction,
		Alpha:            overrideSig.Alpha,
		Confidence:       overrideSig.Confidence,
		ChosenTimeframes: []string{cfg.OverrideTimeframe},
		AlignmentRule:    "neutral_override",
		IndividualSignals: signals,
	}, true
}

func weightedAverage(signals map[string]domain.Signal, weights map[string]float64) (Combined, bool) {
	var weightedDir, weightedAlpha, weightedConf, totalWeight float64
	var chosen []string

	for tf, s := range signals {
		w, ok := weights[tf]
		if !ok {
			continue
		}
		weightedDir += float64(s.Direction) * w
		weightedAlpha += s.Alpha * w
		weightedConf += s.Confidence * w
		totalWeight += w
		chosen = append(chosen, tf)
	}

	if totalWeight == 0 {
		return Combined{}, false
	}

	weightedDir /= totalWeight
	weightedAlpha /= totalWeight
	weightedConf /= totalWeight

	direction := 0
	switch {
	case weightedDir > 0.1:
		direction = 1
	case weightedDir < -0.1:
		direction = -1
	}

	return Combined{
		Direction:        direction,
		Alpha:            math.Min(1.0, weightedAlpha),
		Confidence:       math.Min(1.0, weightedConf),
		ChosenTimeframes: chosen,
		AlignmentRule:    "weighted_average",
		IndividualSignals: signals,
	}, true
}

// majorityVote counts directional votes across all available
// timeframes. Ties resolve deterministically to the larger direction
// key: +1 beats 0 beats -1.
func majorityVote(signals map[string]domain.Signal) (Combined, bool) {
	if len(signals) == 0 {
		return Combined{}, false
	}

	counts := map[int]int{1: 0, 0: 0, -1: 0}
	for _, s := range signals {
		counts[s.Direction]++
	}

	majority := 1
	best := -1
	for _, d := range []int{1, 0, -1} {
		if counts[d] > best {
			best = counts[d]
			majority = d
		}
	}

	var alphaSum, confSum float64
	var n int
	for _, s := range signals {
		if s.Direction == majority {
			alphaSum += s.Alpha
			confSum += s.Confidence
			n++
		}
	}
	if n == 0 {
		return Combined{}, false
	}

	chosen := make([]string, 0, len(signals))
	for tf := range signals {
		chosen = append(chosen, tf)
	}

	return Combined{
		Direction:        majority,
		Alpha:            alphaSum / float64(n),
		Confidence:       confSum / float64(n),
		ChosenTimeframes: chosen,
		AlignmentRule:    "majority_vote",
		IndividualSignals: signals,
	}, true
}

func applyHalveOn1h(c Combined, signals map[string]domain.Signal, cfg Config) Combined {
	if !cfg.HalveOn1hOpposition || c.Direction == 0 {
		return c
	}
	s1h, ok := signals["1h"]
	if !ok || s1h.Direction == 0 || s1h.Direction == c.Direction {
		return c
	}
	c.Alpha *= 0.5
	c.AlignmentRule += "+halve_on_1h_opposition"
	return c
}

func meanConfidence(signals map[string]domain.Signal, tfs []string) float64 {
	var sum float64
	for _, tf := range tfs {
		sum += signals[tf].Confidence
	}
	return sum / float64(len(tfs))
}

// ConflictBandSkip reports whether the combined signal should be
// skipped because 5m opposes 15m and the calibrated edge does not
// clear the widened conflict band. predCalBps is the calibrated
// prediction in bps; bandBps is the model's base no-trade band.
func ConflictBandSkip(signals map[string]domain.Signal, predCalBps, bandBps float64, cfg Config) bool {
	s5, ok5 := signals["5m"]
	s15, ok15 := signals["15m"]
	if !ok5 || !ok15 {
		return false
	}
	if s5.Direction == 0 || s15.Direction == 0 || s5.Direction == s15.Direction {
		return false
	}
	return math.Abs(predCalBps) <= cfg.ConflictBandMult*bandBps
}
