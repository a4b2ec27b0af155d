// Package signal turns a per-timeframe Prediction into a directional
// Signal, gated on confidence and alpha thresholds.
package signal

import (
	"math"

	"github.com/sawpanic/mtfengine/internal/domain"
)

// Thresholds gate a Prediction into a tradable Signal for one timeframe.
type Thresholds struct {
	MinConfidence float64
	MinAlpha      float64
	NeutralBand   float64
}

// DefaultThresholds matches the reference runtime's baseline gating
// before any per-timeframe override is applied.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence: 0.40,
		MinAlpha:      0.05,
		NeutralBand:   0.02,
	}
}

// Generate produces a Signal for one timeframe from a Prediction.
func Generate(pred domain.Prediction, timeframe string, barID int64, th Thresholds) domain.Signal {
	confidence := math.Max(pred.PUp, math.Max(pred.PDown, pred.PNeutral))

	if math.Abs(pred.SModel) < th.NeutralBand {
		return domain.Signal{Direction: 0, Alpha: 0, Confidence: confidence, Timeframe: timeframe, BarID: barID}
	}

	direction := 1
	if pred.SModel < 0 {
		direction = -1
	}
	alpha := math.Min(1.0, math.Abs(pred.SModel))

	if confidence < th.MinConfidence || alpha < th.MinAlpha {
		return domain.Signal{Direction: 0, Alpha: 0, Confidence: confidence, Timeframe: timeframe, BarID: barID}
	}

	return domain.Signal{Direction: direction, Alpha: alpha, Confidence: confidence, Timeframe: timeframe, BarID: barID}
}
