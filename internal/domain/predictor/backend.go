package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// classOrder is fixed: 0=down, 1=neutral, 2=up.
const numClasses = 3

// LinearBackend is a frozen multinomial-logistic (softmax) model: one
// weight row per class plus a bias, applied to a feature vector.
// Frozen artifacts of this shape are what `model_path` in a Manifest
// points to.
type LinearBackend struct {
	Weights [numClasses][]float64 `json:"weights"`
	Bias    [numClasses]float64   `json:"bias"`
}

// LoadLinearBackend reads a JSON-encoded LinearBackend from disk.
func LoadLinearBackend(path string) (*LinearBackend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var b LinearBackend
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	for i := 0; i < numClasses; i++ {
		if b.Weights[i] == nil {
			return nil, fmt.Errorf("model missing weight row %d", i)
		}
	}

	return &b, nil
}

// Predict returns [p_down, p_neutral, p_up] via softmax over the
// model's three logit rows.
func (b *LinearBackend) Predict(x []float64) ([numClasses]float64, error) {
	var logits [numClasses]float64
	for cls := 0; cls < numClasses; cls++ {
		w := b.Weights[cls]
		if len(w) != len(x) {
			return [numClasses]float64{}, fmt.Errorf("feature dim mismatch: model expects %d, got %d", len(w), len(x))
		}
		logit := b.Bias[cls]
		for i, xv := range x {
			logit += w[i] * xv
		}
		logits[cls] = logit
	}

	return softmax3(logits), nil
}

func softmax3(logits [numClasses]float64) [numClasses]float64 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	var exps [numClasses]float64
	var sum float64
	for i, l := range logits {
		exps[i] = math.Exp(l - maxLogit)
		sum += exps[i]
	}

	var out [numClasses]float64
	for i := range exps {
		out[i] = exps[i] / sum
	}
	return out
}

// Calibrator rescales raw model output. Mirrors the reference
// implementation's two-attempt chaining: try applying to the raw
// probability triple first, then fall back to applying against the
// original feature vector if that fails.
type Calibrator interface {
	CalibrateProba(proba [numClasses]float64) ([numClasses]float64, bool)
	CalibrateFeatures(x []float64) ([numClasses]float64, bool)
}

// LinearCalibrator rescales probabilities with a fitted affine map per
// class, renormalizing afterward so the output stays a simplex.
type LinearCalibrator struct {
	Scale [numClasses]float64 `json:"scale"`
	Shift [numClasses]float64 `json:"shift"`
}

// LoadLinearCalibrator reads a JSON-encoded LinearCalibrator from disk.
func LoadLinearCalibrator(path string) (*LinearCalibrator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibrator: %w", err)
	}
	var c LinearCalibrator
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse calibrator: %w", err)
	}
	return &c, nil
}

// CalibrateProba is the calibrator's primary path: rescale the raw
// probability triple directly.
func (c *LinearCalibrator) CalibrateProba(proba [numClasses]float64) ([numClasses]float64, bool) {
	var out [numClasses]float64
	var sum float64
	for i := range proba {
		v := proba[i]*c.Scale[i] + c.Shift[i]
		if v < 0 {
			v = 0
		}
		out[i] = v
		sum += v
	}
	if sum <= 0 {
		return proba, false
	}
	for i := range out {
		out[i] /= sum
	}
	return out, true
}

// CalibrateFeatures is the fallback path for calibrators that need the
// original feature vector rather than the model's output; a plain
// LinearCalibrator has no feature-dependent behavior, so it declines.
func (c *LinearCalibrator) CalibrateFeatures(x []float64) ([numClasses]float64, bool) {
	return [numClasses]float64{}, false
}
