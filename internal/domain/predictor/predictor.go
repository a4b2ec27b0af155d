package predictor

import (
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mtfengine/internal/domain"
)

// Predictor delivers a 3-class probability distribution for a feature
// vector. Implementations must never return an error to the caller at
// inference time; a load failure at construction degrades to a neutral
// predictor instead.
type Predictor interface {
	Infer(x []float64) domain.Prediction
}

// NeutralPredictor always returns the degraded neutral distribution.
// It backs every failure path below so inference never panics or
// blocks the driver loop on a bad artifact.
type NeutralPredictor struct {
	A, B float64
}

// Infer implements Predictor by returning the fixed neutral simplex.
func (NeutralPredictor) Infer(x []float64) domain.Prediction {
	p, _ := domain.NewPrediction(0.33, 0.34, 0.33, 0, 1.0)
	return p
}

// ManifestPredictor wraps a frozen LinearBackend and optional
// Calibrator loaded from a Manifest.
type ManifestPredictor struct {
	schema     []string
	backend    *LinearBackend
	calibrator Calibrator
	calA       float64
	calB       float64
}

// NewManifestPredictor loads the manifest, its feature schema, model
// backend, and optional calibrator. Any failure degrades to a
// NeutralPredictor and logs a single warning, matching the reference
// runtime's "inference never raises" contract.
func NewManifestPredictor(manifestPath string) Predictor {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		log.Warn().Err(err).Str("manifest", manifestPath).Msg("model runtime: failed to load manifest, degrading to neutral")
		return NeutralPredictor{B: 1.0}
	}

	schema, err := LoadFeatureSchema(m.FeatureSchemaPath)
	if err != nil {
		log.Warn().Err(err).Str("schema", m.FeatureSchemaPath).Msg("model runtime: failed to load feature schema, degrading to neutral")
		return NeutralPredictor{A: m.Calibration.A, B: valueOrOne(m.Calibration.B)}
	}

	if !m.ValidateFeatureDim(len(schema)) {
		log.Warn().Int("expected", m.FeatureDim).Int("actual", len(schema)).Msg("model runtime: feature dimension mismatch")
	}

	backend, err := LoadLinearBackend(m.ModelPath)
	if err != nil {
		log.Warn().Err(err).Str("model", m.ModelPath).Msg("model runtime: failed to load model, degrading to neutral")
		return NeutralPredictor{A: m.Calibration.A, B: valueOrOne(m.Calibration.B)}
	}

	var cal Calibrator
	if m.CalibratorPath != "" {
		c, err := LoadLinearCalibrator(m.CalibratorPath)
		if err != nil {
			log.Warn().Err(err).Str("calibrator", m.CalibratorPath).Msg("model runtime: failed to load calibrator, proceeding uncalibrated")
		} else {
			cal = c
		}
	}

	if m.GitCommit != "" {
		log.Info().Str("git_commit", m.GitCommit).Str("trained_at", m.TrainedAtUTC).Msg("model runtime: loaded model artifact")
	}

	return &ManifestPredictor{
		schema:     schema,
		backend:    backend,
		calibrator: cal,
		calA:       m.Calibration.A,
		calB:       valueOrOne(m.Calibration.B),
	}
}

func valueOrOne(b float64) float64 {
	if b == 0 {
		return 1.0
	}
	return b
}

// Infer runs the backend and, if present, the calibrator in the same
// two-attempt order as the reference runtime: try rescaling the raw
// probability triple first, then fall back to the original feature
// vector if that fails. Any backend failure (e.g. a feature-dimension
// mismatch against a reloaded schema) degrades this single call to
// neutral rather than propagating an error.
func (p *ManifestPredictor) Infer(x []float64) domain.Prediction {
	proba, err := p.backend.Predict(x)
	if err != nil {
		log.Warn().Err(err).Msg("model runtime: inference failed, returning neutral for this bar")
		pred, _ := domain.NewPrediction(0.33, 0.34, 0.33, p.calA, p.calB)
		return pred
	}

	if p.calibrator != nil {
		if calibrated, ok := p.calibrator.CalibrateProba(proba); ok {
			proba = calibrated
		} else if calibrated, ok := p.calibrator.CalibrateFeatures(x); ok {
			proba = calibrated
		} else {
			log.Warn().Msg("model runtime: calibrator failed after both attempts, using uncalibrated probabilities")
		}
	}

	pred, err := domain.NewPrediction(proba[0], proba[1], proba[2], p.calA, p.calB)
	if err != nil {
		log.Warn().Err(err).Msg("model runtime: model output failed simplex validation, returning neutral")
		neutral, _ := domain.NewPrediction(0.33, 0.34, 0.33, p.calA, p.calB)
		return neutral
	}

	return pred
}

// Schema returns the feature column order this predictor expects, for
// wiring the feature computer's schema consistently.
func (p *ManifestPredictor) Schema() []string {
	return p.schema
}
