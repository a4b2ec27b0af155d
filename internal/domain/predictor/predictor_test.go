package predictor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeutralPredictorDegradesToFixedSimplex(t *testing.T) {
	p := NeutralPredictor{}
	pred := p.Infer([]float64{1, 2, 3})
	assert.InDelta(t, 0.33, pred.PDown, 1e-9)
	assert.InDelta(t, 0.34, pred.PNeutral, 1e-9)
	assert.InDelta(t, 0.33, pred.PUp, 1e-9)
}

func TestNewManifestPredictorDegradesOnMissingManifest(t *testing.T) {
	p := NewManifestPredictor("/nonexistent/manifest.json")
	_, isNeutral := p.(NeutralPredictor)
	assert.True(t, isNeutral)
}

func writeArtifact(t *testing.T, dir string) string {
	t.Helper()

	schema := []string{"f1", "f2"}
	schemaPath := filepath.Join(dir, "schema.json")
	schemaBytes, _ := json.Marshal(schema)
	require.NoError(t, os.WriteFile(schemaPath, schemaBytes, 0o644))

	backend := LinearBackend{
		Weights: [3][]float64{{1, 0}, {0, 0}, {-1, 0}},
		Bias:    [3]float64{0, 0.1, 0},
	}
	modelPath := filepath.Join(dir, "model.json")
	modelBytes, _ := json.Marshal(backend)
	require.NoError(t, os.WriteFile(modelPath, modelBytes, 0o644))

	manifest := Manifest{
		FeatureSchemaPath: "schema.json",
		ModelPath:         "model.json",
		Calibration:       Calibration{A: 0.01, B: 1.0, BandBps: 5},
		FeatureDim:        2,
	}
	manifestPath := filepath.Join(dir, "manifest.json")
	manifestBytes, _ := json.Marshal(manifest)
	require.NoError(t, os.WriteFile(manifestPath, manifestBytes, 0o644))

	return manifestPath
}

func TestManifestPredictorLoadsAndInfers(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeArtifact(t, dir)

	p := NewManifestPredictor(manifestPath)
	mp, ok := p.(*ManifestPredictor)
	require.True(t, ok)
	assert.Equal(t, []string{"f1", "f2"}, mp.Schema())

	pred := p.Infer([]float64{2, 0})
	assert.Greater(t, pred.PDown, pred.PUp)
	assert.InDelta(t, 1.0, pred.PDown+pred.PNeutral+pred.PUp, 1e-6)
}

func TestManifestPredictorFeatureDimMismatchDegradesSingleCall(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeArtifact(t, dir)

	p := NewManifestPredictor(manifestPath)
	pred := p.Infer([]float64{1, 2, 3})
	assert.InDelta(t, 0.33, pred.PDown, 1e-9)
	assert.InDelta(t, 0.34, pred.PNeutral, 1e-9)
}

func TestLinearCalibratorRenormalizes(t *testing.T) {
	c := &LinearCalibrator{Scale: [3]float64{1, 1, 1}, Shift: [3]float64{0.1, 0, -0.05}}
	out, ok := c.CalibrateProba([3]float64{0.3, 0.4, 0.3})
	require.True(t, ok)
	sum := out[0] + out[1] + out[2]
	assert.InDelta(t, 1.0, sum, 1e-9)
}
