package predictor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Calibration carries the linear post-scaling applied to the model's
// raw s_model score to produce a bps edge estimate.
type Calibration struct {
	A       float64 `json:"a"`
	B       float64 `json:"b"`
	BandBps float64 `json:"band_bps"`
}

// Manifest describes a frozen model artifact: where its weights and
// feature schema live, and the calibration applied on top of it.
type Manifest struct {
	FeatureSchemaPath string      `json:"feature_schema_path"`
	ModelPath         string      `json:"model_path"`
	CalibratorPath    string      `json:"calibrator_path,omitempty"`
	Calibration       Calibration `json:"calibration"`
	FeatureDim        int         `json:"feature_dim,omitempty"`
	GitCommit         string      `json:"git_commit,omitempty"`
	TrainedAtUTC      string      `json:"trained_at_utc,omitempty"`
}

type schemaPayload struct {
	FeatureColumns []string `json:"feature_columns"`
	FeatureCols    []string `json:"feature_cols"`
}

// LoadManifest reads a manifest JSON file and resolves its sibling
// paths (model/calibrator/schema) relative to the manifest's directory
// when they are not already absolute.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	base := filepath.Dir(path)
	m.FeatureSchemaPath = resolvePath(base, m.FeatureSchemaPath)
	m.ModelPath = resolvePath(base, m.ModelPath)
	if m.CalibratorPath != "" {
		m.CalibratorPath = resolvePath(base, m.CalibratorPath)
	}

	return &m, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// LoadFeatureSchema reads the ordered list of feature column names a
// model expects, accepting either a bare JSON array or an object with
// a "feature_columns"/"feature_cols" key.
func LoadFeatureSchema(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature schema: %w", err)
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}

	var payload schemaPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse feature schema: %w", err)
	}
	if len(payload.FeatureColumns) > 0 {
		return payload.FeatureColumns, nil
	}
	if len(payload.FeatureCols) > 0 {
		return payload.FeatureCols, nil
	}

	return nil, fmt.Errorf("feature schema at %q has neither feature_columns nor feature_cols", path)
}

// ValidateFeatureDim warns (via the returned bool) rather than fails
// when the manifest's declared feature_dim does not match the schema
// length actually loaded; the manifest's feature_dim is optional.
func (m *Manifest) ValidateFeatureDim(schemaLen int) (ok bool) {
	if m.FeatureDim == 0 {
		return true
	}
	return m.FeatureDim == schemaLen
}
