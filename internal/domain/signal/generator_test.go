package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mtfengine/internal/domain"
)

func mustPred(t *testing.T, pDown, pNeutral, pUp float64) domain.Prediction {
	t.Helper()
	p, err := domain.NewPrediction(pDown, pNeutral, pUp, 0, 1)
	require.NoError(t, err)
	return p
}

func TestGenerateNeutralBandForcesZeroDirection(t *testing.T) {
	pred := mustPred(t, 0.34, 0.33, 0.33) // s_model = -0.01, within default 0.02 band
	sig := Generate(pred, "5m", 1, DefaultThresholds())
	assert.Equal(t, 0, sig.Direction)
	assert.Equal(t, 0.0, sig.Alpha)
}

func TestGenerateDirectionFollowsSModelSign(t *testing.T) {
	pred := mustPred(t, 0.1, 0.2, 0.7) // s_model = 0.6
	sig := Generate(pred, "5m", 1, DefaultThresholds())
	assert.Equal(t, 1, sig.Direction)
	assert.InDelta(t, 0.6, sig.Alpha, 1e-9)
}

func TestGenerateLowConfidenceForcesNeutral(t *testing.T) {
	pred := mustPred(t, 0.3, 0.35, 0.35) // s_model=0.05, confidence=0.35 < 0.40
	sig := Generate(pred, "5m", 1, DefaultThresholds())
	assert.Equal(t, 0, sig.Direction)
}

func TestGenerateLowAlphaForcesNeutral(t *testing.T) {
	th := DefaultThresholds()
	th.MinAlpha = 0.5
	pred := mustPred(t, 0.1, 0.2, 0.7) // alpha=0.6 is actually above 0.5, use smaller
	// s_model=0.2 is outside the 0.02 band and confidence=0.4 meets the
	// minimum, so only alpha=0.2 < 0.5 can force neutral.
	pred2 := mustPred(t, 0.2, 0.4, 0.4)
	_ = pred
	sig := Generate(pred2, "5m", 1, th)
	assert.Equal(t, 0, sig.Direction)
}

func TestGenerateAlphaClippedToOne(t *testing.T) {
	pred := mustPred(t, 0.0, 0.0, 1.0) // s_model = 1.0
	sig := Generate(pred, "1h", 5, DefaultThresholds())
	assert.Equal(t, 1, sig.Direction)
	assert.LessOrEqual(t, sig.Alpha, 1.0)
}
