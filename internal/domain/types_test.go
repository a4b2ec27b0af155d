package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBarOrderingInvariant(t *testing.T) {
	_, err := NewBar(1000, 1, 10, 9, 11, 10, 100, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHighLowViolation))

	b, err := NewBar(1000, 1, 10, 12, 9, 11, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.TsMs)
}

func TestNewBarMonotonicTimestamp(t *testing.T) {
	_, err := NewBar(1000, 2, 10, 12, 9, 11, 100, 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonMonotonicBar))

	_, err = NewBar(1001, 2, 10, 12, 9, 11, 100, 1000)
	require.NoError(t, err)
}

func TestNewFeatureVectorDimMismatch(t *testing.T) {
	_, err := NewFeatureVector([]float64{1, 2}, []string{"a", "b", "c"}, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFeatureDimMismatch))
}

func TestFeatureVectorWarmupGate(t *testing.T) {
	fv, err := NewFeatureVector([]float64{1}, []string{"a"}, 49)
	require.NoError(t, err)
	assert.False(t, fv.IsWarmed)

	fv, err = NewFeatureVector([]float64{1}, []string{"a"}, 50)
	require.NoError(t, err)
	assert.True(t, fv.IsWarmed)
}

func TestNewPredictionValidatesSimplex(t *testing.T) {
	_, err := NewPrediction(0.3, 0.3, 0.3, 0, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbabilitySum))

	p, err := NewPrediction(0.2, 0.3, 0.5, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, p.SModel, 1e-9)
	assert.InDelta(t, 3000, p.BpsEdge(), 1e-6)
}

func TestNewDecisionZeroDirectionZeroesAlpha(t *testing.T) {
	d := NewDecision(0, 0.8, OverlayDetails{})
	assert.Equal(t, 0.0, d.Alpha)

	d = NewDecision(1, 0.8, OverlayDetails{})
	assert.Equal(t, 0.8, d.Alpha)
}

func TestNewOrderIntentHoldZeroesQty(t *testing.T) {
	oi := NewOrderIntent(OrderHold, 5, 500, nil, "", "", nil)
	assert.Equal(t, 0.0, oi.IntentQty)
	assert.Equal(t, 0.0, oi.IntentNotional)

	oi = NewOrderIntent(OrderBuy, 5, 500, nil, "", "", nil)
	assert.Equal(t, 5.0, oi.IntentQty)
}
