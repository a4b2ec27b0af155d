package bandit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mtfengine/internal/domain"
)

func deterministicConfig() Config {
	return Config{Epsilon: 0, VarianceBonusK: 0, Rand: rand.New(rand.NewSource(42))}
}

func TestSelectExcludesArmsWithNoSignal(t *testing.T) {
	s := NewSelector(nil, deterministicConfig())
	arm := s.Select(map[string]float64{ArmPros: 0.5})
	assert.Equal(t, ArmPros, arm)
}

func TestSelectReturnsEmptyWhenNoEligibleArms(t *testing.T) {
	s := NewSelector(nil, deterministicConfig())
	arm := s.Select(map[string]float64{ArmPros: 0})
	assert.Equal(t, "", arm)
}

func TestUpdateCreditsSelectedArmReward(t *testing.T) {
	s := NewSelector(nil, deterministicConfig())
	s.Select(map[string]float64{ArmModelMeta: 0.8})
	s.Update(10.0) // realized bps

	state := s.State()
	require.Equal(t, int64(1), state.Counts[ArmModelMeta])
	assert.InDelta(t, 8.0, state.Means[ArmModelMeta], 1e-9) // 10.0 * 0.8
}

func TestUpdateDoesNotCreditTwiceWithoutNewSelect(t *testing.T) {
	s := NewSelector(nil, deterministicConfig())
	s.Select(map[string]float64{ArmPros: 0.5})
	// The first Update after a Select credits the selected arm once.
	s.Update(5.0)
	assert.Equal(t, int64(1), s.State().Counts[ArmPros])

	// A second Update without an intervening Select must not credit again.
	s.Update(5.0)
	assert.Equal(t, int64(1), s.State().Counts[ArmPros])
}

func TestBestArmPicksHighestMean(t *testing.T) {
	state := domain.NewBanditState()
	state.Means[ArmPros] = 0.1
	state.Means[ArmAmateurs] = 5.0
	s := NewSelector(state, deterministicConfig())

	arm := s.Select(map[string]float64{ArmPros: 0.3, ArmAmateurs: 0.3})
	assert.Equal(t, ArmAmateurs, arm)
}

func TestSelectorRestoresFromCheckpoint(t *testing.T) {
	state := domain.NewBanditState()
	state.Counts[ArmModelBMA] = 7
	state.Means[ArmModelBMA] = 2.5

	s := NewSelector(state, deterministicConfig())
	assert.Equal(t, int64(7), s.State().Counts[ArmModelBMA])
}
