package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func weightsAllPros() Weights { return Weights{Pros: 1.0} }

func TestUpdateFromFillAccumulatesWithinBar(t *testing.T) {
	s := NewState(12, 300000, 0.083, 10.0)
	s.UseSignalDecay = false
	s.SetADV20(24.0) // adv_timeframe = 24 / (24/0.083) = 0.083

	s.now = func() int64 { return 0 }

	s.UpdateFromFill(Fill{TsMs: 0, Side: "buy", Size: 1.0}, weightsAllPros())
	first := s.Pros

	s.UpdateFromFill(Fill{TsMs: 1000, Side: "buy", Size: 1.0}, weightsAllPros())
	assert.Greater(t, s.Pros, first, "second fill within same bar should add to the one accumulator bucket, not evict it")
}

func TestFlushOnBarBoundary(t *testing.T) {
	s := NewState(2, 1000, 1.0, 10.0)
	s.UseSignalDecay = false
	s.UseADV20Normalization = false
	s.now = func() int64 { return 0 }

	s.UpdateFromFill(Fill{TsMs: 0, Side: "buy", Size: 5}, weightsAllPros())
	s.UpdateFromFill(Fill{TsMs: 1000, Side: "buy", Size: 5}, weightsAllPros())

	// average of bar0(5) and current bar1(5) == 5
	assert.InDelta(t, 5.0, s.Pros, 1e-9)
}

func TestPreNormalizedBypassesADVButNotDecay(t *testing.T) {
	s := NewState(12, 300000, 1.0, 10.0)
	s.SetADV20(1000)
	s.now = func() int64 { return 600000 } // 10 minutes later == one half-life

	s.UpdateFromFill(Fill{TsMs: 0, Side: "buy", Size: 2, PreNormalized: true}, weightsAllPros())
	// impact = 1*2 = 2 (no ADV division); decay is exp(-age/half_life),
	// so at one half-life it is exp(-1) ~= 0.368 and Pros ~= 0.736
	assert.InDelta(t, 0.7358, s.Pros, 0.01)
}

func TestWindowIsBounded(t *testing.T) {
	s := NewState(2, 1000, 1.0, 10.0)
	s.UseSignalDecay = false
	s.UseADV20Normalization = false
	s.now = func() int64 { return 0 }

	for i := int64(0); i < 5; i++ {
		s.UpdateFromFill(Fill{TsMs: i * 1000, Side: "buy", Size: 1}, weightsAllPros())
	}
	assert.LessOrEqual(t, len(s.prosQ), 2)
}
