package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlenderInitialWeightsAreEqual(t *testing.T) {
	b := NewBlender(DefaultConfig())
	wBase, wProb := b.Weights()
	assert.InDelta(t, 0.5, wBase, 1e-9)
	assert.InDelta(t, 0.5, wProb, 1e-9)
}

func TestBlendCombinesWeightedStreams(t *testing.T) {
	b := NewBlender(DefaultConfig())
	s := b.Blend(0.4, 0.6)
	assert.InDelta(t, 0.5, s, 1e-9) // equal weights: 0.5*0.4+0.5*0.6
}

func TestFrozenBlenderWeightsDoNotMove(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Freeze = true
	b := NewBlender(cfg)

	for i := 0; i < 50; i++ {
		b.Observe(float64(i)*0.01, float64(-i)*0.01, float64(i)*0.1)
	}

	wBase, wProb := b.Weights()
	assert.InDelta(t, 0.5, wBase, 1e-9)
	assert.InDelta(t, 0.5, wProb, 1e-9)
}

func TestUnfrozenBlenderWeightsRespondToIC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 30
	b := NewBlender(cfg)

	// base stream perfectly predicts realized return; prob stream is
	// pure noise (constant), so base should earn more weight.
	for i := 0; i < 30; i++ {
		ret := float64(i%5) - 2
		b.Observe(ret, 0, ret)
	}

	wBase, wProb := b.Weights()
	assert.Greater(t, wBase, wProb)
}
