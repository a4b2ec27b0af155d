package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesPerAttempt(t *testing.T) {
	cfg := Config{Base: 10 * time.Millisecond, Max: time.Second, Jitter: false}
	assert.Equal(t, 10*time.Millisecond, Delay(cfg, 0))
	assert.Equal(t, 20*time.Millisecond, Delay(cfg, 1))
	assert.Equal(t, 40*time.Millisecond, Delay(cfg, 2))
}

func TestDelayCapsAtMax(t *testing.T) {
	cfg := Config{Base: 10 * time.Millisecond, Max: 15 * time.Millisecond, Jitter: false}
	assert.Equal(t, 15*time.Millisecond, Delay(cfg, 10))
}

func TestDelayWithJitterStaysWithinBound(t *testing.T) {
	cfg := Config{Base: 10 * time.Millisecond, Max: time.Second, Jitter: true}
	d := Delay(cfg, 0)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.LessOrEqual(t, d, 11*time.Millisecond)
}

func TestWaitReturnsNilAfterElapsed(t *testing.T) {
	cfg := Config{Base: time.Millisecond, Max: 5 * time.Millisecond, Jitter: false}
	err := Wait(context.Background(), cfg, 0)
	assert.NoError(t, err)
}

func TestWaitReturnsErrOnCancel(t *testing.T) {
	cfg := Config{Base: time.Second, Max: time.Second, Jitter: false}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, cfg, 0)
	assert.Error(t, err)
}
