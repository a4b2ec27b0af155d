// Package backoff computes geometric retry delays with jitter, shared
// by every outbound client (REST polling, WS reconnects) so backoff
// behavior is consistent across the engine instead of duplicated per
// caller.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Config bounds a geometric backoff sequence.
type Config struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// DefaultConfig matches the provider client pool's defaults.
func DefaultConfig() Config {
	return Config{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: true}
}

// Delay returns the backoff duration for the given attempt (0-indexed),
// doubling from Base and capping at Max, with up to 10% jitter added
// when Jitter is enabled.
func Delay(cfg Config, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := cfg.Base * time.Duration(1<<uint(attempt))
	if d > cfg.Max || d <= 0 {
		d = cfg.Max
	}
	if !cfg.Jitter {
		return d
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(d))
	return d + jitter
}

// Wait blocks for Delay(cfg, attempt) or until ctx is cancelled,
// whichever comes first. It returns ctx.Err() on cancellation, nil
// once the delay elapses.
func Wait(ctx context.Context, cfg Config, attempt int) error {
	t := time.NewTimer(Delay(cfg, attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
