package venue

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes a venue's circuit breaker.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64 // percent, e.g. 30.0
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig is a conservative per-venue default.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  30.0,
		ConsecutiveFailures: 3,
	}
}

// Breaker wraps a gobreaker.CircuitBreaker around one venue's REST
// calls so a failing venue degrades to returning errors fast instead
// of piling up retries against a dead endpoint.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker constructs a Breaker from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				if errorRate >= cfg.ErrorRateThreshold {
					return true
				}
			}
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).Str("from", from.String()).Str("to", to.String()).Msg("venue circuit breaker state change")
		},
	}
	return &Breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker, short-circuiting with
// gobreaker.ErrOpenState when the venue is tripped.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// IsHealthy reports whether the breaker is closed (or half-open,
// actively probing recovery).
func (b *Breaker) IsHealthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}
