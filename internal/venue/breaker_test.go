package venue

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
)

func TestBreakerExecutePassesThroughSuccess(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig("test"))
	v, err := b.Execute(func() (interface{}, error) { return 42, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
	if !b.IsHealthy() {
		t.Fatal("expected breaker to remain healthy after a success")
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFailures = 2
	b := NewBreaker(cfg)

	wantErr := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(func() (interface{}, error) { return nil, wantErr })
	}

	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open after consecutive failures, got %v", b.State())
	}
	if b.IsHealthy() {
		t.Fatal("expected IsHealthy false once tripped")
	}

	_, err := b.Execute(func() (interface{}, error) { return nil, nil })
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState while breaker is open, got %v", err)
	}
}
