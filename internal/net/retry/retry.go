// Package retry wraps a fallible operation with bounded geometric
// retries, classifying errors as retryable the same way the provider
// HTTP client pool does for its own internal retry loop.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sawpanic/mtfengine/internal/net/backoff"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int
	Backoff     backoff.Config
}

// DefaultConfig allows up to 3 attempts with the package default
// backoff schedule.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Backoff: backoff.DefaultConfig()}
}

// Do runs fn, retrying on a retryable error up to cfg.MaxAttempts
// times with backoff.Delay between attempts. It returns the last
// error if every attempt fails, or nil on the first success. Context
// cancellation aborts immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := backoff.Wait(ctx, cfg.Backoff, attempt); err != nil {
				return err
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

// IsRetryable reports whether err looks like a transient I/O failure
// (timeout, connection reset/refused, DNS failure) worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"eof",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
