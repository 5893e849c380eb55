// Package resilience composes retry, circuit breaking, rate limiting, and
// queueing around provider streams.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/haasonsaas/chitragupta/internal/provider"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// Jitter enables randomization of delays.
	Jitter bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

func (c RetryConfig) sanitize() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	return c
}

// Delay computes the backoff before retry attempt n (0-based). An explicit
// server retry-after hint on err overrides the exponential schedule.
func (c RetryConfig) Delay(attempt int, err error) time.Duration {
	if hint, ok := provider.RetryAfterHint(err); ok {
		if hint > c.MaxDelay && c.MaxDelay > 0 {
			return c.MaxDelay
		}
		return hint
	}

	delay := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	if c.Jitter {
		// delay * [0.5, 1.5]
		delay *= 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	}
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
