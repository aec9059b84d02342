package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RetryConfig is the backoff schedule for one service. Each wait doubles the
// previous one up to MaxBackoff, with up to a quarter of jitter either way.
type RetryConfig struct {
	// MaxAttempts counts the first try; 1 disables retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Default: 10s.
	MaxBackoff time.Duration

	Clock clockwork.Clock
}

// DefaultRetryConfig returns the schedule used for the public APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// backoff returns the wait before retry number attempt (1-based), before jitter.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.InitialBackoff << (attempt - 1)
	if d <= 0 || d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration((rand.Float64()*2-1)*float64(d)/4)
}

// Do calls fn until it succeeds, fails with a non-transient error, ctx ends or
// the attempts run out, and returns the last error. Retries are logged under
// service.
func Do(ctx context.Context, service string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt >= cfg.MaxAttempts {
			return err
		}

		wait := jitter(cfg.backoff(attempt))
		zap.L().Warn("retrying request",
			zap.String("service", service),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-cfg.Clock.After(wait):
		}
	}
}
