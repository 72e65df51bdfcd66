package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/config"
)

// Policy controls retries with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction spreads each delay by ±fraction.
	JitterFraction float64
	// Retryable decides whether an error is worth another attempt.
	// Nil uses IsTransient.
	Retryable func(err error) bool
	// Name labels retry log lines.
	Name string
}

// DefaultPolicy returns the default retry policy for outbound calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.2,
	}
}

// PolicyFromConfig builds a Policy from configuration, keeping defaults for
// unset values.
func PolicyFromConfig(cfg config.ResilienceConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFraction >= 0 {
		p.JitterFraction = cfg.JitterFraction
	}
	return p
}

// BreakerFromConfig builds a BreakerConfig from configuration.
func BreakerFromConfig(cfg config.ResilienceConfig) BreakerConfig {
	b := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		b.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		b.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return b
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == p.MaxAttempts-1 {
			break
		}

		zap.L().Debug("resilience: retrying",
			zap.String("name", p.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoff returns the delay before retry number attempt+1.
func (p Policy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.JitterFraction
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
