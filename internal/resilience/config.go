package resilience

import (
	"context"
	"errors"
	"time"
)

// Policy bundles retry and breaker settings for one dependency.
type Policy struct {
	Retry   RetryConfig
	Breaker *Breaker
}

// NewPolicy builds a Policy from flat config values. Zero values fall back
// to defaults.
func NewPolicy(name string, maxAttempts int, initialBackoff, maxBackoff time.Duration, threshold int, cooldown time.Duration) *Policy {
	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	if initialBackoff > 0 {
		retry.InitialBackoff = initialBackoff
	}
	if maxBackoff > 0 {
		retry.MaxBackoff = maxBackoff
	}
	retry.OnRetry = LogRetry(name)
	return &Policy{
		Retry:   retry,
		Breaker: NewBreaker(name, BreakerConfig{Threshold: threshold, Cooldown: cooldown}),
	}
}

// Run executes fn under the breaker, retrying transient failures. An open
// breaker is not retried.
func Run[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.Retry
	base := retry.normalized().Retryable
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && base(err)
	}
	return Do(ctx, retry, func(ctx context.Context) (T, error) {
		return Call(ctx, p.Breaker, fn)
	})
}
