package suite

import (
	"context"
	"errors"
	"time"

	"github.com/lukemcguire/primal/explorer"
	"github.com/lukemcguire/primal/result"
)

// RetryPolicy configures how often a run that failed to navigate is
// repeated. Other failures are verdicts about the page and are never
// retried.
type RetryPolicy struct {
	MaxRetries int           `yaml:"retries"`     // 0 runs every target once
	BaseDelay  time.Duration `yaml:"retry_delay"` // first backoff
	MaxDelay   time.Duration `yaml:"retry_max_delay"`
}

// DefaultRetryPolicy returns a policy with no retries and a 1s base delay
// doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 0,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// backoff returns the delay before retry number n (1-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// shouldRetry reports whether a run error is a transient navigation
// failure. Chaos aborts and offline emulation are configured on purpose, so
// repeating them would only produce the same verdict.
func shouldRetry(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if !errors.Is(err, explorer.ErrNavigation) {
		return false
	}
	switch result.NavigationReason(err) {
	case result.ReasonTimeout, result.ReasonDNSFailure, result.ReasonConnectionRefused, result.ReasonUnknown:
		return true
	}
	return false
}
