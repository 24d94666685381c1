package resilience

import (
	"context"
	"errors"
	"time"
)

// Policy applies a per-attempt timeout inside retry inside an optional
// circuit breaker. The zero Policy calls fn once with no bounds.
type Policy struct {
	Name    string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Do runs fn under the policy.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func() error {
		return WithTimeout(ctx, p.Timeout, p.Name, fn)
	}
	if p.Breaker != nil {
		guarded := attempt
		attempt = func() error {
			return p.Breaker.Execute(guarded)
		}
	}
	return Retry(ctx, p.Name, p.Retry, attempt)
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
