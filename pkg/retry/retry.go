// Package retry re-runs operations that lost a lock race.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy suits short row-lock conflicts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialInterval: 20 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
