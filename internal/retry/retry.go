// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times an operation runs and how long to wait in
// between. Delays grow by Multiplier starting at InitialDelay, capped at
// MaxDelay. There is no wait after the final attempt.
type Policy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retryable reports whether a failed attempt should be tried again.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry is called before each wait with the 1-based number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is five attempts, one second doubling. Five attempts have
// four gaps, so the waits are 1s, 2s, 4s and 8s (15s in total); no 16s wait
// follows the final attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
	}
}

// Do runs op until it succeeds, returns a non-retryable error or the attempts
// run out. The error of the last attempt is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     p.InitialDelay,
			RandomizationFactor: 0,
			Multiplier:          p.Multiplier,
			MaxInterval:         p.MaxDelay,
		}),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			p.OnRetry(attempt, err, d)
		}))
	}

	res, err := backoff.Retry(ctx, operation, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}
