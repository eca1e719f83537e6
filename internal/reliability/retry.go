// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reliability

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ManuGH/fird/internal/fir/errs"
)

// RetryPolicy controls retry-with-backoff at call sites where re-attempting
// is safe. MaxRetries counts re-attempts, so the default of 2 yields three
// attempts total.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryPolicy matches the model client's contract.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
	}
}

// Do runs fn up to 1+MaxRetries times. Between attempts it sleeps the
// exponential backoff plus uniform jitter in [0, base/2), honoring context
// cancellation. A circuit-open error or any non-retryable kind ends the
// loop immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	policy := p
	if policy.Multiplier <= 1 {
		policy.Multiplier = 2.0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.KindTimeout, err, "retry aborted")
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrCircuitOpen) {
			// Retries never bypass the breaker.
			return errs.Wrap(errs.KindCircuitOpen, lastErr, "dependency unavailable")
		}
		if !errs.Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		sleep := delay + time.Duration(rand.Int63n(int64(policy.BaseDelay/2)+1))
		if err := sleepCtx(ctx, sleep); err != nil {
			return errs.Wrap(errs.KindTimeout, err, "retry aborted during backoff")
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
