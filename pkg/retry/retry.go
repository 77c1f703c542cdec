// Package retry bounds store calls with a per-attempt deadline and a single jittered retry.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/charlesng35/feedguard/pkg/metrics"
)

const (
	defaultTimeout  = 2 * time.Second
	defaultDelay    = 50 * time.Millisecond
	defaultAttempts = 2
)

// Policy controls how a store call is bounded and retried.
type Policy struct {
	// Timeout applies to each attempt individually.
	Timeout time.Duration
	// Delay is the base wait before the retry; the actual wait is jittered by +/-50%.
	Delay time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts uint
}

// DefaultPolicy returns a two-attempt policy with a 2s per-attempt deadline.
func DefaultPolicy() Policy {
	return Policy{Timeout: defaultTimeout, Delay: defaultDelay, Attempts: defaultAttempts}
}

func (p Policy) normalised() Policy {
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.Delay <= 0 {
		p.Delay = defaultDelay
	}
	if p.Attempts == 0 {
		p.Attempts = defaultAttempts
	}
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op under the policy. op receives a context carrying the per-attempt deadline.
// Cancellation of the parent context and errors marked Permanent stop immediately.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.normalised()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = 4 * p.Delay

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			metrics.StoreRetries.WithLabelValues(op).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		value, err := fn(callCtx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.Attempts))
}

// Exec is Do for operations without a result value.
func Exec(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
