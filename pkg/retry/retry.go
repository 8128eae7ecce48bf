// Package retry provides bounded retry with jittered exponential backoff
// for exchange calls.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the attempts and the backoff window for one operation.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy fits the monitoring poll cadence: all attempts including
// backoff must resolve well inside one tick, so the backoff is capped at
// one second.
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// IsTransientFunc reports whether an error is worth retrying.
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, fails permanently, or the policy is
// exhausted. The wait doubles after each attempt, jittered by up to half
// the base value so the two accounts never retry in lockstep.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	backoff := policy.InitialBackoff

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) || attempt == policy.MaxAttempts {
			return err
		}

		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(backoff*2, policy.MaxBackoff)
	}
	return err
}
