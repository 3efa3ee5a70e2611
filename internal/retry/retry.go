// Package retry runs an operation a bounded number of times with a linear
// backoff between failed attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retried call
type Policy struct {
	MaxAttempts       int           `json:"max_attempts"`
	BaseDelay         time.Duration `json:"base_delay"`
	TimeoutPerAttempt time.Duration `json:"timeout_per_attempt"`
}

// DefaultPolicy is one try plus two retries, 2s base delay, 30s per attempt
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         2 * time.Second,
		TimeoutPerAttempt: 30 * time.Second,
	}
}

// Normalize clamps the policy to usable values
func (p Policy) Normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.TimeoutPerAttempt <= 0 {
		p.TimeoutPerAttempt = DefaultPolicy().TimeoutPerAttempt
	}
	return p
}

// Delay is the wait after failed attempt i (0-based): base + 2s*i
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay + time.Duration(2*attempt)*time.Second
}

// Sleeper blocks between attempts
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// ClockSleeper waits on a real timer
var ClockSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// ExhaustedError is returned once every attempt has failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Retrier carries the policy and its collaborators
type Retrier struct {
	Policy  Policy
	Sleeper Sleeper
	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls op until it succeeds or the policy is exhausted. The final failed
// attempt returns immediately without sleeping.
func Do[T any](ctx context.Context, r Retrier, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	policy := r.Policy.Normalize()
	sleeper := r.Sleeper
	if sleeper == nil {
		sleeper = ClockSleeper
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, delay)
		}
		if sleepErr := sleeper.Sleep(ctx, delay); sleepErr != nil {
			return zero, &ExhaustedError{
				Attempts: attempt + 1,
				Last:     fmt.Errorf("%w (interrupted: %v)", lastErr, sleepErr),
			}
		}
	}
	return zero, &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}
