package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper captures requested delays without waiting
type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(0))
	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 7*time.Second, p.Delay(2))
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{MaxAttempts: 0, BaseDelay: -time.Second}.Normalize()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Duration(0), p.BaseDelay)
	assert.Equal(t, DefaultPolicy().TimeoutPerAttempt, p.TimeoutPerAttempt)
}

func TestDo_SucceedsOnAttemptN(t *testing.T) {
	for n := 1; n <= 3; n++ {
		sleeper := &recordingSleeper{}
		calls := 0

		got, err := Do(context.Background(), Retrier{Policy: DefaultPolicy(), Sleeper: sleeper},
			func(_ context.Context, attempt int) (string, error) {
				calls++
				if attempt < n-1 {
					return "", errors.New("boom")
				}
				return "ok", nil
			})

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, n, calls)
		assert.Len(t, sleeper.delays, n-1, "exactly N-1 delays for success on attempt %d", n)
	}
}

func TestDo_Exhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
	last := errors.New("third failure")
	calls := 0

	_, err := Do(context.Background(), Retrier{Policy: policy, Sleeper: sleeper},
		func(_ context.Context, attempt int) (int, error) {
			calls++
			if attempt == 2 {
				return 0, last
			}
			return 0, errors.New("early failure")
		})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
	// no sleep after the final attempt
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int
	r := Retrier{
		Policy:  Policy{MaxAttempts: 2},
		Sleeper: &recordingSleeper{},
		OnRetry: func(attempt int, err error, delay time.Duration) { seen = append(seen, attempt) },
	}
	_, err := Do(context.Background(), r, func(context.Context, int) (bool, error) {
		return false, errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, []int{0}, seen)
}

func TestDo_SleepInterrupted(t *testing.T) {
	sleeper := &recordingSleeper{err: context.Canceled}
	_, err := Do(context.Background(), Retrier{Policy: DefaultPolicy(), Sleeper: sleeper},
		func(context.Context, int) (int, error) { return 0, errors.New("down") })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Contains(t, err.Error(), "interrupted")
}

func TestClockSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ClockSleeper.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
