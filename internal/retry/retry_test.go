package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/stridesync/internal/testutil"
)

func newTestRetrier(t *testing.T) (*Retrier, *testutil.Sleeper) {
	t.Helper()
	sleeper := &testutil.Sleeper{}
	r := New(DefaultPolicy(), testutil.NewTestLogger(t))
	r.Sleep = sleeper.Sleep
	return r, sleeper
}

func TestPolicy_Waits(t *testing.T) {
	waits := DefaultPolicy().Waits()
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, waits)
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	r, sleeper := newTestRetrier(t)

	got, err := Do(context.Background(), r, func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Empty(t, sleeper.Waits)
}

func TestDo_RecoversAfterFailures(t *testing.T) {
	r, sleeper := newTestRetrier(t)
	var states []State
	r.OnState = func(s State, _ int) { states = append(states, s) }

	calls := 0
	got, err := Do(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeper.Waits)
	assert.Equal(t, []State{
		StateAttempting, StateBackoff,
		StateAttempting, StateBackoff,
		StateAttempting, StateSucceeded,
	}, states)
}

func TestDo_Exhausted(t *testing.T) {
	r, sleeper := newTestRetrier(t)
	var retries []int
	r.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	calls := 0
	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("timeout")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "after 5 attempts")
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, 5, calls)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, retries)
	assert.Equal(t, 95*time.Second, sleeper.Total())
	assert.Equal(t, 2, sleeper.Count(30*time.Second))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	r, sleeper := newTestRetrier(t)
	cause := errors.New("bad request")

	calls := 0
	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.Waits)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(DefaultPolicy(), testutil.NewTestLogger(t))
	r.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := Do(ctx, r, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttemptPolicy(t *testing.T) {
	r, sleeper := newTestRetrier(t)
	r.Policy.MaxAttempts = 1

	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.Waits)
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "attempting", StateAttempting.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
}
