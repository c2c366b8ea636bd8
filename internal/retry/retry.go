// Package retry runs an operation under a bounded exponential backoff policy.
//
// A Retrier walks a small state machine (Attempting, Backoff, Exhausted,
// Succeeded) driven by an attempt counter. Exhaustion is reported with the
// ErrExhausted sentinel so callers can abandon the current unit of work
// without treating it as a crash.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// State is a retry state machine state.
type State int

// Retry states.
const (
	StateAttempting State = iota
	StateBackoff
	StateExhausted
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateExhausted:
		return "exhausted"
	case StateSucceeded:
		return "succeeded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy bounds the number of attempts and the waits between them.
// The wait after failed attempt k is min(InitialInterval * Multiplier^(k-1), MaxInterval).
type Policy struct {
	MaxAttempts     int           `koanf:"max_attempts" validate:"min=1"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `koanf:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `koanf:"multiplier" validate:"gte=1"`
}

// DefaultPolicy returns five attempts waiting 5s, 10s, 20s, 30s, 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

// NewBackOff returns a deterministic exponential schedule for the policy.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Waits lists the wait that follows each failed attempt.
func (p Policy) Waits() []time.Duration {
	b := p.NewBackOff()
	out := make([]time.Duration, p.MaxAttempts)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retrier carries a policy and its collaborators.
type Retrier struct {
	Policy Policy
	Sleep  SleepFunc
	Logger *slog.Logger

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	// OnState is called on every state transition.
	OnState func(state State, attempt int)
}

// New creates a Retrier with real sleeps.
// If logger is nil, a discard logger is used.
func New(policy Policy, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retrier{Policy: policy, Sleep: Sleep, Logger: logger}
}

// Do runs op until it succeeds, returns a permanent error, or the policy is exhausted.
// Exhaustion returns an error wrapping ErrExhausted; the last failure is kept in the message.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		result  T
		lastErr error
		attempt int
	)
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxAttempts := r.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	schedule := r.Policy.NewBackOff()

	state := StateAttempting
	for {
		if r.OnState != nil {
			r.OnState(state, attempt)
		}

		switch state {
		case StateAttempting:
			attempt++
			v, err := op(ctx)
			if err == nil {
				result = v
				state = StateSucceeded
				continue
			}
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return zero, perm.Unwrap()
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			lastErr = err
			state = StateBackoff

		case StateBackoff:
			wait := schedule.NextBackOff()
			logger.Warn("attempt failed, backing off",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
				slog.Duration("wait", wait),
				slog.String("error", lastErr.Error()))
			if r.OnRetry != nil {
				r.OnRetry(attempt, lastErr, wait)
			}
			if err := sleep(ctx, wait); err != nil {
				return zero, err
			}
			if attempt >= maxAttempts {
				state = StateExhausted
			} else {
				state = StateAttempting
			}

		case StateExhausted:
			logger.Error("giving up",
				slog.Int("attempts", attempt),
				slog.String("error", lastErr.Error()))
			return zero, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempt, lastErr)

		case StateSucceeded:
			if attempt > 1 {
				logger.Info("succeeded after retry", slog.Int("attempt", attempt))
			}
			return result, nil
		}
	}
}
