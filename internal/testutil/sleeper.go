package testutil

import (
	"context"
	"sync"
	"time"
)

// Sleeper records requested waits instead of sleeping.
type Sleeper struct {
	mu    sync.Mutex
	Waits []time.Duration
}

// Sleep records d and returns immediately, or returns the context error.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Waits = append(s.Waits, d)
	return nil
}

// Total returns the sum of all recorded waits.
func (s *Sleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.Waits {
		total += d
	}
	return total
}

// Count returns how many waits of exactly d were recorded.
func (s *Sleeper) Count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.Waits {
		if w == d {
			n++
		}
	}
	return n
}
