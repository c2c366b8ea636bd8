// Package dedup accumulates records by natural key under a memory bound.
package dedup

import (
	"context"
	"log/slog"
)

// DefaultThreshold is the fetched-record count that triggers a flush.
const DefaultThreshold = 10000

// FlushFunc receives a drained unique set.
type FlushFunc[T any] func(ctx context.Context, records []T) error

// Accumulator keeps the latest record per key until it is drained.
// It is owned by a single entity sync and is not safe for concurrent use.
type Accumulator[T any] struct {
	key       func(T) string
	flush     FlushFunc[T]
	threshold int
	logger    *slog.Logger

	order   []string
	records map[string]T

	// next is the cumulative seen count that triggers the next flush.
	next    int
	seen    int
	flushes int
}

// New creates an accumulator. A threshold of zero uses DefaultThreshold.
func New[T any](key func(T) string, flush FlushFunc[T], threshold int, logger *slog.Logger) *Accumulator[T] {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Accumulator[T]{
		key:       key,
		flush:     flush,
		threshold: threshold,
		next:      threshold,
		logger:    logger,
		records:   make(map[string]T),
	}
}

// Add records a batch. Later records replace earlier ones with the same key.
// Each time the total added crosses a multiple of the threshold the unique
// set is flushed. A batch crossing several multiples flushes once.
func (a *Accumulator[T]) Add(ctx context.Context, batch []T) error {
	for _, r := range batch {
		k := a.key(r)
		if _, ok := a.records[k]; !ok {
			a.order = append(a.order, k)
		}
		a.records[k] = r
	}
	a.seen += len(batch)

	if a.seen < a.next {
		return nil
	}
	for a.seen >= a.next {
		a.next += a.threshold
	}
	return a.Drain(ctx)
}

// Drain flushes the current unique set in first-seen order and clears it.
// An empty set is not flushed.
func (a *Accumulator[T]) Drain(ctx context.Context) error {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]T, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, a.records[k])
	}
	a.order = a.order[:0]
	clear(a.records)
	a.flushes++

	a.logger.Debug("flushing unique records",
		slog.Int("unique", len(out)),
		slog.Int("seen", a.seen))
	return a.flush(ctx, out)
}

// Len is the number of unique records currently held.
func (a *Accumulator[T]) Len() int { return len(a.order) }

// Seen is the total number of records added.
func (a *Accumulator[T]) Seen() int { return a.seen }

// Flushes is the number of non-empty drains so far.
func (a *Accumulator[T]) Flushes() int { return a.flushes }
