// Package writer applies rows to a sink in fixed-size chunks.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/stridesync/internal/retry"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// Defaults.
const (
	DefaultBatchSize = 1000
	DefaultDelay     = 50 * time.Millisecond
)

// FailurePolicy decides what a chunk failure does to the rest of the write.
type FailurePolicy int

const (
	// FailFast stops at the first failed chunk and returns its error.
	FailFast FailurePolicy = iota
	// Continue logs the failed chunk and moves on.
	Continue
)

func (p FailurePolicy) String() string {
	if p == Continue {
		return "continue"
	}
	return "fail_fast"
}

// Result summarizes one Write call.
type Result struct {
	Written      int
	Failed       int
	Chunks       int
	FailedChunks []int
}

// Add folds another result into r. Chunk numbers of o are shifted past r's.
func (r *Result) Add(o Result) {
	for _, c := range o.FailedChunks {
		r.FailedChunks = append(r.FailedChunks, c+r.Chunks)
	}
	r.Written += o.Written
	r.Failed += o.Failed
	r.Chunks += o.Chunks
}

// Writer chunks rows into a sink.
type Writer struct {
	sink   sink.Sink
	logger *slog.Logger

	BatchSize int
	Delay     time.Duration
	Sleep     retry.SleepFunc
	// OnChunk is called after every chunk with its row count and error.
	OnChunk func(table string, rows int, err error)
}

// New creates a Writer with the default batch size and delay.
func New(s sink.Sink, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{
		sink:      s,
		logger:    logger,
		BatchSize: DefaultBatchSize,
		Delay:     DefaultDelay,
		Sleep:     retry.Sleep,
	}
}

// Write applies rows in chunks. An empty conflictKey inserts instead of upserting.
// Under FailFast the first chunk error is returned along with the partial result.
// Under Continue the error is nil and failures are reported in the result.
func (w *Writer) Write(ctx context.Context, table string, rows []core.Row, conflictKey []string, policy FailurePolicy) (Result, error) {
	var res Result
	size := w.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	sleep := w.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}

	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := rows[start:end]
		res.Chunks++

		var err error
		if len(conflictKey) == 0 {
			err = w.sink.Insert(ctx, table, chunk)
		} else {
			err = w.sink.Upsert(ctx, table, chunk, conflictKey)
		}
		if w.OnChunk != nil {
			w.OnChunk(table, len(chunk), err)
		}

		if err != nil {
			res.Failed += len(chunk)
			res.FailedChunks = append(res.FailedChunks, res.Chunks)
			w.logger.Error("chunk write failed",
				slog.String("table", table),
				slog.Int("chunk", res.Chunks),
				slog.Int("rows", len(chunk)),
				slog.String("policy", policy.String()),
				slog.String("error", err.Error()))
			if policy == FailFast {
				return res, fmt.Errorf("failed to write chunk %d of %s: %w", res.Chunks, table, err)
			}
		} else {
			res.Written += len(chunk)
			w.logger.Info("wrote chunk",
				slog.String("table", table),
				slog.Int("chunk", res.Chunks),
				slog.String("progress", fmt.Sprintf("%d/%d", end, len(rows))))
		}

		if err := sleep(ctx, w.Delay); err != nil {
			return res, err
		}
	}
	return res, nil
}
