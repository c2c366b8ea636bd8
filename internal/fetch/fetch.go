// Package fetch walks a paginated source collection.
//
// Pages are requested strictly in increasing offset order, one at a time,
// each wrapped in the retry controller. A page shorter than the requested
// size ends the walk; no total count is ever requested.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/leapstack-labs/stridesync/internal/retry"
	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/pkg/core"
)

// Defaults.
const (
	DefaultPageSize        = 5000
	DefaultInterBatchDelay = 100 * time.Millisecond
)

// Lister fetches one raw page of a collection.
type Lister interface {
	List(ctx context.Context, entity core.Entity, q source.Query) ([]byte, error)
}

// Archiver receives every successfully fetched raw page.
type Archiver interface {
	Archive(ctx context.Context, entity core.Entity, date core.Partition, offset int, body []byte) error
}

// Options selects what to walk.
type Options struct {
	Entity core.Entity
	// Date is sent as the server-side filter when set.
	Date core.Partition
	// Partition names archived pages; defaults to Date.
	Partition core.Partition
	PageSize  int
	// Limit caps the total number of records requested. Zero means no cap.
	Limit int
}

// Fetcher holds the collaborators shared by every walk.
type Fetcher struct {
	lister  Lister
	retrier *retry.Retrier
	logger  *slog.Logger

	// Delay is applied between two successful page fetches.
	Delay    time.Duration
	Sleep    retry.SleepFunc
	Archiver Archiver
	// OnPage is called after each decoded page.
	OnPage func(entity core.Entity, records int)
}

// New creates a Fetcher.
func New(lister Lister, retrier *retry.Retrier, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{
		lister:  lister,
		retrier: retrier,
		logger:  logger,
		Delay:   DefaultInterBatchDelay,
		Sleep:   retry.Sleep,
	}
}

// Pages returns a lazy sequence of decoded record batches.
//
// On failure the sequence yields a single (nil, err) pair and stops. An error
// wrapping retry.ErrExhausted means the collection was abandoned; pages
// yielded before it are valid.
func Pages[T any](ctx context.Context, f *Fetcher, opts Options) iter.Seq2[[]T, error] {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	partition := opts.Partition
	if partition == "" {
		partition = opts.Date
	}
	sleep := f.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	logger := f.logger.With(slog.String("entity", string(opts.Entity)))

	return func(yield func([]T, error) bool) {
		offset, total := 0, 0
		for {
			size := pageSize
			if opts.Limit > 0 {
				remaining := opts.Limit - total
				if remaining <= 0 {
					return
				}
				size = min(size, remaining)
			}
			q := source.Query{Date: opts.Date, Limit: size, Offset: offset}

			page, err := retry.Do(ctx, f.retrier, func(ctx context.Context) ([]T, error) {
				body, err := f.lister.List(ctx, opts.Entity, q)
				if err != nil {
					return nil, err
				}
				var records []T
				if err := json.Unmarshal(body, &records); err != nil {
					return nil, retry.Permanent(fmt.Errorf("failed to decode %s page at offset %d: %w", opts.Entity, offset, err))
				}
				f.archive(ctx, logger, opts.Entity, partition, offset, body)
				return records, nil
			})
			if err != nil {
				logger.Error("page fetch failed",
					slog.Int("offset", offset),
					slog.Int("fetched", total),
					slog.String("error", err.Error()))
				yield(nil, err)
				return
			}

			total += len(page)
			logger.Info("fetched page",
				slog.Int("offset", offset),
				slog.Int("records", len(page)),
				slog.Int("total", total))
			if f.OnPage != nil {
				f.OnPage(opts.Entity, len(page))
			}

			if len(page) == 0 {
				return
			}
			if !yield(page, nil) {
				return
			}
			if len(page) < size || (opts.Limit > 0 && total >= opts.Limit) {
				return
			}

			offset += pageSize
			if err := sleep(ctx, f.Delay); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (f *Fetcher) archive(ctx context.Context, logger *slog.Logger, entity core.Entity, partition core.Partition, offset int, body []byte) {
	if f.Archiver == nil {
		return
	}
	if err := f.Archiver.Archive(ctx, entity, partition, offset, body); err != nil {
		logger.Warn("failed to archive page",
			slog.Int("offset", offset),
			slog.String("error", err.Error()))
	}
}
