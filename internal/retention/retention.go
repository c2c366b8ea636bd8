// Package retention deletes partitions that fell out of the rolling window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// DefaultKeepDays is the retention horizon in days.
const DefaultKeepDays = 7

// DefaultTables are swept unless configured otherwise. Rides are opt-in.
var DefaultTables = []string{core.TableStops, core.TableRoutes, core.TableRelevance}

// Config selects what the sweeper removes.
type Config struct {
	KeepDays int      `koanf:"keep_days" validate:"gte=0"`
	Tables   []string `koanf:"tables" validate:"dive,oneof=stops routes rides city_relevant_stops"`
}

// Result is the outcome of one sweep.
type Result struct {
	Cutoff  core.Partition
	Deleted map[string]int64
	Failed  []string
	Err     error
}

// Sweeper deletes old rows table by table.
type Sweeper struct {
	sink   sink.Sink
	cfg    Config
	logger *slog.Logger
}

// New creates a Sweeper. An empty table list falls back to DefaultTables.
func New(s sink.Sink, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(cfg.Tables) == 0 {
		cfg.Tables = DefaultTables
	}
	return &Sweeper{sink: s, cfg: cfg, logger: logger}
}

// Cutoff is the first partition that is kept.
func (s *Sweeper) Cutoff(today core.Partition) core.Partition {
	return today.AddDays(-s.cfg.KeepDays)
}

// Sweep deletes rows whose date precedes the cutoff. A failing table is
// logged and the remaining tables are still swept.
func (s *Sweeper) Sweep(ctx context.Context, today core.Partition) Result {
	cutoff := s.Cutoff(today)
	res := Result{Cutoff: cutoff, Deleted: make(map[string]int64, len(s.cfg.Tables))}
	var errs []error

	for _, table := range s.cfg.Tables {
		n, err := s.sink.Delete(ctx, table, sink.Lt("date", cutoff.String()))
		if err != nil {
			s.logger.Error("failed to sweep table",
				slog.String("table", table),
				slog.String("cutoff", cutoff.String()),
				slog.String("error", err.Error()))
			res.Failed = append(res.Failed, table)
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
			continue
		}
		res.Deleted[table] = n
		s.logger.Info("swept table",
			slog.String("table", table),
			slog.String("cutoff", cutoff.String()),
			slog.Int64("deleted", n))
	}
	res.Err = errors.Join(errs...)
	return res
}

// StageResult maps the sweep to a stage outcome.
func (r Result) StageResult() core.StageResult {
	var total int64
	for _, n := range r.Deleted {
		total += n
	}
	if len(r.Failed) > 0 {
		return core.Partial(int(total), "failed tables: "+strings.Join(r.Failed, ", "))
	}
	return core.Success(int(total))
}
