package pipeline

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/stridesync/internal/dedup"
	"github.com/leapstack-labs/stridesync/internal/fetch"
	"github.com/leapstack-labs/stridesync/internal/writer"
	"github.com/leapstack-labs/stridesync/pkg/core"
)

func (p *Pipeline) defaultStages() []*Stage {
	return []*Stage{
		{Name: StageStops, Fetches: true, Run: p.syncStops},
		{Name: StageRoutes, Fetches: true, Run: p.syncRoutes},
		{Name: StageTrips, Fetches: true, Run: p.syncTrips},
		{Name: StageRelevance, DependsOn: []string{StageStops}, Run: p.buildRelevance},
		{
			Name:      StageRetention,
			DependsOn: []string{StageStops, StageRoutes, StageTrips, StageRelevance},
			AlwaysRun: true,
			Run:       p.sweep,
		},
	}
}

// syncStops walks the stop collection through the dedup accumulator, which
// flushes unique stops to the sink every FlushThreshold fetched records.
func (p *Pipeline) syncStops(ctx context.Context, rc *RunContext) core.StageResult {
	var written writer.Result
	flush := func(ctx context.Context, stops []core.Stop) error {
		rows := make([]core.Row, len(stops))
		for i, s := range stops {
			rows[i] = s.Row(rc.Partition, rc.SyncedAt)
		}
		res, err := p.writer.Write(ctx, core.TableStops, rows, core.StopConflictKey, writer.FailFast)
		written.Add(res)
		return err
	}
	acc := dedup.New(core.Stop.DedupKey, flush, p.opts.Pipeline.FlushThreshold, rc.Logger)

	var fetchErr error
	clipped := 0
	pages := fetch.Pages[core.Stop](ctx, p.fetcher(core.EntityStops, rc.Logger), fetch.Options{
		Entity:   core.EntityStops,
		Date:     rc.Partition,
		PageSize: p.opts.PageSize,
	})
	for page, err := range pages {
		if err != nil {
			fetchErr = err
			break
		}
		if p.deps.Clip != nil {
			kept := p.deps.Clip.Filter(page)
			clipped += len(page) - len(kept)
			page = kept
		}
		if err := acc.Add(ctx, page); err != nil {
			return core.Fatal(written.Written, err)
		}
	}
	if err := acc.Drain(ctx); err != nil {
		return core.Fatal(written.Written, err)
	}

	rc.Logger.Info("stops synced",
		slog.Int("fetched", acc.Seen()),
		slog.Int("clipped", clipped),
		slog.Int("written", written.Written),
		slog.Int("flushes", acc.Flushes()))
	return entityOutcome(written.Written, fetchErr)
}

func (p *Pipeline) syncRoutes(ctx context.Context, rc *RunContext) core.StageResult {
	var written writer.Result
	var fetchErr error
	pages := fetch.Pages[core.Route](ctx, p.fetcher(core.EntityRoutes, rc.Logger), fetch.Options{
		Entity:   core.EntityRoutes,
		Date:     rc.Partition,
		PageSize: p.opts.PageSize,
	})
	for page, err := range pages {
		if err != nil {
			fetchErr = err
			break
		}
		rows := make([]core.Row, len(page))
		for i, r := range page {
			rows[i] = r.Row(rc.Partition, rc.SyncedAt)
		}
		res, err := p.writer.Write(ctx, core.TableRoutes, rows, core.RouteConflictKey, writer.FailFast)
		written.Add(res)
		if err != nil {
			return core.Fatal(written.Written, err)
		}
	}
	return entityOutcome(written.Written, fetchErr)
}

// syncTrips fetches trips until the sample holds TripSample trips that start
// on the partition day. Trips from other days do not count toward the cap.
func (p *Pipeline) syncTrips(ctx context.Context, rc *RunContext) core.StageResult {
	opts := fetch.Options{
		Entity:    core.EntityTrips,
		Partition: rc.Partition,
		PageSize:  p.opts.PageSize,
	}
	if p.opts.Pipeline.TripServerFilter {
		opts.Date = rc.Partition
	}
	limit := p.opts.Pipeline.TripSample

	var written writer.Result
	var fetchErr error
	fetched, dropped, kept := 0, 0, 0
	for page, err := range fetch.Pages[core.Trip](ctx, p.fetcher(core.EntityTrips, rc.Logger), opts) {
		if err != nil {
			fetchErr = err
			break
		}
		fetched += len(page)
		rows := make([]core.Row, 0, len(page))
		for _, t := range page {
			if t.StartDate() != rc.Partition.String() {
				dropped++
				continue
			}
			if limit > 0 && kept == limit {
				break
			}
			rows = append(rows, t.Row(rc.Partition, rc.SyncedAt))
			kept++
		}
		res, err := p.writer.Write(ctx, core.TableRides, rows, core.TripConflictKey, writer.FailFast)
		written.Add(res)
		if err != nil {
			return core.Fatal(written.Written, err)
		}
		if limit > 0 && kept == limit {
			break
		}
	}

	rc.Logger.Info("trips synced",
		slog.Int("fetched", fetched),
		slog.Int("other_days", dropped),
		slog.Int("written", written.Written))
	return entityOutcome(written.Written, fetchErr)
}

func (p *Pipeline) buildRelevance(ctx context.Context, rc *RunContext) core.StageResult {
	return p.builder.Build(ctx, rc.Partition)
}

// sweep counts the window back from the current day, not the run partition.
func (p *Pipeline) sweep(ctx context.Context, rc *RunContext) core.StageResult {
	return p.sweeper.Sweep(ctx, core.PartitionOf(p.opts.Now())).StageResult()
}
