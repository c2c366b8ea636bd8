package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/stridesync/internal/metrics"
	"github.com/leapstack-labs/stridesync/internal/retention"
	"github.com/leapstack-labs/stridesync/internal/retry"
	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/internal/state"
	tu "github.com/leapstack-labs/stridesync/internal/testutil"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

const day = core.Partition("2026-10-19")

// fakeSource serves fixed collections with offset/limit paging.
type fakeSource struct {
	mu        sync.Mutex
	data      map[core.Entity][]any
	fail      map[core.Entity]error
	healthErr error
	queries   map[core.Entity][]source.Query
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data: map[core.Entity][]any{
			core.EntityStops: {
				core.Stop{ID: 1, Code: 100, Name: "תחנה מרכזית", City: "חדרה", Lat: 32.43, Lon: 34.92},
				core.Stop{ID: 2, Code: 101, Name: "הרצל", City: "חדרה", Lat: 32.44, Lon: 34.91},
				core.Stop{ID: 3, Code: 100, Name: "תחנה מרכזית", City: "חדרה", Lat: 32.43, Lon: 34.92},
				core.Stop{ID: 4, Code: 200, Name: "דיזנגוף", City: "תל אביב יפו", Lat: 32.08, Lon: 34.78},
			},
			core.EntityRoutes: {
				core.Route{ID: 10, LineRef: 1, RouteShortName: "1"},
				core.Route{ID: 11, LineRef: 2, RouteShortName: "2"},
			},
			core.EntityTrips: {
				core.Trip{ID: 1000, RouteID: 10, StartTime: "2026-10-19T06:00:00+03:00"},
				core.Trip{ID: 1001, RouteID: 10, StartTime: "2026-10-18T23:50:00+03:00"},
				core.Trip{ID: 1002, RouteID: 11, StartTime: "2026-10-19T07:15:00+03:00"},
			},
		},
		fail:    map[core.Entity]error{},
		queries: map[core.Entity][]source.Query{},
	}
}

func (s *fakeSource) List(_ context.Context, entity core.Entity, q source.Query) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[entity] = append(s.queries[entity], q)
	if err := s.fail[entity]; err != nil {
		return nil, err
	}
	all := s.data[entity]
	page := []any{}
	for i := q.Offset; i < q.Offset+q.Limit && i < len(all); i++ {
		page = append(page, all[i])
	}
	return json.Marshal(page)
}

func (s *fakeSource) Health(context.Context) error { return s.healthErr }

type recordingNotifier struct {
	msgs []any
}

func (n *recordingNotifier) Publish(_ context.Context, msg any) error {
	n.msgs = append(n.msgs, msg)
	return nil
}

type fixture struct {
	src      *fakeSource
	mem      *sink.Memory
	sleeper  *tu.Sleeper
	metrics  *metrics.Metrics
	notifier *recordingNotifier
	deps     Deps
	opts     Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		src:      newFakeSource(),
		mem:      sink.NewMemory(),
		sleeper:  &tu.Sleeper{},
		metrics:  metrics.New(),
		notifier: &recordingNotifier{},
	}
	f.deps = Deps{
		Source:   f.src,
		Sink:     f.mem,
		Metrics:  f.metrics,
		Notifier: f.notifier,
		Logger:   tu.NewTestLogger(t),
	}
	f.opts = DefaultOptions()
	f.opts.PageSize = 2
	f.opts.Pipeline.FlushThreshold = 3
	f.opts.Sleep = f.sleeper.Sleep
	now := time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)
	f.opts.Now = func() time.Time { return now }
	return f
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(f.deps, f.opts)
	require.NoError(t, err)
	return p
}

// metricValue sums the counter or gauge samples of name whose label matches.
func metricValue(t *testing.T, m *metrics.Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					total += metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
				}
			}
		}
	}
	return total
}

func outcomes(r *Report) map[string]core.Outcome {
	out := make(map[string]core.Outcome, len(r.Results))
	for _, res := range r.Results {
		out[res.Stage] = res.Outcome
	}
	return out
}

func TestNew_RequiresSink(t *testing.T) {
	_, err := New(Deps{}, DefaultOptions())
	assert.Error(t, err)
}

func TestPipeline_Stages(t *testing.T) {
	p := newFixture(t).pipeline(t)
	names, err := p.Stages()
	require.NoError(t, err)
	assert.Equal(t, AllStages, names)
}

func TestPipeline_FullRun(t *testing.T) {
	f := newFixture(t)
	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, core.RunStatusCompleted, report.Status)
	assert.True(t, report.Complete())
	assert.Equal(t, map[string]core.Outcome{
		StageStops:     core.OutcomeSuccess,
		StageRoutes:    core.OutcomeSuccess,
		StageTrips:     core.OutcomeSuccess,
		StageRelevance: core.OutcomeSuccess,
		StageRetention: core.OutcomeSuccess,
	}, outcomes(report))

	// Duplicate stop 100 collapses to one row.
	assert.Len(t, f.mem.Rows(core.TableStops), 3)
	assert.Len(t, f.mem.Rows(core.TableRoutes), 2)
	// The trip starting the day before is filtered out.
	assert.Len(t, f.mem.Rows(core.TableRides), 2)
	assert.NotEmpty(t, f.mem.Rows(core.TableRelevance))

	assert.Equal(t, int64(3), report.Counts[core.TableStops])
	assert.Equal(t, int64(2), report.Counts[core.TableRides])

	for _, q := range f.src.queries[core.EntityTrips] {
		assert.Equal(t, day, q.Date, "trips are filtered by date on the server")
	}
	// One delay after every full page: two for stops, one each for routes and trips.
	assert.Equal(t, 4, f.sleeper.Count(f.opts.InterBatchDelay))
}

func TestPipeline_TripsWithoutServerFilter(t *testing.T) {
	f := newFixture(t)
	f.opts.Pipeline.TripServerFilter = false
	_, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	for _, q := range f.src.queries[core.EntityTrips] {
		assert.Empty(t, q.Date)
	}
	assert.Len(t, f.mem.Rows(core.TableRides), 2)
}

func TestPipeline_TripSampleCountsKeptTrips(t *testing.T) {
	f := newFixture(t)
	f.opts.Pipeline.TripServerFilter = false
	f.opts.Pipeline.TripSample = 2
	f.src.data[core.EntityTrips] = []any{
		core.Trip{ID: 1000, RouteID: 10, StartTime: "2026-10-19T06:00:00+03:00"},
		core.Trip{ID: 1001, RouteID: 10, StartTime: "2026-10-18T23:50:00+03:00"},
		core.Trip{ID: 1002, RouteID: 11, StartTime: "2026-10-18T22:10:00+03:00"},
		core.Trip{ID: 1003, RouteID: 11, StartTime: "2026-10-19T07:15:00+03:00"},
		core.Trip{ID: 1004, RouteID: 11, StartTime: "2026-10-19T08:30:00+03:00"},
	}

	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	res, _ := report.Result(StageTrips)
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)
	assert.Len(t, f.mem.Rows(core.TableRides), 2, "other-day trips do not use up the sample")
	assert.Len(t, f.src.queries[core.EntityTrips], 2, "stops paging once the sample is full")
}

func TestPipeline_RetentionAnchoredOnToday(t *testing.T) {
	f := newFixture(t)
	f.opts.Retention = retention.Config{KeepDays: 7, Tables: []string{core.TableStops}}
	ctx := context.Background()

	current, expired := day.AddDays(-3), day.AddDays(-10)
	require.NoError(t, f.mem.Upsert(ctx, core.TableStops, []core.Row{
		{"code": int64(999), "city": "חדרה", "date": current.String()},
		{"code": int64(999), "city": "חדרה", "date": expired.String()},
	}, core.StopConflictKey))

	// A partition far ahead of today must not push the cutoff past current data.
	report, err := f.pipeline(t).RunStages(ctx, day.AddDays(30), StageRetention)
	require.NoError(t, err)
	res, _ := report.Result(StageRetention)
	assert.Equal(t, 1, res.Rows)

	rows := f.mem.Rows(core.TableStops)
	require.Len(t, rows, 1)
	assert.Equal(t, current.String(), rows[0]["date"])
}

func TestPipeline_SourceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.src.healthErr = errors.New("connection refused")

	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	for _, stage := range []string{StageStops, StageRoutes, StageTrips} {
		res, ok := report.Result(stage)
		require.True(t, ok)
		assert.Equal(t, core.OutcomeSkipped, res.Outcome)
		assert.Equal(t, ReasonSourceUnavailable, res.Reason)
	}
	// Nothing was persisted, so relevance has no stops to index.
	res, _ := report.Result(StageRelevance)
	assert.Equal(t, core.OutcomePartialSuccess, res.Outcome)
	res, _ = report.Result(StageRetention)
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)
	assert.Empty(t, f.src.queries)
	assert.False(t, report.Complete())
}

func TestPipeline_FetchExhaustedIsPartial(t *testing.T) {
	f := newFixture(t)
	f.src.fail[core.EntityRoutes] = errors.New("boom")

	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	res, _ := report.Result(StageRoutes)
	assert.Equal(t, core.OutcomePartialSuccess, res.Outcome)
	assert.Contains(t, res.Reason, "retries exhausted")
	assert.Len(t, f.src.queries[core.EntityRoutes], retry.DefaultPolicy().MaxAttempts)
	assert.Equal(t, float64(retry.DefaultPolicy().MaxAttempts),
		metricValue(t, f.metrics, "stridesync_fetch_retries_total", "entity", string(core.EntityRoutes)))

	res, _ = report.Result(StageStops)
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)
}

func TestPipeline_FatalStopsSkipsRelevance(t *testing.T) {
	f := newFixture(t)
	f.mem.Fail = func(op sink.Op, table string) error {
		if op == sink.OpUpsert && table == core.TableStops {
			return errors.New("disk full")
		}
		return nil
	}

	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	stops, _ := report.Result(StageStops)
	assert.Equal(t, core.OutcomeFatal, stops.Outcome)
	assert.Contains(t, stops.Reason, "disk full")

	rel, _ := report.Result(StageRelevance)
	assert.Equal(t, core.OutcomeSkipped, rel.Outcome)
	assert.Equal(t, "dependency failed: stops", rel.Reason)

	assert.Equal(t, map[string]core.Outcome{
		StageStops:     core.OutcomeFatal,
		StageRoutes:    core.OutcomeSuccess,
		StageTrips:     core.OutcomeSuccess,
		StageRelevance: core.OutcomeSkipped,
		StageRetention: core.OutcomeSuccess,
	}, outcomes(report))
	assert.Equal(t, core.RunStatusCompleted, report.Status)
}

func TestPipeline_AbortOn(t *testing.T) {
	f := newFixture(t)
	f.opts.Pipeline.AbortOn = []string{StageStops}
	f.mem.Fail = func(op sink.Op, table string) error {
		if op == sink.OpUpsert && table == core.TableStops {
			return errors.New("disk full")
		}
		return nil
	}

	report, err := f.pipeline(t).Run(context.Background(), day)
	require.ErrorIs(t, err, ErrAborted)
	assert.ErrorContains(t, err, "disk full")

	assert.Equal(t, core.RunStatusFailed, report.Status)
	assert.Len(t, report.Results, 1)
	assert.Empty(t, f.mem.Rows(core.TableRoutes))
}

func TestPipeline_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.pipeline(t).Run(ctx, day)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.RunStatusCancelled, report.Status)
}

func TestPipeline_RecordsLedger(t *testing.T) {
	f := newFixture(t)
	store := state.NewSQLiteStore(tu.NewTestLogger(t))
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	f.deps.Store = store

	f.mem.Fail = func(op sink.Op, table string) error {
		if op == sink.OpInsert && table == core.TableRelevance {
			return errors.New("constraint violation")
		}
		return nil
	}

	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)
	assert.Equal(t, day, run.Partition)

	stages, err := store.GetStageRunsForRun(report.RunID)
	require.NoError(t, err)
	require.Len(t, stages, len(AllStages))

	byName := map[string]*core.StageRun{}
	for _, sr := range stages {
		byName[sr.Stage] = sr
	}
	rel := byName[StageRelevance]
	require.NotNil(t, rel)
	assert.Equal(t, core.OutcomePartialSuccess, rel.Outcome)
	assert.Contains(t, rel.Reason, "chunks failed")
	assert.Equal(t, int64(3), byName[StageStops].Rows)
}

func TestPipeline_MetricsAndNotify(t *testing.T) {
	f := newFixture(t)
	report, err := f.pipeline(t).Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, float64(1), metricValue(t, f.metrics, "stridesync_runs_total", "status", string(core.RunStatusCompleted)))
	assert.Equal(t, float64(1), metricValue(t, f.metrics, "stridesync_stage_outcomes_total", "stage", StageStops))
	assert.Equal(t, float64(4), metricValue(t, f.metrics, "stridesync_records_fetched_total", "entity", string(core.EntityStops)))
	assert.Equal(t, float64(3), metricValue(t, f.metrics, "stridesync_table_rows", "table", core.TableStops))

	require.Len(t, f.notifier.msgs, 1)
	assert.Same(t, report, f.notifier.msgs[0])

	data, err := json.Marshal(report)
	require.NoError(t, err)
	var view View
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Len(t, view.Stages, len(AllStages))
	assert.True(t, view.Complete)
}

func TestPipeline_RunStagesSubset(t *testing.T) {
	f := newFixture(t)
	f.src.healthErr = errors.New("down")
	require.NoError(t, f.mem.Upsert(context.Background(), core.TableStops, []core.Row{
		core.Stop{ID: 1, Code: 100, Name: "הרצל", City: "חדרה"}.Row(day, time.Now()),
	}, core.StopConflictKey))

	report, err := f.pipeline(t).RunStages(context.Background(), day, StageRelevance)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, core.OutcomeSuccess, report.Results[0].Outcome)
	assert.Len(t, f.mem.Rows(core.TableRelevance), 1)
}

func TestPipeline_RunStagesUnknown(t *testing.T) {
	_, err := newFixture(t).pipeline(t).RunStages(context.Background(), day, "bogus")
	assert.ErrorContains(t, err, `unknown stage "bogus"`)
}

func TestEntityOutcome(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome core.Outcome
		reason  string
	}{
		{"clean", nil, core.OutcomeSuccess, ""},
		{"cancelled", context.Canceled, core.OutcomeFatal, "context canceled"},
		{"exhausted", retry.ErrExhausted, core.OutcomePartialSuccess, "source retries exhausted, remaining pages skipped"},
		{"status", &source.StatusError{Code: 404}, core.OutcomePartialSuccess, "source returned status 404, remaining pages skipped"},
		{"other", errors.New("bad json"), core.OutcomePartialSuccess, "fetch abandoned: bad json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := entityOutcome(5, tt.err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, 5, res.Rows)
		})
	}
}
