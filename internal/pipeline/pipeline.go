// Package pipeline sequences one sync run.
//
// Stages are nodes of a dependency graph and run one at a time in
// topological order. Each stage reports a core.StageResult; the orchestrator
// alone decides what a result means for the stages after it:
//
//   - dependents of a fatal stage are skipped, except stages marked AlwaysRun;
//   - a failed health probe skips the fetch stages;
//   - a fatal result of a stage listed in AbortOn ends the run with an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/leapstack-labs/stridesync/internal/dag"
	"github.com/leapstack-labs/stridesync/internal/fetch"
	"github.com/leapstack-labs/stridesync/internal/geo"
	"github.com/leapstack-labs/stridesync/internal/metrics"
	"github.com/leapstack-labs/stridesync/internal/relevance"
	"github.com/leapstack-labs/stridesync/internal/retention"
	"github.com/leapstack-labs/stridesync/internal/retry"
	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/internal/writer"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// Stage names.
const (
	StageStops     = "stops"
	StageRoutes    = "routes"
	StageTrips     = "trips"
	StageRelevance = "relevance"
	StageRetention = "retention"
)

// AllStages lists every stage in registration order.
var AllStages = []string{StageStops, StageRoutes, StageTrips, StageRelevance, StageRetention}

// ReasonSourceUnavailable is the skip reason when the health probe fails.
const ReasonSourceUnavailable = "source unavailable"

// ErrAborted wraps the error of a fatal stage listed in AbortOn.
var ErrAborted = errors.New("run aborted")

// Config holds the pipeline settings.
type Config struct {
	FlushThreshold   int      `koanf:"flush_threshold" validate:"gt=0"`
	TripSample       int      `koanf:"trip_sample" validate:"gte=0"`
	TripServerFilter bool     `koanf:"trip_server_filter"`
	AbortOn          []string `koanf:"abort_on" validate:"dive,oneof=stops routes trips relevance retention"`
	ClipFeature      string   `koanf:"clip_feature"`
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		FlushThreshold:   10000,
		TripSample:       10000,
		TripServerFilter: true,
	}
}

// Source is what the pipeline needs from the remote API.
type Source interface {
	fetch.Lister
	Health(ctx context.Context) error
}

// Notifier publishes the run report.
type Notifier interface {
	Publish(ctx context.Context, msg any) error
}

// Deps are the collaborators of a Pipeline. Store, Metrics, Notifier,
// Archiver and Clip are optional.
type Deps struct {
	Source   Source
	Sink     sink.Sink
	Store    core.Store
	Metrics  *metrics.Metrics
	Notifier Notifier
	Archiver fetch.Archiver
	Clip     *geo.Clip
	Logger   *slog.Logger
}

// Options tune the stages.
type Options struct {
	Pipeline        Config
	Retry           retry.Policy
	PageSize        int
	InterBatchDelay time.Duration
	BatchSize       int
	WriteDelay      time.Duration
	Retention       retention.Config

	// Sleep replaces every wait (retry backoff, inter-batch and write delays).
	Sleep retry.SleepFunc
	// Now replaces the wall clock.
	Now func() time.Time
}

// DefaultOptions returns the default stage tuning.
func DefaultOptions() Options {
	return Options{
		Pipeline:        DefaultConfig(),
		Retry:           retry.DefaultPolicy(),
		PageSize:        fetch.DefaultPageSize,
		InterBatchDelay: fetch.DefaultInterBatchDelay,
		BatchSize:       writer.DefaultBatchSize,
		WriteDelay:      writer.DefaultDelay,
		Retention:       retention.Config{KeepDays: retention.DefaultKeepDays},
	}
}

// Stage is a unit of work in the graph.
type Stage struct {
	Name      string
	DependsOn []string
	// Fetches marks stages that talk to the source.
	Fetches bool
	// AlwaysRun exempts the stage from dependency skipping.
	AlwaysRun bool
	Run       func(ctx context.Context, rc *RunContext) core.StageResult
}

// RunContext is shared by the stages of one run.
type RunContext struct {
	RunID     string
	Partition core.Partition
	SyncedAt  time.Time
	Logger    *slog.Logger
}

// Pipeline runs stages against one source and one sink.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	writer  *writer.Writer
	builder *relevance.Builder
	sweeper *retention.Sweeper
	graph   *dag.Graph[*Stage]
}

// New wires a pipeline and registers the default stages.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Sink == nil {
		return nil, errors.New("pipeline requires a sink")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Pipeline{deps: deps, opts: opts, logger: deps.Logger}

	p.writer = writer.New(deps.Sink, deps.Logger)
	if opts.BatchSize > 0 {
		p.writer.BatchSize = opts.BatchSize
	}
	p.writer.Delay = opts.WriteDelay
	p.writer.Sleep = opts.Sleep
	p.writer.OnChunk = deps.Metrics.ObserveChunk

	p.builder = relevance.NewBuilder(deps.Sink, p.writer, deps.Logger.With(slog.String("stage", StageRelevance)))
	p.sweeper = retention.New(deps.Sink, opts.Retention, deps.Logger.With(slog.String("stage", StageRetention)))

	p.graph = dag.New[*Stage]()
	for _, s := range p.defaultStages() {
		if err := p.Register(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register adds a stage. Its dependencies must already be registered.
func (p *Pipeline) Register(s *Stage) error {
	p.graph.AddNode(s.Name, s)
	for _, dep := range s.DependsOn {
		if err := p.graph.AddEdge(dep, s.Name); err != nil {
			return fmt.Errorf("failed to register stage %s: %w", s.Name, err)
		}
	}
	return nil
}

// Stages returns the registered stage names in execution order.
func (p *Pipeline) Stages() ([]string, error) {
	nodes, err := p.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.ID
	}
	return names, nil
}

// Run executes every stage for the partition.
func (p *Pipeline) Run(ctx context.Context, partition core.Partition) (*Report, error) {
	return p.RunStages(ctx, partition)
}

// RunStages executes the named stages for the partition, or all of them when
// none are named. Dependencies outside the selection are not run.
func (p *Pipeline) RunStages(ctx context.Context, partition core.Partition, only ...string) (*Report, error) {
	nodes, err := p.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	for _, name := range only {
		if _, ok := p.graph.Node(name); !ok {
			return nil, fmt.Errorf("unknown stage %q (available: %s)", name, strings.Join(AllStages, ", "))
		}
	}

	started := p.opts.Now().UTC()
	report := &Report{Partition: partition, StartedAt: started, Status: core.RunStatusRunning}
	rc := &RunContext{Partition: partition, SyncedAt: started}

	if p.deps.Store != nil {
		run, err := p.deps.Store.CreateRun(partition)
		if err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
		rc.RunID = run.ID
		report.RunID = run.ID
	}
	rc.Logger = p.logger.With(slog.String("run_id", rc.RunID), slog.String("date", partition.String()))
	rc.Logger.Info("sync run started")

	var selected []*Stage
	for _, n := range nodes {
		if len(only) == 0 || slices.Contains(only, n.ID) {
			selected = append(selected, n.Value)
		}
	}

	sourceUp := true
	if slices.ContainsFunc(selected, func(s *Stage) bool { return s.Fetches }) {
		sourceUp = p.probe(ctx, rc.Logger)
	}

	var fatal []string
	var runErr error
	for _, stage := range selected {
		res := p.decide(stage, sourceUp, fatal)
		stageStart := p.opts.Now()
		if res == nil {
			r := p.runStage(ctx, stage, rc)
			res = &r
		}
		res.Stage = stage.Name
		p.record(rc, *res, stageStart)
		report.Results = append(report.Results, *res)

		if res.Outcome == core.OutcomeFatal {
			fatal = append(fatal, stage.Name)
			if slices.Contains(p.opts.Pipeline.AbortOn, stage.Name) {
				runErr = fmt.Errorf("%w: stage %s failed: %w", ErrAborted, stage.Name, res.Err)
				break
			}
		}
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
	}

	report.Counts = p.counts(ctx, rc.Logger)
	p.finish(ctx, rc, report, runErr)
	return report, runErr
}

// decide returns a result for stages that must not run, or nil.
func (p *Pipeline) decide(stage *Stage, sourceUp bool, fatal []string) *core.StageResult {
	if stage.Fetches && !sourceUp {
		r := core.Skipped(ReasonSourceUnavailable)
		return &r
	}
	if stage.AlwaysRun || len(fatal) == 0 {
		return nil
	}
	blocked := p.graph.Downstream(fatal...)
	if !slices.Contains(blocked, stage.Name) {
		return nil
	}
	var failedDeps []string
	for _, up := range p.graph.Upstream(stage.Name) {
		if slices.Contains(fatal, up) {
			failedDeps = append(failedDeps, up)
		}
	}
	r := core.Skipped("dependency failed: " + strings.Join(failedDeps, ", "))
	return &r
}

func (p *Pipeline) runStage(ctx context.Context, stage *Stage, rc *RunContext) core.StageResult {
	logger := rc.Logger.With(slog.String("stage", stage.Name))
	logger.Info("stage started")

	start := p.opts.Now()
	res := stage.Run(ctx, &RunContext{RunID: rc.RunID, Partition: rc.Partition, SyncedAt: rc.SyncedAt, Logger: logger})
	res.Duration = p.opts.Now().Sub(start)
	return res
}

func (p *Pipeline) probe(ctx context.Context, logger *slog.Logger) bool {
	if p.deps.Source == nil {
		logger.Error("no source configured")
		return false
	}
	if err := p.deps.Source.Health(ctx); err != nil {
		logger.Error("source health probe failed, skipping fetch stages", slog.String("error", err.Error()))
		return false
	}
	logger.Info("source is healthy")
	return true
}

func (p *Pipeline) record(rc *RunContext, res core.StageResult, started time.Time) {
	attrs := []any{
		slog.String("stage", res.Stage),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("rows", res.Rows),
		slog.Duration("duration", res.Duration),
	}
	if res.Reason != "" {
		attrs = append(attrs, slog.String("reason", res.Reason))
	}
	switch res.Outcome {
	case core.OutcomeFatal:
		rc.Logger.Error("stage finished", attrs...)
	case core.OutcomePartialSuccess, core.OutcomeSkipped:
		rc.Logger.Warn("stage finished", attrs...)
	default:
		rc.Logger.Info("stage finished", attrs...)
	}

	p.deps.Metrics.ObserveStage(res)
	if p.deps.Store != nil && rc.RunID != "" {
		if err := p.deps.Store.RecordStageRun(core.NewStageRun(rc.RunID, res, started)); err != nil {
			rc.Logger.Error("failed to record stage run", slog.String("stage", res.Stage), slog.String("error", err.Error()))
		}
	}
}

// counts reads the row count of every table; a failing table is reported as -1.
func (p *Pipeline) counts(ctx context.Context, logger *slog.Logger) map[string]int64 {
	out := make(map[string]int64, len(core.AllTables))
	for _, table := range core.AllTables {
		n, err := p.deps.Sink.Count(context.WithoutCancel(ctx), table)
		if err != nil {
			logger.Error("failed to count table", slog.String("table", table), slog.String("error", err.Error()))
			out[table] = -1
			continue
		}
		out[table] = n
		p.deps.Metrics.SetTableRows(table, n)
	}
	return out
}

func (p *Pipeline) finish(ctx context.Context, rc *RunContext, report *Report, runErr error) {
	report.FinishedAt = p.opts.Now().UTC()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	report.Status = core.RunStatusCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		report.Status = core.RunStatusCancelled
	case runErr != nil:
		report.Status = core.RunStatusFailed
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if p.deps.Store != nil && rc.RunID != "" {
		if err := p.deps.Store.CompleteRun(rc.RunID, report.Status, report.Error); err != nil {
			rc.Logger.Error("failed to record run completion", slog.String("error", err.Error()))
		}
	}
	p.deps.Metrics.ObserveRun(report.Status, report.Duration, report.FinishedAt)

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Publish(context.WithoutCancel(ctx), report); err != nil {
			rc.Logger.Warn("failed to publish run summary", slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.String("status", string(report.Status)),
		slog.Duration("duration", report.Duration),
	}
	for _, table := range core.AllTables {
		attrs = append(attrs, slog.Int64(table, report.Counts[table]))
	}
	rc.Logger.Info("sync run finished", attrs...)
}

// fetcher builds a Fetcher for one entity so retries are attributed to it.
func (p *Pipeline) fetcher(entity core.Entity, logger *slog.Logger) *fetch.Fetcher {
	r := retry.New(p.opts.Retry, logger)
	r.Sleep = p.opts.Sleep
	r.OnRetry = func(int, error, time.Duration) { p.deps.Metrics.ObserveRetry(entity) }

	f := fetch.New(p.deps.Source, r, logger)
	f.Delay = p.opts.InterBatchDelay
	f.Sleep = p.opts.Sleep
	f.Archiver = p.deps.Archiver
	f.OnPage = p.deps.Metrics.ObservePage
	return f
}

// entityOutcome classifies how a fetch walk ended.
func entityOutcome(rows int, fetchErr error) core.StageResult {
	switch {
	case fetchErr == nil:
		return core.Success(rows)
	case errors.Is(fetchErr, context.Canceled), errors.Is(fetchErr, context.DeadlineExceeded):
		return core.Fatal(rows, fetchErr)
	case errors.Is(fetchErr, retry.ErrExhausted):
		return core.Partial(rows, "source retries exhausted, remaining pages skipped")
	default:
		var se *source.StatusError
		if errors.As(fetchErr, &se) {
			return core.Partial(rows, fmt.Sprintf("source returned status %d, remaining pages skipped", se.Code))
		}
		return core.Partial(rows, "fetch abandoned: "+fetchErr.Error())
	}
}
