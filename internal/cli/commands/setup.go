package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/stridesync/internal/archive"
	"github.com/leapstack-labs/stridesync/internal/cli/config"
	"github.com/leapstack-labs/stridesync/internal/cli/output"
	"github.com/leapstack-labs/stridesync/internal/geo"
	"github.com/leapstack-labs/stridesync/internal/metrics"
	"github.com/leapstack-labs/stridesync/internal/notify"
	"github.com/leapstack-labs/stridesync/internal/pipeline"
	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/internal/state"
	"github.com/leapstack-labs/stridesync/pkg/sink"

	// Register every sink type selectable through sink.type.
	_ "github.com/leapstack-labs/stridesync/pkg/sinks/duckdb"
	_ "github.com/leapstack-labs/stridesync/pkg/sinks/mysql"
	_ "github.com/leapstack-labs/stridesync/pkg/sinks/postgres"
	_ "github.com/leapstack-labs/stridesync/pkg/sinks/sqlite"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded config.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, nil
}

// getConfig returns the current configuration, loading defaults when the
// command runs outside the root command.
func getConfig() (*config.Config, error) {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

// openSink connects the configured sink and, when migrate is set, applies
// its schema.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (sink.Sink, func(), error) {
	s, err := sink.New(cfg.Sink.Conn(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Connect(ctx, cfg.Sink.Conn()); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s sink: %w", cfg.Sink.Type, err)
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close sink", slog.String("error", err.Error()))
		}
	}
	if migrate {
		if err := s.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to migrate %s sink: %w", cfg.Sink.Type, err)
		}
	}
	return s, cleanup, nil
}

// openStore opens and migrates the run ledger.
func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Runner bundles a wired pipeline with the resources it owns.
type Runner struct {
	Pipeline *pipeline.Pipeline
	Sink     sink.Sink
	Store    *state.SQLiteStore
	cleanups []func()
}

// Close releases the resources in reverse order of acquisition.
func (r *Runner) Close() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
}

// newRunner connects the source, sink, ledger and optional integrations
// and wires them into a pipeline.
func newRunner(ctx context.Context, cc *CommandContext, m *metrics.Metrics) (*Runner, error) {
	cfg, logger := cc.Cfg, cc.Logger
	r := &Runner{}

	s, closeSink, err := openSink(ctx, cfg, logger, true)
	if err != nil {
		return nil, err
	}
	r.Sink = s
	r.cleanups = append(r.cleanups, closeSink)

	store, err := openStore(cfg, logger)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	r.Store = store
	r.cleanups = append(r.cleanups, func() { _ = store.Close() })

	client, err := source.New(cfg.Source, logger)
	if err != nil {
		r.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Source:  client,
		Sink:    s,
		Store:   store,
		Metrics: m,
		Logger:  logger,
	}

	if cfg.Archive.Enabled {
		a, err := archive.Open(ctx, cfg.Archive, logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		deps.Archiver = a
	}
	if cfg.Notify.AMQPURL != "" {
		deps.Notifier = notify.New(cfg.Notify, logger)
	}
	if cfg.Pipeline.ClipFeature != "" {
		clip, err := geo.ParseClip(cfg.Pipeline.ClipFeature)
		if err != nil {
			r.Close()
			return nil, err
		}
		logger.Info("clipping stops to service area", slog.Int("points", clip.NumPoints()))
		deps.Clip = clip
	}

	p, err := pipeline.New(deps, cfg.PipelineOptions())
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Pipeline = p
	return r, nil
}

// runStages runs the named stages (all when none) for the configured partition.
func runStages(cmd *cobra.Command, stages ...string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	partition, err := cc.Cfg.Partition(time.Now())
	if err != nil {
		return err
	}

	runner, err := newRunner(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer runner.Close()

	report, runErr := runner.Pipeline.RunStages(ctx, partition, stages...)
	if report == nil {
		return runErr
	}
	if err := renderReport(cc.Renderer, report); err != nil {
		return err
	}
	return runErr
}
