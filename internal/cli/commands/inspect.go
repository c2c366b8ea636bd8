package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/pkg/core"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			s, cleanup, err := openSink(cmd.Context(), cc.Cfg, cc.Logger, false)
			if err != nil {
				return err
			}
			defer cleanup()

			counts := make(map[string]int64, len(core.AllTables))
			for _, table := range core.AllTables {
				n, err := s.Count(cmd.Context(), table)
				if err != nil {
					cc.Logger.Error("failed to count table", slog.String("table", table), slog.String("error", err.Error()))
					n = -1
				}
				counts[table] = n
			}

			r := cc.Renderer
			if ok, err := r.Data(counts); ok {
				return err
			}
			r.Header(1, fmt.Sprintf("%s sink", cc.Cfg.Sink.Type))
			renderCounts(r, counts)
			return nil
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the source API",
		Long:  `Issue a single one-record request to the Stride API and report whether it answered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			client, err := source.New(cc.Cfg.Source, cc.Logger)
			if err != nil {
				return err
			}
			return probeSource(cmd.Context(), cc, client)
		},
	}
}

type healthView struct {
	URL       string `json:"url" yaml:"url"`
	Healthy   bool   `json:"healthy" yaml:"healthy"`
	LatencyMS int64  `json:"latency_ms" yaml:"latency_ms"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

func probeSource(ctx context.Context, cc *CommandContext, client *source.Client) error {
	start := time.Now()
	err := client.Health(ctx)
	view := healthView{
		URL:       cc.Cfg.Source.BaseURL,
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		view.Error = err.Error()
	}

	r := cc.Renderer
	if ok, rerr := r.Data(view); ok {
		if rerr != nil {
			return rerr
		}
		return err
	}
	if err != nil {
		return err
	}
	r.Success(fmt.Sprintf("%s is healthy (%dms)", view.URL, view.LatencyMS))
	return nil
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the sink tables and the run ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			_, cleanup, err := openSink(cmd.Context(), cc.Cfg, cc.Logger, true)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return fmt.Errorf("failed to open run ledger: %w", err)
			}
			defer func() { _ = store.Close() }()
			version, err := store.GetMigrationVersion()
			if err != nil {
				return err
			}

			cc.Renderer.Success(fmt.Sprintf("%s sink migrated", cc.Cfg.Sink.Type))
			cc.Renderer.Success(fmt.Sprintf("run ledger %s at version %d", cc.Cfg.StatePath, version))
			return nil
		},
	}
}
