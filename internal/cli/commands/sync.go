package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/stridesync/internal/pipeline"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand() *cobra.Command {
	var stages []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one day of transit data",
		Long: `Fetch stops, routes and trips for a day from the Stride API, write them to
the sink, rebuild the city relevance index and sweep old partitions.

Stages that fail partially are reported but do not fail the command. Stages
listed in pipeline.abort_on end the run with exit status 1 when they fail.`,
		Example: `  # Sync today (UTC)
  stridesync sync

  # Re-sync a specific day into Postgres
  stridesync sync --date 2026-10-18 --sink-type postgres --sink-dsn "$DATABASE_URL"

  # Only refresh stops and the relevance index
  stridesync sync --stage stops --stage relevance

  # Machine-readable summary
  stridesync sync -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStages(cmd, stages...)
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Run only these stages (repeatable)")
	_ = cmd.RegisterFlagCompletionFunc("stage", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return pipeline.AllStages, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// NewRelevanceCommand creates the relevance command.
func NewRelevanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relevance",
		Short: "Rebuild the city relevance index",
		Long: `Rebuild city_relevant_stops for a day from the stops already in the sink.
No data is fetched from the source.`,
		Example: `  stridesync relevance --date 2026-10-18`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStages(cmd, pipeline.StageRelevance)
		},
	}
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete partitions older than the retention window",
		Long: `Delete rows older than retention.keep_days days from the tables listed in
retention.tables. The window is counted back from --date (default today).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStages(cmd, pipeline.StageRetention)
		},
	}
}
