package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

type runView struct {
	ID          string         `json:"id" yaml:"id"`
	Partition   core.Partition `json:"partition" yaml:"partition"`
	Status      core.RunStatus `json:"status" yaml:"status"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Stages      []stageRunView `json:"stages,omitempty" yaml:"stages,omitempty"`
}

type stageRunView struct {
	Stage      string       `json:"stage" yaml:"stage"`
	Outcome    core.Outcome `json:"outcome" yaml:"outcome"`
	Reason     string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rows       int64        `json:"rows" yaml:"rows"`
	DurationMS int64        `json:"duration_ms" yaml:"duration_ms"`
}

func newRunView(run *core.Run) runView {
	return runView{
		ID:          run.ID,
		Partition:   run.Partition,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Error:       run.Error,
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs from the run ledger",
		Example: `  # Last ten runs
  stridesync runs

  # Stage results of one run
  stridesync runs --id 5f0c...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return fmt.Errorf("failed to open run ledger: %w", err)
			}
			defer func() { _ = store.Close() }()

			r := cc.Renderer
			if runID != "" {
				run, err := store.GetRun(runID)
				if err != nil {
					return err
				}
				stages, err := store.GetStageRunsForRun(runID)
				if err != nil {
					return err
				}
				view := newRunView(run)
				for _, sr := range stages {
					view.Stages = append(view.Stages, stageRunView{
						Stage:      sr.Stage,
						Outcome:    sr.Outcome,
						Reason:     sr.Reason,
						Rows:       sr.Rows,
						DurationMS: sr.DurationMS,
					})
				}
				if ok, err := r.Data(view); ok {
					return err
				}
				r.Header(1, fmt.Sprintf("Run %s (%s): %s", run.ID, run.Partition, run.Status))
				rows := make([][]any, 0, len(view.Stages))
				for _, sr := range view.Stages {
					rows = append(rows, []any{sr.Stage, string(sr.Outcome), sr.Rows, time.Duration(sr.DurationMS) * time.Millisecond, sr.Reason})
				}
				r.Table([]string{"Stage", "Outcome", "Rows", "Duration", "Reason"}, rows)
				if run.Error != "" {
					r.Error(run.Error)
				}
				return nil
			}

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			views := make([]runView, len(runs))
			for i, run := range runs {
				views[i] = newRunView(run)
			}
			if ok, err := r.Data(views); ok {
				return err
			}
			if len(views) == 0 {
				r.Muted("no runs recorded in " + cc.Cfg.StatePath)
				return nil
			}
			rows := make([][]any, 0, len(views))
			for _, v := range views {
				took := "-"
				if v.CompletedAt != nil {
					took = v.CompletedAt.Sub(v.StartedAt).Round(time.Second).String()
				}
				rows = append(rows, []any{v.ID, v.Partition, string(v.Status), v.StartedAt.Format(time.DateTime), took, v.Error})
			}
			r.Table([]string{"ID", "Date", "Status", "Started", "Took", "Error"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to list")
	cmd.Flags().StringVar(&runID, "id", "", "Show the stage results of one run")
	return cmd
}
