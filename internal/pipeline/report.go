package pipeline

import (
	"encoding/json"
	"time"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// Report summarizes a run.
type Report struct {
	RunID      string             `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Partition  core.Partition     `json:"partition" yaml:"partition"`
	Status     core.RunStatus     `json:"status" yaml:"status"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at" yaml:"finished_at"`
	Duration   time.Duration      `json:"-" yaml:"-"`
	Results    []core.StageResult `json:"-" yaml:"-"`
	Counts     map[string]int64   `json:"counts" yaml:"counts"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// StageReport is the serializable form of a stage result.
type StageReport struct {
	Stage      string       `json:"stage" yaml:"stage"`
	Outcome    core.Outcome `json:"outcome" yaml:"outcome"`
	Reason     string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rows       int          `json:"rows" yaml:"rows"`
	DurationMS int64        `json:"duration_ms" yaml:"duration_ms"`
}

// Stages converts the stage results for serialization.
func (r *Report) Stages() []StageReport {
	out := make([]StageReport, len(r.Results))
	for i, res := range r.Results {
		out[i] = StageReport{
			Stage:      res.Stage,
			Outcome:    res.Outcome,
			Reason:     res.Reason,
			Rows:       res.Rows,
			DurationMS: res.Duration.Milliseconds(),
		}
	}
	return out
}

// Result returns the result of a stage, if it was part of the run.
func (r *Report) Result(stage string) (core.StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == stage {
			return res, true
		}
	}
	return core.StageResult{}, false
}

// Complete reports whether every stage succeeded.
func (r *Report) Complete() bool {
	for _, res := range r.Results {
		if !res.Complete() {
			return false
		}
	}
	return r.Error == ""
}

// View is the document rendered by the json and yaml output modes.
type View struct {
	RunID      string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Partition  core.Partition   `json:"partition" yaml:"partition"`
	Status     core.RunStatus   `json:"status" yaml:"status"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	DurationMS int64            `json:"duration_ms" yaml:"duration_ms"`
	Complete   bool             `json:"complete" yaml:"complete"`
	Stages     []StageReport    `json:"stages" yaml:"stages"`
	Counts     map[string]int64 `json:"counts" yaml:"counts"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// View returns the serializable summary.
func (r *Report) View() View {
	return View{
		RunID:      r.RunID,
		Partition:  r.Partition,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		Complete:   r.Complete(),
		Stages:     r.Stages(),
		Counts:     r.Counts,
		Error:      r.Error,
	}
}

// MarshalJSON encodes the report as its View.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}
