package core

import "time"

// Store defines the interface for the run ledger.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	// Run operations
	CreateRun(partition Partition) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetLatestRun() (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	// Stage run operations
	RecordStageRun(stageRun *StageRun) error
	GetStageRunsForRun(runID string) ([]*StageRun, error)
}

// RunStatus represents the status of a sync run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one execution of the sync pipeline.
type Run struct {
	ID          string
	Partition   Partition
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// StageRun records the result of one stage within a run.
type StageRun struct {
	ID         string
	RunID      string
	Stage      string
	Outcome    Outcome
	Reason     string
	Rows       int64
	StartedAt  time.Time
	DurationMS int64
}

// NewStageRun builds the ledger entry for a stage result.
func NewStageRun(runID string, res StageResult, startedAt time.Time) *StageRun {
	return &StageRun{
		RunID:      runID,
		Stage:      res.Stage,
		Outcome:    res.Outcome,
		Reason:     res.Reason,
		Rows:       int64(res.Rows),
		StartedAt:  startedAt.UTC(),
		DurationMS: res.Duration.Milliseconds(),
	}
}
