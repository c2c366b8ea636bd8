package state

import (
	"database/sql"
	"fmt"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// RecordStageRun stores the outcome of one stage. An empty ID is generated.
func (s *SQLiteStore) RecordStageRun(sr *core.StageRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if sr.ID == "" {
		sr.ID = generateID()
	}

	var reason any
	if sr.Reason != "" {
		reason = sr.Reason
	}
	_, err := s.db.Exec(
		`INSERT INTO stage_runs (id, run_id, stage, outcome, reason, row_count, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RunID, sr.Stage, string(sr.Outcome), reason, sr.Rows, sr.StartedAt.UTC(), sr.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage run: %w", err)
	}
	return nil
}

// GetStageRunsForRun returns the stage results of a run in execution order.
func (s *SQLiteStore) GetStageRunsForRun(runID string) ([]*core.StageRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, stage, outcome, reason, row_count, started_at, duration_ms
		 FROM stage_runs WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.StageRun
	for rows.Next() {
		var (
			sr      core.StageRun
			outcome string
			reason  sql.NullString
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &outcome, &reason, &sr.Rows, &sr.StartedAt, &sr.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		sr.Outcome = core.Outcome(outcome)
		sr.Reason = reason.String
		out = append(out, &sr)
	}
	return out, rows.Err()
}
