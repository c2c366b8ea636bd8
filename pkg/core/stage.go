package core

import "time"

// Outcome is the result class of a pipeline stage.
type Outcome string

// Stage outcomes.
const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFatal          Outcome = "fatal"
	OutcomeSkipped        Outcome = "skipped"
)

// StageResult is what every stage reports back to the orchestrator.
type StageResult struct {
	Stage    string
	Outcome  Outcome
	Reason   string
	Err      error
	Rows     int
	Duration time.Duration
}

// Success reports a stage that completed without failures.
func Success(rows int) StageResult {
	return StageResult{Outcome: OutcomeSuccess, Rows: rows}
}

// Partial reports a stage that completed with accepted losses.
func Partial(rows int, reason string) StageResult {
	return StageResult{Outcome: OutcomePartialSuccess, Rows: rows, Reason: reason}
}

// Fatal reports a stage that aborted.
func Fatal(rows int, err error) StageResult {
	r := StageResult{Outcome: OutcomeFatal, Rows: rows, Err: err}
	if err != nil {
		r.Reason = err.Error()
	}
	return r
}

// Skipped reports a stage that did not run.
func Skipped(reason string) StageResult {
	return StageResult{Outcome: OutcomeSkipped, Reason: reason}
}

// Complete reports whether the stage finished with nothing left undone.
func (r StageResult) Complete() bool {
	return r.Outcome == OutcomeSuccess
}
