// Package state is the run ledger: every sync run and the outcome of each
// of its stages, kept in a local SQLite database.
package state

import (
	"github.com/leapstack-labs/stridesync/pkg/core"
)

// Aliases for the ledger types defined in pkg/core.
type (
	// Store is an alias for core.Store.
	Store = core.Store

	// RunStatus is an alias for core.RunStatus.
	RunStatus = core.RunStatus

	// Run is an alias for core.Run.
	Run = core.Run

	// StageRun is an alias for core.StageRun.
	StageRun = core.StageRun
)

// Run status constants re-exported from core.
const (
	RunStatusRunning   = core.RunStatusRunning
	RunStatusCompleted = core.RunStatusCompleted
	RunStatusFailed    = core.RunStatusFailed
	RunStatusCancelled = core.RunStatusCancelled
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
