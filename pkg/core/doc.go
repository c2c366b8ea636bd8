// Package core defines the shared language of the stridesync system.
//
// This package contains:
//   - Source entities (Stop, Route, Trip) and the partition key
//   - Stage results returned to the orchestrator
//   - Run ledger types (Run, StageRun)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
