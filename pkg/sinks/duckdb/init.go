package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// Import this package with a blank identifier to register the sink:
//
//	import _ "github.com/leapstack-labs/stridesync/pkg/sinks/duckdb"
func init() {
	sink.Register("duckdb", func(l *slog.Logger) sink.Sink { return New(l) })
}
