package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// Import this package with a blank identifier to register the sink:
//
//	import _ "github.com/leapstack-labs/stridesync/pkg/sinks/sqlite"
func init() {
	sink.Register("sqlite", func(l *slog.Logger) sink.Sink { return New(l) })
}
