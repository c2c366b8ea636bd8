package mysql

import (
	"log/slog"

	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// Import this package with a blank identifier to register the sink:
//
//	import _ "github.com/leapstack-labs/stridesync/pkg/sinks/mysql"
func init() {
	sink.Register("mysql", func(l *slog.Logger) sink.Sink { return New(l) })
}
