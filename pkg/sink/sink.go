// Package sink provides the persistent store contract for stridesync
// and a database/sql base implementation shared by the concrete sinks.
//
// Concrete sink implementations are in pkg/sinks/ subdirectories and
// register themselves with the registry from their init() functions.
package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// ErrNotConnected is returned when a sink is used before Connect.
var ErrNotConnected = errors.New("database connection not established")

// Config holds sink connection settings.
type Config struct {
	// Type selects the registered sink (sqlite, postgres, duckdb, mysql, memory).
	Type string `koanf:"type" validate:"required"`
	// DSN is the driver-specific connection string or file path.
	DSN string `koanf:"dsn"`
	// Params holds driver-specific settings decoded by each sink.
	Params map[string]any `koanf:"params"`
}

// Cmp is a predicate comparison operator.
type Cmp string

// Supported comparisons.
const (
	CmpEq Cmp = "="
	CmpLt Cmp = "<"
)

// Predicate is a single column comparison. Multiple predicates are ANDed.
type Predicate struct {
	Column string
	Cmp    Cmp
	Value  any
}

// Eq builds an equality predicate.
func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Cmp: CmpEq, Value: value}
}

// Lt builds a less-than predicate.
func Lt(column string, value any) Predicate {
	return Predicate{Column: column, Cmp: CmpLt, Value: value}
}

// Sink defines the relational-style table interface the pipeline writes to.
type Sink interface {
	// Connect opens the underlying store.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection.
	Close() error

	// Migrate creates or upgrades the sink tables.
	Migrate(ctx context.Context) error

	// Upsert writes rows, overwriting existing rows that share conflictKey values.
	Upsert(ctx context.Context, table string, rows []core.Row, conflictKey []string) error

	// Insert appends rows.
	Insert(ctx context.Context, table string, rows []core.Row) error

	// Delete removes the rows matching all predicates and returns how many were removed.
	Delete(ctx context.Context, table string, preds ...Predicate) (int64, error)

	// Select returns the given columns of rows matching all predicates.
	Select(ctx context.Context, table string, columns []string, preds ...Predicate) ([]core.Row, error)

	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)

	// Name returns the registered sink type.
	Name() string
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdent rejects table or column names that are not plain lowercase identifiers.
func ValidateIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
