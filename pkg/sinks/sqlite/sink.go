// Package sqlite provides the SQLite sink for stridesync.
//
// This is the default sink: a single file on local disk, opened with the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/stridesync/pkg/sink"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// Params holds SQLite-specific configuration.
// Parsed from sink.Config.Params using mapstructure.
type Params struct {
	// BusyTimeoutMS is how long a writer waits on a locked database.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`
	// JournalMode is applied via PRAGMA journal_mode (e.g. WAL, DELETE).
	JournalMode string `mapstructure:"journal_mode"`
}

// Sink implements sink.Sink for SQLite.
type Sink struct {
	sink.BaseSQLSink
}

// New creates a new SQLite sink instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{
		BaseSQLSink: sink.BaseSQLSink{Logger: logger, Dialect: sink.DialectSQLite},
	}
}

// Name returns the registered sink type.
func (s *Sink) Name() string {
	return "sqlite"
}

// Connect opens the database file, creating its directory when needed.
// Use ":memory:" for an in-memory database.
func (s *Sink) Connect(ctx context.Context, cfg sink.Config) error {
	params := Params{BusyTimeoutMS: 5000, JournalMode: "WAL"}
	if err := sink.DecodeParams(cfg.Params, &params); err != nil {
		return err
	}

	path := cfg.DSN
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create sink directory: %w", err)
			}
		}
	}

	s.Logger.Debug("connecting to sqlite", slog.String("path", path))

	db, err := sql.Open("sqlite", BuildDSN(path, params))
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: in-memory databases are per connection, and the
	// pipeline never writes concurrently.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

// BuildDSN appends the connection pragmas to path.
func BuildDSN(path string, p Params) string {
	var pragmas []string
	if p.BusyTimeoutMS > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", p.BusyTimeoutMS))
	}
	if p.JournalMode != "" && path != ":memory:" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToUpper(p.JournalMode)))
	}
	if len(pragmas) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(pragmas, "&")
}

// Migrate applies the embedded goose migrations.
func (s *Sink) Migrate(_ context.Context) error {
	return sink.GooseUp(s.DB, migrations, "sqlite3", "migrations")
}
