// Package duckdb provides a DuckDB sink for stridesync.
//
// DuckDB suits local analysis of the synced partitions. goose has no DuckDB
// dialect, so the schema is applied from an embedded idempotent DDL file.
package duckdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/stridesync/pkg/sink"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

//go:embed schema.sql
var schemaSQL string

// Params holds DuckDB-specific configuration.
// Parsed from sink.Config.Params using mapstructure.
type Params struct {
	// Settings to apply at session level (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`
}

// Sink implements sink.Sink for DuckDB.
type Sink struct {
	sink.BaseSQLSink
}

// New creates a new DuckDB sink instance.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{
		BaseSQLSink: sink.BaseSQLSink{Logger: logger, Dialect: sink.DialectDuckDB},
	}
}

// Name returns the registered sink type.
func (s *Sink) Name() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty DSN for an in-memory database.
func (s *Sink) Connect(ctx context.Context, cfg sink.Config) error {
	var params Params
	if err := sink.DecodeParams(cfg.Params, &params); err != nil {
		return err
	}

	path := cfg.DSN
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	for _, stmt := range SettingStatements(params.Settings) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply duckdb setting: %w", err)
		}
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

// SettingStatements renders SET statements in key order.
func SettingStatements(settings map[string]string) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stmts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(settings[k], "'", "''")
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", k, v))
	}
	return stmts
}

// Migrate creates the sink tables.
func (s *Sink) Migrate(ctx context.Context) error {
	if s.DB == nil {
		return sink.ErrNotConnected
	}
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply duckdb schema: %w", err)
		}
	}
	return nil
}
