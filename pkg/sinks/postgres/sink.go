// Package postgres provides a PostgreSQL sink for stridesync.
//
// It targets plain PostgreSQL as well as hosted Postgres such as Supabase,
// using pgx through its database/sql driver.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Params holds PostgreSQL-specific configuration.
type Params struct {
	// Schema is placed first on the search_path.
	Schema string `mapstructure:"schema"`
	// MaxOpenConns bounds the pool; the pipeline needs one.
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// ConnMaxLifetime recycles long-lived connections (e.g. behind poolers).
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// StatementCacheDisabled switches pgx to simple protocol for PgBouncer
	// in transaction mode.
	StatementCacheDisabled bool `mapstructure:"statement_cache_disabled"`
}

// Sink implements sink.Sink for PostgreSQL.
type Sink struct {
	sink.BaseSQLSink
}

// New creates a new PostgreSQL sink instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{
		BaseSQLSink: sink.BaseSQLSink{Logger: logger, Dialect: sink.DialectPostgres},
	}
}

// Name returns the registered sink type.
func (s *Sink) Name() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (s *Sink) Connect(ctx context.Context, cfg sink.Config) error {
	if cfg.DSN == "" {
		return fmt.Errorf("postgres sink requires a dsn")
	}
	params := Params{MaxOpenConns: 2}
	if err := sink.DecodeParams(cfg.Params, &params); err != nil {
		return err
	}

	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	ApplyParams(connCfg, params)

	s.Logger.Debug("connecting to postgres",
		slog.String("host", connCfg.Host),
		slog.String("database", connCfg.Database))

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(params.MaxOpenConns)
	if params.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(params.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

// ApplyParams copies params onto a parsed pgx connection config.
func ApplyParams(c *pgx.ConnConfig, p Params) {
	if p.Schema != "" {
		if c.RuntimeParams == nil {
			c.RuntimeParams = make(map[string]string)
		}
		c.RuntimeParams["search_path"] = p.Schema + ",public"
	}
	if p.StatementCacheDisabled {
		c.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
}

// Migrate applies the embedded goose migrations.
func (s *Sink) Migrate(_ context.Context) error {
	return sink.GooseUp(s.DB, migrations, "postgres", "migrations")
}

