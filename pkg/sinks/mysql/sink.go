// Package mysql provides a MySQL/MariaDB sink for stridesync.
package mysql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Params holds MySQL-specific configuration.
type Params struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Sink implements sink.Sink for MySQL.
type Sink struct {
	sink.BaseSQLSink
}

// New creates a new MySQL sink instance.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{
		BaseSQLSink: sink.BaseSQLSink{Logger: logger, Dialect: sink.DialectMySQL},
	}
}

// Name returns the registered sink type.
func (s *Sink) Name() string {
	return "mysql"
}

// Connect establishes a connection to MySQL.
func (s *Sink) Connect(ctx context.Context, cfg sink.Config) error {
	if cfg.DSN == "" {
		return fmt.Errorf("mysql sink requires a dsn")
	}
	params := Params{MaxOpenConns: 2, ConnMaxLifetime: 3 * time.Minute}
	if err := sink.DecodeParams(cfg.Params, &params); err != nil {
		return err
	}

	myCfg, err := ParseDSN(cfg.DSN)
	if err != nil {
		return err
	}

	s.Logger.Debug("connecting to mysql", slog.String("addr", myCfg.Addr), slog.String("database", myCfg.DBName))

	connector, err := mysql.NewConnector(myCfg)
	if err != nil {
		return fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(params.MaxOpenConns)
	db.SetConnMaxLifetime(params.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping mysql: %w", err)
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

// ParseDSN parses a go-sql-driver DSN and forces the options the sink relies on.
func ParseDSN(dsn string) (*mysql.Config, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.MultiStatements = true // goose migrations hold several statements
	if c.Loc == nil {
		c.Loc = time.UTC
	}
	return c, nil
}

// Migrate applies the embedded goose migrations.
func (s *Sink) Migrate(_ context.Context) error {
	return sink.GooseUp(s.DB, migrations, "mysql", "migrations")
}
