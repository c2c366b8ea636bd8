package sink

import (
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// GooseUp runs all pending migrations found in dir of fsys.
// goose keeps package-level settings, so callers must not migrate concurrently.
func GooseUp(db *sql.DB, fsys fs.FS, dialect, dir string) error {
	if db == nil {
		return ErrNotConnected
	}

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
