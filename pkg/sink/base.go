package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// BaseSQLSink provides the database/sql implementation of the table operations.
// Embed this struct in concrete sinks; they only supply Connect, Migrate and Name.
type BaseSQLSink struct {
	DB      *sql.DB
	Cfg     Config
	Logger  *slog.Logger
	Dialect Dialect
}

// Close closes the database connection.
func (b *BaseSQLSink) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLSink) IsConnected() bool {
	return b.DB != nil
}

// Exec executes a statement that doesn't return rows.
func (b *BaseSQLSink) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if b.DB == nil {
		return 0, ErrNotConnected
	}
	res, err := b.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute SQL: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers do not report affected rows.
		return 0, nil
	}
	return n, nil
}

// Upsert writes rows in a single statement keyed on conflictKey.
func (b *BaseSQLSink) Upsert(ctx context.Context, table string, rows []core.Row, conflictKey []string) error {
	if len(conflictKey) == 0 {
		return fmt.Errorf("upsert into %s requires a conflict key", table)
	}
	return b.write(ctx, table, rows, conflictKey)
}

// Insert appends rows in a single statement.
func (b *BaseSQLSink) Insert(ctx context.Context, table string, rows []core.Row) error {
	return b.write(ctx, table, rows, nil)
}

func (b *BaseSQLSink) write(ctx context.Context, table string, rows []core.Row, conflictKey []string) error {
	if b.DB == nil {
		return ErrNotConnected
	}
	if len(rows) == 0 {
		return nil
	}
	if err := ValidateIdent(table); err != nil {
		return err
	}

	columns, err := RowColumns(rows)
	if err != nil {
		return fmt.Errorf("failed to prepare rows for %s: %w", table, err)
	}
	for _, k := range conflictKey {
		if err := ValidateIdent(k); err != nil {
			return err
		}
	}

	query := b.Dialect.BuildInsert(table, columns, len(rows), conflictKey)
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		for _, col := range columns {
			args = append(args, row[col])
		}
	}

	if _, err := b.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write %d rows to %s: %w", len(rows), table, err)
	}
	return nil
}

// Delete removes rows matching all predicates.
func (b *BaseSQLSink) Delete(ctx context.Context, table string, preds ...Predicate) (int64, error) {
	if b.DB == nil {
		return 0, ErrNotConnected
	}
	if err := validatePredicates(table, preds); err != nil {
		return 0, err
	}
	where, args := b.Dialect.BuildWhere(preds, 1)
	query := fmt.Sprintf("DELETE FROM %s%s", b.Dialect.Quote(table), where) //nolint:gosec // identifiers are validated

	n, err := b.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return n, nil
}

// Select returns the requested columns of rows matching all predicates.
func (b *BaseSQLSink) Select(ctx context.Context, table string, columns []string, preds ...Predicate) ([]core.Row, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	if err := validatePredicates(table, preds); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("select from %s requires columns", table)
	}
	for _, c := range columns {
		if err := ValidateIdent(c); err != nil {
			return nil, err
		}
	}

	where, args := b.Dialect.BuildWhere(preds, 1)
	query := fmt.Sprintf("SELECT %s FROM %s%s", b.Dialect.quoteAll(columns), b.Dialect.Quote(table), where) //nolint:gosec // identifiers are validated

	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		row := make(core.Row, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (b *BaseSQLSink) Count(ctx context.Context, table string) (int64, error) {
	if b.DB == nil {
		return 0, ErrNotConnected
	}
	if err := ValidateIdent(table); err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", b.Dialect.Quote(table)) //nolint:gosec // identifiers are validated
	if err := b.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// RowColumns returns the sorted column set shared by all rows.
// Rows with differing column sets are rejected.
func RowColumns(rows []core.Row) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		if err := ValidateIdent(col); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for i, row := range rows[1:] {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i+1, len(row), len(columns))
		}
		for _, col := range columns {
			if _, ok := row[col]; !ok {
				return nil, fmt.Errorf("row %d is missing column %q", i+1, col)
			}
		}
	}
	return columns, nil
}

func validatePredicates(table string, preds []Predicate) error {
	if err := ValidateIdent(table); err != nil {
		return err
	}
	for _, p := range preds {
		if err := ValidateIdent(p.Column); err != nil {
			return err
		}
		if p.Cmp != CmpEq && p.Cmp != CmpLt {
			return fmt.Errorf("unsupported comparison %q", p.Cmp)
		}
	}
	return nil
}
