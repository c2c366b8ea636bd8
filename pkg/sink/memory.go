package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

func init() {
	Register("memory", func(_ *slog.Logger) Sink { return NewMemory() })
}

// Op names a sink operation for failure injection.
type Op string

// Sink operations.
const (
	OpUpsert Op = "upsert"
	OpInsert Op = "insert"
	OpDelete Op = "delete"
	OpSelect Op = "select"
	OpCount  Op = "count"
)

// Memory is an in-process sink. It backs dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]core.Row

	// Fail, when set, is consulted before every operation; a non-nil
	// return aborts the operation with that error.
	Fail func(op Op, table string) error
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]core.Row)}
}

// Name returns the registered sink type.
func (m *Memory) Name() string { return "memory" }

// Connect is a no-op.
func (m *Memory) Connect(context.Context, Config) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Migrate is a no-op; tables spring into existence on first write.
func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) check(op Op, table string) error {
	if err := ValidateIdent(table); err != nil {
		return err
	}
	if m.Fail != nil {
		return m.Fail(op, table)
	}
	return nil
}

// Upsert replaces rows whose conflict key values match, appending the rest.
func (m *Memory) Upsert(_ context.Context, table string, rows []core.Row, conflictKey []string) error {
	if err := m.check(OpUpsert, table); err != nil {
		return err
	}
	if len(conflictKey) == 0 {
		return fmt.Errorf("upsert into %s requires a conflict key", table)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tables[table]
	index := make(map[string]int, len(existing))
	for i, row := range existing {
		index[keyOf(row, conflictKey)] = i
	}
	for _, row := range rows {
		k := keyOf(row, conflictKey)
		if i, ok := index[k]; ok {
			existing[i] = cloneRow(row)
			continue
		}
		index[k] = len(existing)
		existing = append(existing, cloneRow(row))
	}
	m.tables[table] = existing
	return nil
}

// Insert appends rows.
func (m *Memory) Insert(_ context.Context, table string, rows []core.Row) error {
	if err := m.check(OpInsert, table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.tables[table] = append(m.tables[table], cloneRow(row))
	}
	return nil
}

// Delete removes rows matching all predicates.
func (m *Memory) Delete(_ context.Context, table string, preds ...Predicate) (int64, error) {
	if err := m.check(OpDelete, table); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tables[table][:0]
	var removed int64
	for _, row := range m.tables[table] {
		if matches(row, preds) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	m.tables[table] = kept
	return removed, nil
}

// Select returns the requested columns of rows matching all predicates.
func (m *Memory) Select(_ context.Context, table string, columns []string, preds ...Predicate) ([]core.Row, error) {
	if err := m.check(OpSelect, table); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.Row
	for _, row := range m.tables[table] {
		if !matches(row, preds) {
			continue
		}
		proj := make(core.Row, len(columns))
		for _, c := range columns {
			proj[c] = row[c]
		}
		out = append(out, proj)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (m *Memory) Count(_ context.Context, table string) (int64, error) {
	if err := m.check(OpCount, table); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.tables[table])), nil
}

// Rows returns a copy of every row in table.
func (m *Memory) Rows(table string) []core.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Row, len(m.tables[table]))
	for i, row := range m.tables[table] {
		out[i] = cloneRow(row)
	}
	return out
}

func keyOf(row core.Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(row[c])
	}
	return strings.Join(parts, "\x1f")
}

func cloneRow(row core.Row) core.Row {
	out := make(core.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func matches(row core.Row, preds []Predicate) bool {
	for _, p := range preds {
		switch p.Cmp {
		case CmpEq:
			if fmt.Sprint(row[p.Column]) != fmt.Sprint(p.Value) {
				return false
			}
		case CmpLt:
			if !less(row[p.Column], p.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func less(a, b any) bool {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
