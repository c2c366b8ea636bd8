package sink

import (
	"fmt"
	"strings"
)

// PlaceholderStyle selects how bind parameters are written.
type PlaceholderStyle int

// Placeholder styles.
const (
	PlaceholderQuestion PlaceholderStyle = iota // ?
	PlaceholderDollar                           // $1, $2, ...
)

// UpsertStyle selects the conflict clause syntax.
type UpsertStyle int

// Upsert styles.
const (
	UpsertOnConflict        UpsertStyle = iota // ON CONFLICT (...) DO UPDATE SET c = excluded.c
	UpsertOnDuplicateKey                       // ON DUPLICATE KEY UPDATE c = VALUES(c)
)

// Dialect describes the SQL differences between the supported sinks.
type Dialect struct {
	Name        string
	Placeholder PlaceholderStyle
	Upsert      UpsertStyle
	QuoteChar   byte
}

// Common dialects.
var (
	DialectSQLite   = Dialect{Name: "sqlite", Placeholder: PlaceholderQuestion, Upsert: UpsertOnConflict, QuoteChar: '"'}
	DialectPostgres = Dialect{Name: "postgres", Placeholder: PlaceholderDollar, Upsert: UpsertOnConflict, QuoteChar: '"'}
	DialectDuckDB   = Dialect{Name: "duckdb", Placeholder: PlaceholderQuestion, Upsert: UpsertOnConflict, QuoteChar: '"'}
	DialectMySQL    = Dialect{Name: "mysql", Placeholder: PlaceholderQuestion, Upsert: UpsertOnDuplicateKey, QuoteChar: '`'}
)

// FormatPlaceholder returns the bind parameter for 1-based position n.
func (d Dialect) FormatPlaceholder(n int) string {
	if d.Placeholder == PlaceholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	q := string(d.QuoteChar)
	return q + ident + q
}

func (d Dialect) quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = d.Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// BuildInsert renders a multi-row INSERT for rowCount rows of columns.
// When conflictKey is non-empty the statement upserts.
func (d Dialect) BuildInsert(table string, columns []string, rowCount int, conflictKey []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.Quote(table), d.quoteAll(columns))

	n := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.FormatPlaceholder(n))
			n++
		}
		b.WriteByte(')')
	}

	if len(conflictKey) == 0 {
		return b.String()
	}

	inKey := make(map[string]bool, len(conflictKey))
	for _, k := range conflictKey {
		inKey[k] = true
	}
	var updates []string
	for _, col := range columns {
		if inKey[col] {
			continue
		}
		if d.Upsert == UpsertOnDuplicateKey {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", d.Quote(col), d.Quote(col)))
		} else {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", d.Quote(col), d.Quote(col)))
		}
	}

	switch {
	case d.Upsert == UpsertOnDuplicateKey && len(updates) == 0:
		// MySQL has no DO NOTHING; a self-assignment keeps the statement valid.
		k := d.Quote(conflictKey[0])
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s = %s", k, k)
	case d.Upsert == UpsertOnDuplicateKey:
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s", strings.Join(updates, ", "))
	case len(updates) == 0:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", d.quoteAll(conflictKey))
	default:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", d.quoteAll(conflictKey), strings.Join(updates, ", "))
	}
	return b.String()
}

// BuildWhere renders predicates as a WHERE clause starting at bind position start.
// It returns an empty clause for no predicates.
func (d Dialect) BuildWhere(preds []Predicate, start int) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	parts := make([]string, len(preds))
	args := make([]any, len(preds))
	for i, p := range preds {
		parts[i] = fmt.Sprintf("%s %s %s", d.Quote(p.Column), p.Cmp, d.FormatPlaceholder(start+i))
		args[i] = p.Value
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}
