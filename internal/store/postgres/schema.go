package postgres

import (
	"context"
	"fmt"
	"strings"

	gerrors "github.com/go-faster/errors"

	"github.com/JonMunkholm/erpimport/internal/core"
)

const (
	coreDataTable  = "core_data"
	linksTable     = "cartel_links"
	analyticsTable = "analytics_rows"
)

var (
	coreDataColumns  = core.CoreDataLayout.Columns()
	analyticsColumns = core.AnalyticsLayout.Columns()
)

// columnType maps a layout field to its PostgreSQL type.
func columnType(def core.ColumnDef) string {
	switch def.Type {
	case core.FieldKey, core.FieldInt:
		return "BIGINT"
	case core.FieldDate:
		return "DATE"
	case core.FieldDecimal:
		return "NUMERIC(18,6)"
	default:
		if def.MaxLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", def.MaxLen)
		}
		return "TEXT"
	}
}

// createTableSQL builds a CREATE TABLE statement for defs. When key is set,
// that column becomes the primary key; otherwise a surrogate id is added.
func createTableSQL(table string, defs []core.ColumnDef, key string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	if key == "" {
		b.WriteString("\tid BIGSERIAL PRIMARY KEY,\n")
	}
	for i, def := range defs {
		fmt.Fprintf(&b, "\t%s %s", def.Name, columnType(def))
		if def.Name == key {
			b.WriteString(" PRIMARY KEY")
		}
		if i < len(defs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

func schemaStatements() []string {
	return []string{
		createTableSQL(coreDataTable, core.CoreDataLayout.ColumnDefs(), "cartel"),
		`CREATE TABLE IF NOT EXISTS ` + linksTable + ` (
	id BIGSERIAL PRIMARY KEY,
	cartel BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_` + linksTable + `_cartel ON ` + linksTable + ` (cartel)`,
		createTableSQL(analyticsTable, core.AnalyticsLayout.ColumnDefs(), ""),
	}
}

// EnsureSchema creates the dataset, link and analytics tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return gerrors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

// placeholders returns "$from, $from+1, ..." for n parameters.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func insertSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(1, len(cols)))
}

// upsertSQL inserts a row or overwrites every non-key column of the
// existing row with the same key.
func upsertSQL(table string, cols []string, key string) string {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insertSQL(table, cols), key, strings.Join(sets, ", "))
}
