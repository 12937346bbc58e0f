package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencampus/coursebase/tools"
)

// buildCreateTableQuery generates a CREATE TABLE IF NOT EXISTS statement
// from a Table definition. Columns are emitted in declaration order.
func buildCreateTableQuery(table Table) (string, error) {
	if err := tools.ValidateIdentifier(table.Name); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS [%s] (", table.Name)

	single := singlePkColumn(table)

	for i, col := range table.Columns {
		if err := tools.ValidateIdentifier(col.Name); err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "[%s] %s", col.Name, col.Type)

		if col.Name == single {
			b.WriteString(" PRIMARY KEY")
		}
		if col.NotNull {
			b.WriteString(" NOT NULL")
		}
		if col.Unique {
			b.WriteString(" UNIQUE")
		}
		if col.Default != nil {
			b.WriteString(" DEFAULT " + formatDefaultValue(col.Default))
		}
	}

	if single == "" && len(table.Pk) > 0 {
		quoted := make([]string, len(table.Pk))
		for i, c := range table.Pk {
			if err := tools.ValidateIdentifier(c); err != nil {
				return "", err
			}
			quoted[i] = fmt.Sprintf("[%s]", c)
		}
		b.WriteString(", PRIMARY KEY (" + strings.Join(quoted, ", ") + ")")
	}

	b.WriteString(")")
	return b.String(), nil
}

// singlePkColumn returns the primary key column name when the key is a
// single column, otherwise "".
func singlePkColumn(table Table) string {
	if len(table.Pk) == 1 {
		return table.Pk[0]
	}
	return ""
}

// buildCreateIndexQuery generates a CREATE INDEX IF NOT EXISTS statement.
func buildCreateIndexQuery(tableName string, idx Index) (string, error) {
	if err := tools.ValidateIdentifier(idx.Name); err != nil {
		return "", err
	}
	quoted := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		if err := tools.ValidateIdentifier(c); err != nil {
			return "", err
		}
		quoted[i] = fmt.Sprintf("[%s]", c)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS [%s] ON [%s] (%s)",
		unique, idx.Name, tableName, strings.Join(quoted, ", ")), nil
}

// formatDefaultValue formats a default value for SQL.
func formatDefaultValue(val any) string {
	switch v := val.(type) {
	case string:
		upper := strings.ToUpper(v)
		if upper == "CURRENT_TIMESTAMP" || upper == "CURRENT_DATE" || upper == "CURRENT_TIME" {
			return v
		}
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case float64:
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case nil:
		return "NULL"
	default:
		return fmt.Sprintf("'%v'", v)
	}
}

// CreateTablesFromSchema creates (or ensures) every table and index in the
// given definitions. Existing tables are left untouched; widening an
// existing table requires a migration callback instead.
func (s *Store) CreateTablesFromSchema(ctx context.Context, tables ...Table) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	for _, table := range tables {
		query, err := buildCreateTableQuery(table)
		if err != nil {
			return err
		}
		if err := execWithRetry(ctx, func() error {
			_, err := db.ExecContext(ctx, query)
			return err
		}); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.Name, mapSQLError(err))
		}

		for _, idx := range table.Indexes {
			query, err := buildCreateIndexQuery(table.Name, idx)
			if err != nil {
				return err
			}
			if err := execWithRetry(ctx, func() error {
				_, err := db.ExecContext(ctx, query)
				return err
			}); err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.Name, mapSQLError(err))
			}
		}
	}

	return nil
}

// TableColumns returns the column names of an existing table, in
// declaration order, using PRAGMA table_info.
func (s *Store) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info([%s])", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
