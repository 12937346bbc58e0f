// Package storage provides the per-site persistent store and the generic
// table abstraction built on top of it.
package storage

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is a single row: a mapping from column name to scalar value.
// Values read back from a store are always in the normalized domain
// (int64, float64, string, []byte or nil).
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table represents a database table's schema. Immutable once created;
// changes require a schema migration.
type Table struct {
	Name    string   `json:"name"`              // Table name
	Pk      []string `json:"pk"`                // Primary key column name(s) - supports composite keys
	Columns []Col    `json:"columns"`           // Ordered column definitions
	Indexes []Index  `json:"indexes,omitempty"` // Table indexes
}

// Col represents a column definition.
type Col struct {
	Name    string `json:"name"`              // Column name
	Type    string `json:"type"`              // SQLite type (TEXT, INTEGER, REAL, BLOB)
	NotNull bool   `json:"notNull,omitempty"` // NOT NULL constraint
	Unique  bool   `json:"unique,omitempty"`  // UNIQUE constraint
	Default any    `json:"default,omitempty"` // Default value (nil if none)
}

// Index represents a database index definition.
type Index struct {
	Name    string   `json:"name"`    // Index name
	Columns []string `json:"columns"` // Columns included in index
	Unique  bool     `json:"unique,omitempty"`
}

// normalizeValue maps a Go value onto the store's scalar domain so that
// cached rows and rows read back from SQLite compare equal.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case string:
		return x
	case []byte:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// normalizeRecord returns a copy of rec with every value normalized.
func normalizeRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = normalizeValue(v)
	}
	return out
}

// valuesEqual compares two values after normalization.
func valuesEqual(a, b any) bool {
	na, nb := normalizeValue(a), normalizeValue(b)
	if ba, ok := na.([]byte); ok {
		bb, ok := nb.([]byte)
		return ok && bytes.Equal(ba, bb)
	}
	if _, ok := nb.([]byte); ok {
		return false
	}
	return na == nb
}

// matchesConditions reports whether rec satisfies an exact-match conjunction.
func matchesConditions(rec Record, conditions Record) bool {
	for col, want := range conditions {
		got, ok := rec[col]
		if !ok {
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// serializeKey produces a stable, collision-free string from a primary key
// tuple. Each part is length-prefixed so no two distinct tuples serialize
// identically regardless of their content.
func serializeKey(parts []any) string {
	var b strings.Builder
	for _, p := range parts {
		s := fmt.Sprint(normalizeValue(p))
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// sortedColumns returns the record's column names in lexical order.
// Generated SQL must be deterministic for a given record shape.
func sortedColumns(rec Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
