// Package tools provides shared utilities for coursebase.
package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions.
var (
	// Storage errors.
	ErrRecordNotFound      = errors.New("record not found")
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")
	ErrNotNullViolation    = errors.New("not null constraint violation")
	ErrStoreUnavailable    = errors.New("store is not available")
	ErrTableNotFound       = errors.New("table not found")
	ErrColumnNotFound      = errors.New("column not found in table")
	ErrTableNotInitialized = errors.New("table has not been initialized")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrEmptyIdentifier     = errors.New("identifier cannot be empty")
	ErrIdentifierTooLong   = errors.New("identifier exceeds maximum length")

	// Schema and migration errors.
	ErrInvalidSchema   = errors.New("invalid site schema")
	ErrMigrationFailed = errors.New("schema migration failed")

	// Sites registry errors.
	ErrSiteNotFound  = errors.New("site not found")
	ErrSiteExists    = errors.New("site already exists")
	ErrNoCurrentSite = errors.New("no current site")
)

// RecordNotFoundErr returns an error for a lookup that matched zero rows.
func RecordNotFoundErr(table string) error {
	return fmt.Errorf("%w: table %s", ErrRecordNotFound, table)
}

// TableNotFoundErr returns an error for a table missing from the store.
func TableNotFoundErr(table string) error {
	return fmt.Errorf("%w: %s", ErrTableNotFound, table)
}

// ColumnNotFoundErr returns an error for a column missing from a table.
func ColumnNotFoundErr(table, column string) error {
	return fmt.Errorf("%w: %s in table %s", ErrColumnNotFound, column, table)
}

// TableNotInitializedErr returns an error for use of an uninitialized table.
func TableNotInitializedErr(table string) error {
	return fmt.Errorf("%w: %s", ErrTableNotInitialized, table)
}

// InvalidSchemaErr returns an error for a schema that fails validation.
func InvalidSchemaErr(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidSchema, name, reason)
}

// MigrationFailedErr wraps a failure while applying a schema to a site store.
// Both ErrMigrationFailed and the underlying cause remain matchable.
func MigrationFailedErr(schema string, version int, err error) error {
	return fmt.Errorf("%w: schema %s version %d: %w", ErrMigrationFailed, schema, version, err)
}

// SiteNotFoundErr returns an error for an unknown site ID.
func SiteNotFoundErr(id string) error {
	return fmt.Errorf("%w: %s", ErrSiteNotFound, id)
}
