package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/opencampus/coursebase/tools"
)

// Store is the persistent, site-scoped database backing all tables for one
// site. Local stores are SQLite files; DSNs with a libsql:// prefix open a
// remote database instead.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dsn    string
	remote bool
}

// Open opens a store for the given DSN and verifies the connection.
func Open(dsn string) (*Store, error) {
	remote := strings.HasPrefix(dsn, "libsql://")

	var db *sql.DB
	var err error
	if remote {
		db, err = sql.Open("libsql", dsn)
	} else {
		db, err = sql.Open("sqlite3", "file:"+dsn+"?_fk=1")
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn, remote: remote}, nil
}

// Path returns the DSN the store was opened with. For local stores this is
// the database file path.
func (s *Store) Path() string {
	return s.dsn
}

// Remote reports whether the store is backed by a remote database.
func (s *Store) Remote() bool {
	return s.remote
}

// Close closes the underlying connection. Any subsequent operation returns
// ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// handle returns the connection, or ErrStoreUnavailable after Close.
func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, tools.ErrStoreUnavailable
	}
	return s.db, nil
}

// buildWhere builds an exact-match WHERE clause from conditions. Column
// order is deterministic. Nil values compare with IS NULL. An empty
// conditions map produces no clause.
func buildWhere(conditions Record) (string, []any, error) {
	if len(conditions) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []any
	for _, col := range sortedColumns(conditions) {
		if err := tools.ValidateIdentifier(col); err != nil {
			return "", nil, err
		}
		val := normalizeValue(conditions[col])
		if val == nil {
			clauses = append(clauses, fmt.Sprintf("[%s] IS NULL", col))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("[%s] = ?", col))
		args = append(args, val)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// InsertRecord inserts a single record. Inserting a record whose primary
// key already exists fails with ErrUniqueViolation.
func (s *Store) InsertRecord(ctx context.Context, tableName string, rec Record) error {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return err
	}
	if len(rec) == 0 {
		return errors.New("cannot insert an empty record")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	cols := sortedColumns(rec)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		if err := tools.ValidateIdentifier(col); err != nil {
			return err
		}
		quoted[i] = fmt.Sprintf("[%s]", col)
		placeholders[i] = "?"
		args[i] = normalizeValue(rec[col])
	}

	query := fmt.Sprintf("INSERT INTO [%s] (%s) VALUES (%s)",
		tableName, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	return mapSQLError(execWithRetry(ctx, func() error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	}))
}

// UpdateRecords applies a partial column overwrite to all rows matching the
// conditions, returning the number of affected rows. Empty conditions
// update every row.
func (s *Store) UpdateRecords(ctx context.Context, tableName string, updates Record, conditions Record) (int64, error) {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, errors.New("no columns to update")
	}
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var sets []string
	var args []any
	for _, col := range sortedColumns(updates) {
		if err := tools.ValidateIdentifier(col); err != nil {
			return 0, err
		}
		sets = append(sets, fmt.Sprintf("[%s] = ?", col))
		args = append(args, normalizeValue(updates[col]))
	}

	where, whereArgs, err := buildWhere(conditions)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE [%s] SET %s%s", tableName, strings.Join(sets, ", "), where)

	var affected int64
	err = execWithRetry(ctx, func() error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, mapSQLError(err)
}

// DeleteRecords removes all rows matching the conditions, returning the
// number of affected rows. Empty conditions truncate the table.
func (s *Store) DeleteRecords(ctx context.Context, tableName string, conditions Record) (int64, error) {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return 0, err
	}
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	where, args, err := buildWhere(conditions)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM [%s]%s", tableName, where)

	var affected int64
	err = execWithRetry(ctx, func() error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, mapSQLError(err)
}

// GetRecord returns the first row matching the conditions, or
// ErrRecordNotFound if none match. Which row is first is storage-defined
// when the conditions are non-unique.
func (s *Store) GetRecord(ctx context.Context, tableName string, conditions Record) (Record, error) {
	recs, err := s.queryRecords(ctx, tableName, conditions, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, tools.RecordNotFoundErr(tableName)
	}
	return recs[0], nil
}

// GetRecords returns all rows matching the conditions, in storage-defined
// order.
func (s *Store) GetRecords(ctx context.Context, tableName string, conditions Record) ([]Record, error) {
	return s.queryRecords(ctx, tableName, conditions, 0)
}

// GetAllRecords returns every row of the table.
func (s *Store) GetAllRecords(ctx context.Context, tableName string) ([]Record, error) {
	return s.queryRecords(ctx, tableName, nil, 0)
}

// CountRecords returns the number of rows matching the conditions (all
// rows when conditions is nil or empty).
func (s *Store) CountRecords(ctx context.Context, tableName string, conditions Record) (int64, error) {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return 0, err
	}
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	where, args, err := buildWhere(conditions)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM [%s]%s", tableName, where)
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, mapSQLError(err)
	}
	return count, nil
}

// Exec runs a raw statement with lock retry. Used by migration callbacks.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return mapSQLError(execWithRetry(ctx, func() error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	}))
}

func (s *Store) queryRecords(ctx context.Context, tableName string, conditions Record, limit int) ([]Record, error) {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	where, args, err := buildWhere(conditions)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM [%s]%s", tableName, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// scanRecords reads every row into the normalized scalar domain. Column
// types come from the declared type name to stay driver-agnostic.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	count := len(columnTypes)
	var out []Record

	for rows.Next() {
		scanArgs := make([]any, count)
		for i, v := range columnTypes {
			switch strings.ToUpper(v.DatabaseTypeName()) {
			case "INTEGER", "INT", "BOOLEAN":
				scanArgs[i] = new(sql.NullInt64)
			case "REAL", "FLOAT", "DOUBLE":
				scanArgs[i] = new(sql.NullFloat64)
			case "BLOB":
				scanArgs[i] = new([]byte)
			default:
				scanArgs[i] = new(sql.NullString)
			}
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}

		rec := make(Record, count)
		for i, v := range columnTypes {
			switch z := scanArgs[i].(type) {
			case *sql.NullString:
				if z.Valid {
					rec[v.Name()] = z.String
				} else {
					rec[v.Name()] = nil
				}
			case *sql.NullInt64:
				if z.Valid {
					rec[v.Name()] = z.Int64
				} else {
					rec[v.Name()] = nil
				}
			case *sql.NullFloat64:
				if z.Valid {
					rec[v.Name()] = z.Float64
				} else {
					rec[v.Name()] = nil
				}
			case *[]byte:
				if *z == nil {
					rec[v.Name()] = nil
				} else {
					buf := make([]byte, len(*z))
					copy(buf, *z)
					rec[v.Name()] = buf
				}
			}
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}
