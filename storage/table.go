package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/opencampus/coursebase/tools"
)

// CachingStrategy selects how a DatabaseTable resolves reads.
type CachingStrategy int

const (
	// Eager mirrors every row in memory; reads never touch the store
	// after Initialize. Suited to small, frequently-read tables.
	Eager CachingStrategy = iota
	// Lazy defers every read and write to the backing store. Suited to
	// large tables where a full mirror would be wasteful.
	Lazy
)

// DatabaseTable provides uniform CRUD and predicate queries over one table
// of one site's store. The caching strategy is fixed at construction.
//
// A table must not be used after its site has been deleted.
type DatabaseTable struct {
	store      *Store
	name       string
	primaryKey []string
	strategy   CachingStrategy

	mu          sync.RWMutex
	columns     map[string]bool
	cache       map[string]Record // serialized primary key -> row (Eager only)
	order       []string          // insertion order of cache keys
	initialized bool
}

// NewDatabaseTable constructs a table bound to a store. Initialize must be
// called, once, before any other operation.
func NewDatabaseTable(strategy CachingStrategy, store *Store, tableName string, primaryKey []string) (*DatabaseTable, error) {
	if err := tools.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	if len(primaryKey) == 0 {
		return nil, fmt.Errorf("table %s: primary key columns are required", tableName)
	}
	for _, col := range primaryKey {
		if err := tools.ValidateIdentifier(col); err != nil {
			return nil, err
		}
	}
	return &DatabaseTable{
		store:      store,
		name:       tableName,
		primaryKey: append([]string(nil), primaryKey...),
		strategy:   strategy,
	}, nil
}

// Name returns the table name.
func (t *DatabaseTable) Name() string { return t.name }

// Initialize binds the table to the store's schema and, for Eager tables,
// loads every row into the in-memory mirror. Call exactly once.
func (t *DatabaseTable) Initialize(ctx context.Context) error {
	cols, err := t.store.TableColumns(ctx, t.name)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return tools.TableNotFoundErr(t.name)
	}

	columns := make(map[string]bool, len(cols))
	for _, c := range cols {
		columns[c] = true
	}
	for _, pk := range t.primaryKey {
		if !columns[pk] {
			return tools.ColumnNotFoundErr(t.name, pk)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.columns = columns

	if t.strategy == Eager {
		recs, err := t.store.GetAllRecords(ctx, t.name)
		if err != nil {
			return err
		}
		t.cache = make(map[string]Record, len(recs))
		t.order = make([]string, 0, len(recs))
		for _, rec := range recs {
			key := t.recordKey(rec)
			t.cache[key] = rec
			t.order = append(t.order, key)
		}
	}

	t.initialized = true
	return nil
}

// All returns all rows, optionally filtered by an exact-match conjunction.
// Eager tables return rows in insertion order; Lazy tables in
// storage-defined order.
func (t *DatabaseTable) All(ctx context.Context, conditions Record) ([]Record, error) {
	if err := t.checkReady(conditions); err != nil {
		return nil, err
	}

	if t.strategy == Eager {
		t.mu.RLock()
		defer t.mu.RUnlock()

		var out []Record
		for _, key := range t.order {
			rec := t.cache[key]
			if len(conditions) == 0 || matchesConditions(rec, conditions) {
				out = append(out, rec.Clone())
			}
		}
		return out, nil
	}

	if len(conditions) == 0 {
		return t.store.GetAllRecords(ctx, t.name)
	}
	return t.store.GetRecords(ctx, t.name, conditions)
}

// Find returns the first row matching the conditions, or ErrRecordNotFound.
// When conditions are non-unique and no ordering is defined, which row is
// first is non-deterministic; callers must not rely on it.
func (t *DatabaseTable) Find(ctx context.Context, conditions Record) (Record, error) {
	if err := t.checkReady(conditions); err != nil {
		return nil, err
	}

	if t.strategy == Eager {
		t.mu.RLock()
		defer t.mu.RUnlock()

		for _, key := range t.order {
			if matchesConditions(t.cache[key], conditions) {
				return t.cache[key].Clone(), nil
			}
		}
		return nil, tools.RecordNotFoundErr(t.name)
	}

	return t.store.GetRecord(ctx, t.name, conditions)
}

// FindByPrimaryKey returns the row with the given primary key tuple, or
// ErrRecordNotFound if absent. Key values are given in primary-key column
// order.
func (t *DatabaseTable) FindByPrimaryKey(ctx context.Context, key ...any) (Record, error) {
	if err := t.checkKey(key); err != nil {
		return nil, err
	}

	if t.strategy == Eager {
		t.mu.RLock()
		defer t.mu.RUnlock()

		if rec, ok := t.cache[serializeKey(key)]; ok {
			return rec.Clone(), nil
		}
		return nil, tools.RecordNotFoundErr(t.name)
	}

	return t.store.GetRecord(ctx, t.name, t.keyConditions(key))
}

// Insert adds a record. Inserting a duplicate primary key fails with
// ErrUniqueViolation; the mirror is only updated after the store write
// succeeds, so it never reflects a failed write. The mirror caches the row
// as the store wrote it, so columns omitted here carry their NULL or
// DEFAULT value just as a store read would report them.
func (t *DatabaseTable) Insert(ctx context.Context, rec Record) error {
	if err := t.checkReady(rec); err != nil {
		return err
	}

	normalized := normalizeRecord(rec)
	if err := t.store.InsertRecord(ctx, t.name, normalized); err != nil {
		return err
	}

	if t.strategy == Eager {
		stored, err := t.store.GetRecord(ctx, t.name, t.keyConditions(t.recordKeyValues(normalized)))
		if err != nil {
			return err
		}
		t.mu.Lock()
		key := t.recordKey(stored)
		t.cache[key] = stored
		t.order = append(t.order, key)
		t.mu.Unlock()
	}
	return nil
}

// Update applies a partial column overwrite to all rows matching the
// conditions. The store write happens first; the Eager mirror is then
// patched in place, merging updates into each matching cached record.
// Primary key columns cannot be updated; delete and re-insert instead.
func (t *DatabaseTable) Update(ctx context.Context, updates Record, conditions Record) error {
	if err := t.checkReady(updates); err != nil {
		return err
	}
	if err := t.rejectKeyUpdates(updates); err != nil {
		return err
	}
	if err := t.validateColumns(conditions); err != nil {
		return err
	}

	normalized := normalizeRecord(updates)
	if _, err := t.store.UpdateRecords(ctx, t.name, normalized, conditions); err != nil {
		return err
	}

	if t.strategy == Eager {
		t.mu.Lock()
		t.patchCache(normalized, func(rec Record) bool {
			return len(conditions) == 0 || matchesConditions(rec, conditions)
		})
		t.mu.Unlock()
	}
	return nil
}

// UpdateWhere applies a partial column overwrite to all rows matching an
// arbitrary predicate. Rows are updated one at a time by primary key.
func (t *DatabaseTable) UpdateWhere(ctx context.Context, updates Record, predicate func(Record) bool) error {
	if err := t.checkReady(updates); err != nil {
		return err
	}
	if err := t.rejectKeyUpdates(updates); err != nil {
		return err
	}

	normalized := normalizeRecord(updates)
	matching, err := t.All(ctx, nil)
	if err != nil {
		return err
	}

	for _, rec := range matching {
		if !predicate(rec) {
			continue
		}
		key := t.recordKeyValues(rec)
		if _, err := t.store.UpdateRecords(ctx, t.name, normalized, t.keyConditions(key)); err != nil {
			return err
		}
		if t.strategy == Eager {
			t.mu.Lock()
			if cached, ok := t.cache[serializeKey(key)]; ok {
				for col, val := range normalized {
					cached[col] = val
				}
			}
			t.mu.Unlock()
		}
	}
	return nil
}

// Delete removes all rows matching the conditions. With no conditions the
// whole table is truncated.
func (t *DatabaseTable) Delete(ctx context.Context, conditions Record) error {
	if err := t.checkReady(nil); err != nil {
		return err
	}
	if err := t.validateColumns(conditions); err != nil {
		return err
	}

	if _, err := t.store.DeleteRecords(ctx, t.name, conditions); err != nil {
		return err
	}

	if t.strategy == Eager {
		t.mu.Lock()
		if len(conditions) == 0 {
			t.cache = make(map[string]Record)
			t.order = t.order[:0]
		} else {
			t.dropFromCache(func(rec Record) bool {
				return matchesConditions(rec, conditions)
			})
		}
		t.mu.Unlock()
	}
	return nil
}

// DeleteByPrimaryKey removes the row with the given primary key tuple.
func (t *DatabaseTable) DeleteByPrimaryKey(ctx context.Context, key ...any) error {
	if err := t.checkKey(key); err != nil {
		return err
	}

	if _, err := t.store.DeleteRecords(ctx, t.name, t.keyConditions(key)); err != nil {
		return err
	}

	if t.strategy == Eager {
		serial := serializeKey(key)
		t.mu.Lock()
		if _, ok := t.cache[serial]; ok {
			delete(t.cache, serial)
			for i, k := range t.order {
				if k == serial {
					t.order = append(t.order[:i], t.order[i+1:]...)
					break
				}
			}
		}
		t.mu.Unlock()
	}
	return nil
}

// Reduce folds left-to-right over the table's rows that match the
// predicate (all rows when predicate is nil), starting from initial.
// Eager tables fold in insertion order; Lazy tables in storage-defined
// order.
func Reduce[A any](ctx context.Context, t *DatabaseTable, initial A, fn func(A, Record) A, predicate func(Record) bool) (A, error) {
	acc := initial
	recs, err := t.All(ctx, nil)
	if err != nil {
		return acc, err
	}
	for _, rec := range recs {
		if predicate != nil && !predicate(rec) {
			continue
		}
		acc = fn(acc, rec)
	}
	return acc, nil
}

// checkReady verifies initialization and validates column names.
func (t *DatabaseTable) checkReady(rec Record) error {
	t.mu.RLock()
	initialized := t.initialized
	t.mu.RUnlock()

	if !initialized {
		return tools.TableNotInitializedErr(t.name)
	}
	return t.validateColumns(rec)
}

// validateColumns rejects column names absent from the table schema.
func (t *DatabaseTable) validateColumns(rec Record) error {
	if len(rec) == 0 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for col := range rec {
		if !t.columns[col] {
			return tools.ColumnNotFoundErr(t.name, col)
		}
	}
	return nil
}

// rejectKeyUpdates refuses updates touching a primary key column. The
// Eager mirror is keyed by the serialized primary key, so a key change
// must go through delete and re-insert.
func (t *DatabaseTable) rejectKeyUpdates(updates Record) error {
	for _, col := range t.primaryKey {
		if _, ok := updates[col]; ok {
			return fmt.Errorf("table %s: primary key column %s cannot be updated", t.name, col)
		}
	}
	return nil
}

func (t *DatabaseTable) checkKey(key []any) error {
	if err := t.checkReady(nil); err != nil {
		return err
	}
	if len(key) != len(t.primaryKey) {
		return fmt.Errorf("table %s: expected %d primary key values, got %d",
			t.name, len(t.primaryKey), len(key))
	}
	return nil
}

// keyConditions maps a primary key tuple onto exact-match conditions.
func (t *DatabaseTable) keyConditions(key []any) Record {
	conds := make(Record, len(t.primaryKey))
	for i, col := range t.primaryKey {
		conds[col] = key[i]
	}
	return conds
}

// recordKey serializes the record's primary key values.
func (t *DatabaseTable) recordKey(rec Record) string {
	return serializeKey(t.recordKeyValues(rec))
}

func (t *DatabaseTable) recordKeyValues(rec Record) []any {
	vals := make([]any, len(t.primaryKey))
	for i, col := range t.primaryKey {
		vals[i] = rec[col]
	}
	return vals
}

// patchCache merges updates into every cached record matching the filter.
// Caller holds the write lock.
func (t *DatabaseTable) patchCache(updates Record, match func(Record) bool) {
	for _, key := range t.order {
		rec := t.cache[key]
		if match(rec) {
			for col, val := range updates {
				rec[col] = val
			}
		}
	}
}

// dropFromCache removes every cached record matching the filter, keeping
// insertion order for the remainder. Caller holds the write lock.
func (t *DatabaseTable) dropFromCache(match func(Record) bool) {
	kept := t.order[:0]
	for _, key := range t.order {
		if match(t.cache[key]) {
			delete(t.cache, key)
			continue
		}
		kept = append(kept, key)
	}
	t.order = kept
}
