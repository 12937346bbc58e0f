package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/coursebase/tools"
)

var coursesTable = Table{
	Name: "courses",
	Pk:   []string{"id"},
	Columns: []Col{
		{Name: "id", Type: "INTEGER", NotNull: true},
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "category", Type: "TEXT"},
		{Name: "progress", Type: "REAL"},
	},
}

var strategies = map[string]CachingStrategy{
	"eager": Eager,
	"lazy":  Lazy,
}

func newTestTable(t *testing.T, strategy CachingStrategy) (*DatabaseTable, *Store) {
	t.Helper()
	ctx := context.Background()

	store := openTestStore(t, coursesTable)
	table, err := NewDatabaseTable(strategy, store, "courses", []string{"id"})
	require.NoError(t, err)
	require.NoError(t, table.Initialize(ctx))
	return table, store
}

func TestTableRoundTrip(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, _ := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra", "category": "math", "progress": 0.25}))
			require.NoError(t, table.Insert(ctx, Record{"id": 2, "name": "biology", "category": "science"}))

			rec, err := table.FindByPrimaryKey(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "algebra", rec["name"])
			assert.Equal(t, 0.25, rec["progress"])

			rec, err = table.Find(ctx, Record{"category": "science"})
			require.NoError(t, err)
			assert.Equal(t, int64(2), rec["id"])

			all, err := table.All(ctx, nil)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			filtered, err := table.All(ctx, Record{"category": "math"})
			require.NoError(t, err)
			require.Len(t, filtered, 1)
			assert.Equal(t, int64(1), filtered[0]["id"])
		})
	}
}

// Both strategies must observe identical values for the same stored row,
// including values written in non-canonical Go types.
func TestStrategiesObserveSameValues(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, coursesTable)

	lazy, err := NewDatabaseTable(Lazy, store, "courses", []string{"id"})
	require.NoError(t, err)
	require.NoError(t, lazy.Initialize(ctx))
	require.NoError(t, lazy.Insert(ctx, Record{"id": int32(1), "name": "algebra", "progress": float32(0.5)}))

	// An eager table initialized afterwards mirrors the same rows.
	eager, err := NewDatabaseTable(Eager, store, "courses", []string{"id"})
	require.NoError(t, err)
	require.NoError(t, eager.Initialize(ctx))

	fromEager, err := eager.FindByPrimaryKey(ctx, 1)
	require.NoError(t, err)
	fromLazy, err := lazy.FindByPrimaryKey(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, fromLazy, fromEager)
	assert.Equal(t, int64(1), fromEager["id"])
	assert.Equal(t, 0.5, fromEager["progress"])
}

// Columns omitted at insert carry their NULL or DEFAULT value identically
// under both strategies, and nil-valued conditions match the same rows.
func TestOmittedColumnsObserveSameValues(t *testing.T) {
	ctx := context.Background()
	lessons := Table{
		Name: "lessons",
		Pk:   []string{"id"},
		Columns: []Col{
			{Name: "id", Type: "INTEGER", NotNull: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "category", Type: "TEXT"},
			{Name: "level", Type: "TEXT", Default: "beginner"},
		},
	}
	store := openTestStore(t, lessons)

	eager, err := NewDatabaseTable(Eager, store, "lessons", []string{"id"})
	require.NoError(t, err)
	require.NoError(t, eager.Initialize(ctx))
	lazy, err := NewDatabaseTable(Lazy, store, "lessons", []string{"id"})
	require.NoError(t, err)
	require.NoError(t, lazy.Initialize(ctx))

	require.NoError(t, eager.Insert(ctx, Record{"id": 1, "name": "algebra"}))

	fromEager, err := eager.FindByPrimaryKey(ctx, 1)
	require.NoError(t, err)
	fromLazy, err := lazy.FindByPrimaryKey(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fromLazy, fromEager)

	// Omitted columns are present, with NULL or the declared default.
	assert.Contains(t, fromEager, "category")
	assert.Nil(t, fromEager["category"])
	assert.Equal(t, "beginner", fromEager["level"])

	eagerRows, err := eager.All(ctx, Record{"category": nil})
	require.NoError(t, err)
	lazyRows, err := lazy.All(ctx, Record{"category": nil})
	require.NoError(t, err)
	require.Len(t, eagerRows, 1)
	assert.Equal(t, lazyRows, eagerRows)
}

func TestUpdateRejectsPrimaryKeyColumns(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, _ := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra"}))

			err := table.Update(ctx, Record{"id": 2}, Record{"id": 1})
			assert.Error(t, err)
			err = table.UpdateWhere(ctx, Record{"id": 3}, func(Record) bool { return true })
			assert.Error(t, err)

			// The row is untouched under its original key.
			rec, err := table.FindByPrimaryKey(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "algebra", rec["name"])
			_, err = table.FindByPrimaryKey(ctx, 2)
			assert.ErrorIs(t, err, tools.ErrRecordNotFound)
		})
	}
}

func TestTableDuplicateInsert(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, store := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra"}))
			err := table.Insert(ctx, Record{"id": 1, "name": "imposter"})
			assert.ErrorIs(t, err, tools.ErrUniqueViolation)

			all, err := table.All(ctx, nil)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "algebra", all[0]["name"])

			count, err := store.CountRecords(ctx, "courses", nil)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	}
}

func TestTableUpdate(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, store := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra", "category": "math"}))
			require.NoError(t, table.Insert(ctx, Record{"id": 2, "name": "calculus", "category": "math"}))
			require.NoError(t, table.Insert(ctx, Record{"id": 3, "name": "biology", "category": "science"}))

			require.NoError(t, table.Update(ctx, Record{"progress": 1.0}, Record{"category": "math"}))

			// Updated rows keep their other columns.
			rec, err := table.FindByPrimaryKey(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "algebra", rec["name"])
			assert.Equal(t, 1.0, rec["progress"])

			rec, err = table.FindByPrimaryKey(ctx, 3)
			require.NoError(t, err)
			assert.Nil(t, rec["progress"])

			// The store agrees with the table's view.
			stored, err := store.GetRecord(ctx, "courses", Record{"id": 2})
			require.NoError(t, err)
			assert.Equal(t, 1.0, stored["progress"])
		})
	}
}

func TestTableUpdateWhere(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, _ := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra", "progress": 0.9}))
			require.NoError(t, table.Insert(ctx, Record{"id": 2, "name": "biology", "progress": 0.2}))

			err := table.UpdateWhere(ctx, Record{"category": "almost-done"}, func(rec Record) bool {
				p, _ := rec["progress"].(float64)
				return p > 0.5
			})
			require.NoError(t, err)

			rec, err := table.FindByPrimaryKey(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "almost-done", rec["category"])

			rec, err = table.FindByPrimaryKey(ctx, 2)
			require.NoError(t, err)
			assert.Nil(t, rec["category"])
		})
	}
}

func TestTableDelete(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, store := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra", "category": "math"}))
			require.NoError(t, table.Insert(ctx, Record{"id": 2, "name": "biology", "category": "science"}))
			require.NoError(t, table.Insert(ctx, Record{"id": 3, "name": "calculus", "category": "math"}))

			require.NoError(t, table.Delete(ctx, Record{"category": "math"}))
			all, err := table.All(ctx, nil)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, int64(2), all[0]["id"])

			require.NoError(t, table.DeleteByPrimaryKey(ctx, 2))

			// Deleting with no conditions truncates.
			require.NoError(t, table.Insert(ctx, Record{"id": 4, "name": "drama"}))
			require.NoError(t, table.Delete(ctx, nil))

			all, err = table.All(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, all)

			count, err := store.CountRecords(ctx, "courses", nil)
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)
		})
	}
}

func TestTableFindNotFound(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, _ := newTestTable(t, strategy)

			_, err := table.FindByPrimaryKey(ctx, 404)
			assert.ErrorIs(t, err, tools.ErrRecordNotFound)

			_, err = table.Find(ctx, Record{"name": "missing"})
			assert.ErrorIs(t, err, tools.ErrRecordNotFound)
		})
	}
}

func TestTableReduce(t *testing.T) {
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table, _ := newTestTable(t, strategy)

			require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "a", "progress": 0.5}))
			require.NoError(t, table.Insert(ctx, Record{"id": 2, "name": "b", "progress": 1.0}))
			require.NoError(t, table.Insert(ctx, Record{"id": 3, "name": "c", "progress": 0.25}))

			total, err := Reduce(ctx, table, 0.0, func(acc float64, rec Record) float64 {
				return acc + rec["progress"].(float64)
			}, nil)
			require.NoError(t, err)
			assert.InDelta(t, 1.75, total, 1e-9)

			done, err := Reduce(ctx, table, 0, func(acc int, rec Record) int {
				return acc + 1
			}, func(rec Record) bool {
				return rec["progress"].(float64) >= 0.5
			})
			require.NoError(t, err)
			assert.Equal(t, 2, done)
		})
	}
}

func TestEagerInsertionOrder(t *testing.T) {
	ctx := context.Background()
	table, _ := newTestTable(t, Eager)

	for _, id := range []int{5, 1, 9, 3} {
		require.NoError(t, table.Insert(ctx, Record{"id": id, "name": "n"}))
	}

	all, err := table.All(ctx, nil)
	require.NoError(t, err)
	ids := make([]int64, len(all))
	for i, rec := range all {
		ids[i] = rec["id"].(int64)
	}
	assert.Equal(t, []int64{5, 1, 9, 3}, ids)
}

// Mutating a record returned by an Eager table must not leak into the
// mirror.
func TestEagerReturnsCopies(t *testing.T) {
	ctx := context.Background()
	table, _ := newTestTable(t, Eager)

	require.NoError(t, table.Insert(ctx, Record{"id": 1, "name": "algebra"}))

	rec, err := table.FindByPrimaryKey(ctx, 1)
	require.NoError(t, err)
	rec["name"] = "tampered"

	again, err := table.FindByPrimaryKey(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "algebra", again["name"])
}

func TestTableUsableOnlyAfterInitialize(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, coursesTable)

	table, err := NewDatabaseTable(Eager, store, "courses", []string{"id"})
	require.NoError(t, err)

	_, err = table.All(ctx, nil)
	assert.ErrorIs(t, err, tools.ErrTableNotInitialized)

	err = table.Insert(ctx, Record{"id": 1, "name": "x"})
	assert.ErrorIs(t, err, tools.ErrTableNotInitialized)
}

func TestInitializeValidatesSchema(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, coursesTable)

	table, err := NewDatabaseTable(Lazy, store, "missing", []string{"id"})
	require.NoError(t, err)
	assert.ErrorIs(t, table.Initialize(ctx), tools.ErrTableNotFound)

	table, err = NewDatabaseTable(Lazy, store, "courses", []string{"nope"})
	require.NoError(t, err)
	assert.ErrorIs(t, table.Initialize(ctx), tools.ErrColumnNotFound)
}

func TestTableRejectsUnknownColumns(t *testing.T) {
	ctx := context.Background()
	table, _ := newTestTable(t, Eager)

	err := table.Insert(ctx, Record{"id": 1, "name": "x", "bogus": true})
	assert.ErrorIs(t, err, tools.ErrColumnNotFound)

	_, err = table.All(ctx, Record{"bogus": 1})
	assert.ErrorIs(t, err, tools.ErrColumnNotFound)
}

func TestCompositePrimaryKey(t *testing.T) {
	ctx := context.Background()
	enrolments := Table{
		Name: "enrolments",
		Pk:   []string{"course", "user"},
		Columns: []Col{
			{Name: "course", Type: "TEXT", NotNull: true},
			{Name: "user", Type: "TEXT", NotNull: true},
			{Name: "role", Type: "TEXT"},
		},
	}
	store := openTestStore(t, enrolments)

	table, err := NewDatabaseTable(Eager, store, "enrolments", []string{"course", "user"})
	require.NoError(t, err)
	require.NoError(t, table.Initialize(ctx))

	// Tuples with the same naive concatenation are distinct rows.
	require.NoError(t, table.Insert(ctx, Record{"course": "ab", "user": "c", "role": "student"}))
	require.NoError(t, table.Insert(ctx, Record{"course": "a", "user": "bc", "role": "teacher"}))

	rec, err := table.FindByPrimaryKey(ctx, "ab", "c")
	require.NoError(t, err)
	assert.Equal(t, "student", rec["role"])

	rec, err = table.FindByPrimaryKey(ctx, "a", "bc")
	require.NoError(t, err)
	assert.Equal(t, "teacher", rec["role"])

	require.NoError(t, table.DeleteByPrimaryKey(ctx, "ab", "c"))
	_, err = table.FindByPrimaryKey(ctx, "ab", "c")
	assert.ErrorIs(t, err, tools.ErrRecordNotFound)

	_, err = table.FindByPrimaryKey(ctx, "a", "bc")
	require.NoError(t, err)

	_, err = table.FindByPrimaryKey(ctx, "only-one")
	assert.Error(t, err)
}
