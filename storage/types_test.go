package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, int64(1), normalizeValue(true))
	assert.Equal(t, int64(0), normalizeValue(false))
	assert.Equal(t, int64(7), normalizeValue(7))
	assert.Equal(t, int64(7), normalizeValue(uint8(7)))
	assert.Equal(t, 2.5, normalizeValue(float32(2.5)))
	assert.Equal(t, "x", normalizeValue("x"))
	assert.Nil(t, normalizeValue(nil))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(1, int64(1)))
	assert.True(t, valuesEqual(true, int64(1)))
	assert.True(t, valuesEqual([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, valuesEqual([]byte{1, 2}, []byte{1, 3}))
	assert.False(t, valuesEqual([]byte{49}, "1"))
	assert.False(t, valuesEqual(1, "1"))
}

func TestSerializeKeyCollisionFree(t *testing.T) {
	// Tuples whose naive concatenation would collide must stay distinct.
	pairs := [][2][]any{
		{{"ab", "c"}, {"a", "bc"}},
		{{"1:a", "b"}, {"1", "a1:b"}},
		{{12, 3}, {1, 23}},
		{{""}, {"", ""}},
	}
	for _, p := range pairs {
		assert.NotEqual(t, serializeKey(p[0]), serializeKey(p[1]),
			"tuples %v and %v must serialize differently", p[0], p[1])
	}

	// Same tuple, mixed representations of the same value, same key.
	assert.Equal(t, serializeKey([]any{int64(5), "x"}), serializeKey([]any{5, "x"}))
}

func TestMatchesConditions(t *testing.T) {
	rec := Record{"id": int64(1), "name": "ada", "email": nil}

	assert.True(t, matchesConditions(rec, Record{"id": 1}))
	assert.True(t, matchesConditions(rec, Record{"id": 1, "name": "ada"}))
	assert.True(t, matchesConditions(rec, Record{"email": nil}))
	assert.False(t, matchesConditions(rec, Record{"id": 2}))
	assert.False(t, matchesConditions(rec, Record{"missing": 1}))
}
