package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/coursebase/storage"
	"github.com/opencampus/coursebase/tools"
)

func TestSchemaRegistryValidation(t *testing.T) {
	reg := NewSchemaRegistry()

	assert.ErrorIs(t, reg.Register(SiteSchema{Version: 1}), tools.ErrInvalidSchema)
	assert.ErrorIs(t, reg.Register(SiteSchema{Name: "notes"}), tools.ErrInvalidSchema)
	assert.ErrorIs(t, reg.Register(SiteSchema{
		Name:    "notes",
		Version: 1,
		Tables:  []storage.Table{{Name: "bad name"}},
	}), tools.ErrInvalidIdentifier)
}

func TestSchemaRegistryKeepsHighestVersion(t *testing.T) {
	reg := NewSchemaRegistry()

	require.NoError(t, reg.Register(SiteSchema{Name: "notes", Version: 2}))
	require.NoError(t, reg.Register(SiteSchema{Name: "notes", Version: 1}))

	held, ok := reg.Get("notes")
	require.True(t, ok)
	assert.Equal(t, 2, held.Version)

	require.NoError(t, reg.Register(SiteSchema{Name: "notes", Version: 3}))
	held, _ = reg.Get("notes")
	assert.Equal(t, 3, held.Version)
}

func TestSchemaRegistrySnapshotSorted(t *testing.T) {
	reg := NewSchemaRegistry()

	for _, name := range []string{"notes", "assignments", "messages"} {
		require.NoError(t, reg.Register(SiteSchema{Name: name, Version: 1}))
	}

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "assignments", snap[0].Name)
	assert.Equal(t, "messages", snap[1].Name)
	assert.Equal(t, "notes", snap[2].Name)
}
