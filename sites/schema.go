// Package sites tracks the set of known sites, the current site, and the
// application of versioned feature schemas to each site's store.
package sites

import (
	"context"
	"sort"
	"sync"

	"github.com/opencampus/coursebase/storage"
	"github.com/opencampus/coursebase/tools"
)

// MigrateFunc transforms a site store from oldVersion to the schema's
// registered version. It must reference only its parameters; the store
// handle, the previously installed version and the site ID are everything
// a migration may depend on.
type MigrateFunc func(ctx context.Context, store *storage.Store, oldVersion int, siteID string) error

// SiteSchema is a feature module's declaration of persistent storage
// needs: tables to ensure plus an optional migration procedure.
type SiteSchema struct {
	// Name is globally unique across the app.
	Name string
	// Version increases monotonically; a schema applied at version V is
	// recorded per site and never re-applied for V' <= V.
	Version int
	// Tables to create or ensure before the migration callback runs.
	Tables []storage.Table
	// OnlyCurrentSite restricts immediate application to the current site.
	OnlyCurrentSite bool
	// CanBeCleared lists tables safe to truncate for storage reclamation.
	CanBeCleared []string
	// Migrate is invoked with the previously installed version after the
	// tables exist. Optional.
	Migrate MigrateFunc
}

// SchemaRegistry holds the latest registered version of each site schema.
// It is an explicit object with process lifetime, injected into the sites
// registry; tests can build isolated registries.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]SiteSchema
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]SiteSchema)}
}

// Register records a schema. Re-registering a name with a version lower
// than or equal to the held one keeps the held schema (application to
// individual sites is decided against their recorded versions).
func (r *SchemaRegistry) Register(schema SiteSchema) error {
	if schema.Name == "" {
		return tools.InvalidSchemaErr(schema.Name, "name is required")
	}
	if schema.Version < 1 {
		return tools.InvalidSchemaErr(schema.Name, "version must be >= 1")
	}
	for _, table := range schema.Tables {
		if err := tools.ValidateIdentifier(table.Name); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if held, ok := r.schemas[schema.Name]; ok && held.Version >= schema.Version {
		return nil
	}
	r.schemas[schema.Name] = schema
	return nil
}

// Get returns the registered schema with the given name.
func (r *SchemaRegistry) Get(name string) (SiteSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Snapshot returns the registered schemas sorted by name.
func (r *SchemaRegistry) Snapshot() []SiteSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SiteSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
