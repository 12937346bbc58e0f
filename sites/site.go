package sites

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/opencampus/coursebase/storage"
	"github.com/opencampus/coursebase/tools"
)

// Reserved table names. TableSites and TableCurrentSite live in the app
// store; TableSchemaVersions lives in every site store.
const (
	TableSites          = "coursebase_sites"
	TableCurrentSite    = "coursebase_current_site"
	TableSchemaVersions = "coursebase_schema_versions"
)

// Site is one signed-in account on one server. It exclusively owns its
// store; tables built on the store must not outlive the site.
type Site struct {
	ID       string
	SiteURL  string
	Username string
	Token    string
	Info     string // serialized JSON site info blob
	Config   string // serialized JSON site config blob

	mu        sync.RWMutex
	loggedOut bool
	store     *storage.Store

	// schemaMu serializes table creation and migration callbacks so two
	// schemas never race on the same connection.
	schemaMu sync.Mutex
}

// Store returns the site's store. The store reports ErrStoreUnavailable
// after the site has been deleted.
func (s *Site) Store() *storage.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// LoggedOut reports whether the site requires re-authentication.
func (s *Site) LoggedOut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedOut
}

func (s *Site) setLoggedOut(v bool) {
	s.mu.Lock()
	s.loggedOut = v
	s.mu.Unlock()
}

// DecodeInfo unmarshals the site info blob into v. A site with no stored
// info leaves v untouched.
func (s *Site) DecodeInfo(v any) error {
	if s.Info == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.Info), v)
}

// DecodeConfig unmarshals the site config blob into v. A site with no
// stored config leaves v untouched.
func (s *Site) DecodeConfig(v any) error {
	if s.Config == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.Config), v)
}

// schemaVersionsTable is the reserved per-site metadata table mapping
// schema name to installed version. Only the migrator writes it.
var schemaVersionsTable = storage.Table{
	Name: TableSchemaVersions,
	Pk:   []string{"name"},
	Columns: []storage.Col{
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "version", Type: "INTEGER", NotNull: true},
	},
}

// installedSchemaVersion returns the recorded version for a schema name,
// or 0 when the schema has never been applied to this site.
func (s *Site) installedSchemaVersion(ctx context.Context, name string) (int, error) {
	rec, err := s.Store().GetRecord(ctx, TableSchemaVersions, storage.Record{"name": name})
	if err != nil {
		if errors.Is(err, tools.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	version, _ := rec["version"].(int64)
	return int(version), nil
}

// recordSchemaVersion persists the installed version for a schema name.
func (s *Site) recordSchemaVersion(ctx context.Context, name string, version int) error {
	store := s.Store()
	affected, err := store.UpdateRecords(ctx, TableSchemaVersions,
		storage.Record{"version": version}, storage.Record{"name": name})
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.InsertRecord(ctx, TableSchemaVersions,
			storage.Record{"name": name, "version": version})
	}
	return nil
}
