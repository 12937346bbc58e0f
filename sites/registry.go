package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/opencampus/coursebase/storage"
	"github.com/opencampus/coursebase/tools"
)

// appSitesTable lists every known site. Credentials and the serialized
// info/config blobs travel with the row so a site can be re-opened after
// an app restart without re-authenticating.
var appSitesTable = storage.Table{
	Name: TableSites,
	Pk:   []string{"id"},
	Columns: []storage.Col{
		{Name: "id", Type: "TEXT", NotNull: true},
		{Name: "site_url", Type: "TEXT", NotNull: true},
		{Name: "username", Type: "TEXT", NotNull: true},
		{Name: "token", Type: "TEXT"},
		{Name: "info", Type: "TEXT"},
		{Name: "config", Type: "TEXT"},
		{Name: "logged_out", Type: "INTEGER", NotNull: true, Default: 0},
	},
}

// appCurrentSiteTable holds at most one row: the persisted current-site
// pointer used to restore the session across restarts.
var appCurrentSiteTable = storage.Table{
	Name: TableCurrentSite,
	Pk:   []string{"id"},
	Columns: []storage.Col{
		{Name: "id", Type: "INTEGER", NotNull: true},
		{Name: "site_id", Type: "TEXT", NotNull: true},
	},
}

// Registry tracks the set of known sites and the current site, and
// sequences store lifecycle (create, migrate, delete) around
// authentication lifecycle events.
type Registry struct {
	dataDir string
	appDB   *storage.Store
	schemas *SchemaRegistry
	events  *tools.Events
	flight  singleflight.Group

	mu        sync.RWMutex
	sites     map[string]*Site
	currentID string
}

// NewRegistry opens the app store under dataDir and ensures its reserved
// tables. The schema registry is injected so tests can isolate it.
func NewRegistry(dataDir string, schemas *SchemaRegistry) (*Registry, error) {
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return nil, err
	}

	appDB, err := storage.Open(filepath.Join(dataDir, "sites.db"))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := appDB.CreateTablesFromSchema(ctx, appSitesTable, appCurrentSiteTable); err != nil {
		appDB.Close()
		return nil, err
	}

	return &Registry{
		dataDir: dataDir,
		appDB:   appDB,
		schemas: schemas,
		events:  tools.NewEvents(),
		sites:   make(map[string]*Site),
	}, nil
}

// Events returns the registry's event emitter.
func (r *Registry) Events() *tools.Events {
	return r.events
}

// SiteID derives the deterministic site ID for a server URL and username.
func SiteID(siteURL, username string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(siteURL+"#"+username)).String()
}

// storePath returns the site store file path for a site ID.
func (r *Registry) storePath(id string) string {
	return filepath.Join(r.dataDir, id+".db")
}

// AddSite creates a site after a successful first authentication. The new
// store is migrated to every registered schema before the site enters the
// lookup map or can become current, so no query ever hits un-migrated
// tables.
func (r *Registry) AddSite(ctx context.Context, siteURL, username, token string, info, config map[string]any) (*Site, error) {
	id := SiteID(siteURL, username)

	r.mu.RLock()
	_, loaded := r.sites[id]
	r.mu.RUnlock()
	if loaded {
		return nil, tools.ErrSiteExists
	}

	count, err := r.appDB.CountRecords(ctx, TableSites, storage.Record{"id": id})
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, tools.ErrSiteExists
	}

	infoJSON, err := marshalBlob(info)
	if err != nil {
		return nil, err
	}
	configJSON, err := marshalBlob(config)
	if err != nil {
		return nil, err
	}

	site := &Site{
		ID:       id,
		SiteURL:  siteURL,
		Username: username,
		Token:    token,
		Info:     infoJSON,
		Config:   configJSON,
	}

	if err := r.openSiteStore(ctx, site); err != nil {
		return nil, err
	}
	if err := r.MigrateSiteSchemas(ctx, site); err != nil {
		// The store file is kept; a retry re-runs the same migration.
		site.Store().Close()
		return nil, err
	}

	if err := r.appDB.InsertRecord(ctx, TableSites, storage.Record{
		"id":         site.ID,
		"site_url":   site.SiteURL,
		"username":   site.Username,
		"token":      site.Token,
		"info":       site.Info,
		"config":     site.Config,
		"logged_out": 0,
	}); err != nil {
		site.Store().Close()
		return nil, err
	}

	r.mu.Lock()
	r.sites[id] = site
	r.mu.Unlock()

	r.events.Publish(tools.Event{Name: tools.EventSiteAdded, SiteID: id})
	return site, nil
}

// LoadSite loads a persisted site by ID, migrating its store before the
// site is exposed. Loading an already-loaded site returns the same Site.
func (r *Registry) LoadSite(ctx context.Context, id string) (*Site, error) {
	r.mu.RLock()
	site, ok := r.sites[id]
	r.mu.RUnlock()
	if ok {
		return site, nil
	}

	rec, err := r.appDB.GetRecord(ctx, TableSites, storage.Record{"id": id})
	if err != nil {
		if errors.Is(err, tools.ErrRecordNotFound) {
			return nil, tools.SiteNotFoundErr(id)
		}
		return nil, err
	}

	site = siteFromRecord(rec)
	if err := r.openSiteStore(ctx, site); err != nil {
		return nil, err
	}
	if err := r.MigrateSiteSchemas(ctx, site); err != nil {
		site.Store().Close()
		return nil, err
	}

	r.mu.Lock()
	// Another task may have loaded the site while this one was migrating.
	if existing, ok := r.sites[id]; ok {
		r.mu.Unlock()
		site.Store().Close()
		return existing, nil
	}
	r.sites[id] = site
	r.mu.Unlock()

	return site, nil
}

// LoadSites loads every persisted site.
func (r *Registry) LoadSites(ctx context.Context) ([]*Site, error) {
	ids, err := r.SiteIDs(ctx)
	if err != nil {
		return nil, err
	}

	sites := make([]*Site, 0, len(ids))
	for _, id := range ids {
		site, err := r.LoadSite(ctx, id)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// SiteIDs returns the IDs of every persisted site.
func (r *Registry) SiteIDs(ctx context.Context) ([]string, error) {
	recs, err := r.appDB.GetAllRecords(ctx, TableSites)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if id, ok := rec["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetSite returns a loaded site by ID.
func (r *Registry) GetSite(id string) (*Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	site, ok := r.sites[id]
	if !ok {
		return nil, tools.SiteNotFoundErr(id)
	}
	return site, nil
}

// CurrentSite returns the current site, or nil when none is set.
func (r *Registry) CurrentSite() *Site {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.currentID == "" {
		return nil
	}
	return r.sites[r.currentID]
}

// SetCurrentSite makes a site current, loading it first if needed, and
// persists the pointer so the session can be restored after a restart.
// Switching does not re-migrate (done at load time) but does emit an
// event for feature code to refresh cached views.
func (r *Registry) SetCurrentSite(ctx context.Context, id string) error {
	if _, err := r.LoadSite(ctx, id); err != nil {
		return err
	}

	if err := r.persistCurrentSite(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	r.currentID = id
	r.mu.Unlock()

	r.events.Publish(tools.Event{Name: tools.EventCurrentSiteChanged, SiteID: id})
	return nil
}

// RestoreSession re-loads the persisted current site at startup. Returns
// ErrNoCurrentSite when no pointer is stored or the site has logged out.
func (r *Registry) RestoreSession(ctx context.Context) (*Site, error) {
	rec, err := r.appDB.GetRecord(ctx, TableCurrentSite, storage.Record{"id": 1})
	if err != nil {
		if errors.Is(err, tools.ErrRecordNotFound) {
			return nil, tools.ErrNoCurrentSite
		}
		return nil, err
	}

	id, _ := rec["site_id"].(string)
	site, err := r.LoadSite(ctx, id)
	if err != nil {
		return nil, err
	}
	if site.LoggedOut() {
		return nil, tools.ErrNoCurrentSite
	}

	r.mu.Lock()
	r.currentID = id
	r.mu.Unlock()

	return site, nil
}

// Login clears a site's logged-out flag, stores a fresh token when given,
// and makes the site current.
func (r *Registry) Login(ctx context.Context, id, token string) error {
	site, err := r.LoadSite(ctx, id)
	if err != nil {
		return err
	}

	updates := storage.Record{"logged_out": 0}
	if token != "" {
		updates["token"] = token
	}
	if _, err := r.appDB.UpdateRecords(ctx, TableSites, updates, storage.Record{"id": id}); err != nil {
		return err
	}
	site.setLoggedOut(false)
	if token != "" {
		site.Token = token
	}

	return r.SetCurrentSite(ctx, id)
}

// Logout marks the current site logged out and clears the persisted
// current-site pointer. The site and its data remain on disk.
func (r *Registry) Logout(ctx context.Context) error {
	site := r.CurrentSite()
	if site == nil {
		return tools.ErrNoCurrentSite
	}

	if _, err := r.appDB.UpdateRecords(ctx, TableSites,
		storage.Record{"logged_out": 1}, storage.Record{"id": site.ID}); err != nil {
		return err
	}
	site.setLoggedOut(true)

	if _, err := r.appDB.DeleteRecords(ctx, TableCurrentSite, nil); err != nil {
		return err
	}

	r.mu.Lock()
	r.currentID = ""
	r.mu.Unlock()

	r.events.Publish(tools.Event{Name: tools.EventLoggedOut, SiteID: site.ID})
	return nil
}

// DeleteSite removes a site when the user removes the account: the store
// is closed first, then the in-memory entry and the persisted row go, then
// the on-disk files. The store must not be referenced once removal begins.
func (r *Registry) DeleteSite(ctx context.Context, id string) error {
	r.mu.Lock()
	site, loaded := r.sites[id]
	delete(r.sites, id)
	if r.currentID == id {
		r.currentID = ""
	}
	r.mu.Unlock()

	if loaded {
		if err := site.Store().Close(); err != nil {
			return err
		}
	}

	// The persisted pointer may name this site even when it is not the
	// in-memory current site, e.g. after a restart before RestoreSession.
	if _, err := r.appDB.DeleteRecords(ctx, TableCurrentSite, storage.Record{"site_id": id}); err != nil {
		return err
	}

	affected, err := r.appDB.DeleteRecords(ctx, TableSites, storage.Record{"id": id})
	if err != nil {
		return err
	}
	if affected == 0 && !loaded {
		return tools.SiteNotFoundErr(id)
	}

	path := r.storePath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Ignore missing journal files.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	r.events.Publish(tools.Event{Name: tools.EventSiteDeleted, SiteID: id})
	return nil
}

// Database returns the store for a site ID, or for the current site when
// id is empty.
func (r *Registry) Database(id string) (*storage.Store, error) {
	if id == "" {
		site := r.CurrentSite()
		if site == nil {
			return nil, tools.ErrNoCurrentSite
		}
		return site.Store(), nil
	}

	site, err := r.GetSite(id)
	if err != nil {
		return nil, err
	}
	return site.Store(), nil
}

// LoadedSites returns every currently-loaded site.
func (r *Registry) LoadedSites() []*Site {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Site, 0, len(r.sites))
	for _, site := range r.sites {
		out = append(out, site)
	}
	return out
}

// Schemas returns the injected schema registry.
func (r *Registry) Schemas() *SchemaRegistry {
	return r.schemas
}

// RegisterSchema registers a site schema and, when a current site is
// loaded, applies it immediately: to just that site when OnlyCurrentSite
// is set, otherwise to every loaded site. With no current site the schema
// is applied as each site is subsequently loaded or created.
func (r *Registry) RegisterSchema(ctx context.Context, schema SiteSchema) error {
	if err := r.schemas.Register(schema); err != nil {
		return err
	}
	// The registry may hold a newer version than the one just passed in.
	held, _ := r.schemas.Get(schema.Name)

	current := r.CurrentSite()
	if current == nil {
		return nil
	}

	targets := []*Site{current}
	if !held.OnlyCurrentSite {
		targets = r.LoadedSites()
	}

	for _, site := range targets {
		site.schemaMu.Lock()
		err := r.applySchema(ctx, site, held)
		site.schemaMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// MigrateSiteSchemas applies every registered schema to a site. Concurrent
// calls for the same site coalesce into the single in-flight run and
// receive its result.
func (r *Registry) MigrateSiteSchemas(ctx context.Context, site *Site) error {
	_, err, _ := r.flight.Do(site.ID, func() (any, error) {
		site.schemaMu.Lock()
		defer site.schemaMu.Unlock()

		for _, schema := range r.schemas.Snapshot() {
			if err := r.applySchema(ctx, site, schema); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// applySchema brings one site to one schema's version: ensure tables, run
// the migration callback with the previously installed version, then
// record the new version. On failure nothing is recorded, so the site's
// version stays at its last successfully-applied value and a retry re-runs
// the same migration. Caller holds site.schemaMu.
func (r *Registry) applySchema(ctx context.Context, site *Site, schema SiteSchema) error {
	installed, err := site.installedSchemaVersion(ctx, schema.Name)
	if err != nil {
		return err
	}
	if schema.Version <= installed {
		return nil
	}

	if err := site.Store().CreateTablesFromSchema(ctx, schema.Tables...); err != nil {
		return tools.MigrationFailedErr(schema.Name, schema.Version, err)
	}

	if schema.Migrate != nil {
		if err := schema.Migrate(ctx, site.Store(), installed, site.ID); err != nil {
			return tools.MigrationFailedErr(schema.Name, schema.Version, err)
		}
	}

	if err := site.recordSchemaVersion(ctx, schema.Name, schema.Version); err != nil {
		return tools.MigrationFailedErr(schema.Name, schema.Version, err)
	}
	return nil
}

// Close closes every loaded site store and the app store.
func (r *Registry) Close() error {
	r.mu.Lock()
	sites := make([]*Site, 0, len(r.sites))
	for _, site := range r.sites {
		sites = append(sites, site)
	}
	r.sites = make(map[string]*Site)
	r.mu.Unlock()

	var firstErr error
	for _, site := range sites {
		if err := site.Store().Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.appDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// openSiteStore opens the site's store file and ensures the reserved
// schema-versions table exists.
func (r *Registry) openSiteStore(ctx context.Context, site *Site) error {
	store, err := storage.Open(r.storePath(site.ID))
	if err != nil {
		return err
	}
	if err := store.CreateTablesFromSchema(ctx, schemaVersionsTable); err != nil {
		store.Close()
		return err
	}

	site.mu.Lock()
	site.store = store
	site.mu.Unlock()
	return nil
}

// persistCurrentSite upserts the single current-site pointer row.
func (r *Registry) persistCurrentSite(ctx context.Context, id string) error {
	affected, err := r.appDB.UpdateRecords(ctx, TableCurrentSite,
		storage.Record{"site_id": id}, storage.Record{"id": 1})
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.appDB.InsertRecord(ctx, TableCurrentSite,
			storage.Record{"id": 1, "site_id": id})
	}
	return nil
}

// siteFromRecord hydrates a Site from its persisted row.
func siteFromRecord(rec storage.Record) *Site {
	site := &Site{}
	site.ID, _ = rec["id"].(string)
	site.SiteURL, _ = rec["site_url"].(string)
	site.Username, _ = rec["username"].(string)
	site.Token, _ = rec["token"].(string)
	site.Info, _ = rec["info"].(string)
	site.Config, _ = rec["config"].(string)
	if v, ok := rec["logged_out"].(int64); ok {
		site.loggedOut = v != 0
	}
	return site
}

// marshalBlob serializes an info/config blob to its stored JSON form.
// Callers decode with Site.DecodeInfo / Site.DecodeConfig.
func marshalBlob(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize site blob: %w", err)
	}
	return string(b), nil
}
