package sites

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/opencampus/coursebase/tools"
)

// Cleaner periodically reclaims storage by truncating the tables each
// schema declares safe to clear. Cleared tables are rebuilt from the
// server on next use, so only CanBeCleared tables are ever touched.
type Cleaner struct {
	registry *Registry
	cron     *cron.Cron
	schedule string
}

// NewCleaner creates a cleaner for the registry with a cron schedule
// (standard five-field syntax).
func NewCleaner(registry *Registry, schedule string) *Cleaner {
	return &Cleaner{
		registry: registry,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start schedules the periodic run. Returns an error when the schedule
// expression does not parse.
func (c *Cleaner) Start() error {
	_, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.Run(context.Background()); err != nil {
			tools.Logger.Error("storage cleanup failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	c.cron.Start()
	tools.Logger.Info("storage cleaner started", "schedule", c.schedule)
	return nil
}

// Stop cancels future runs and waits for an in-flight run to finish.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
}

// Run clears reclaimable tables on every loaded site.
func (c *Cleaner) Run(ctx context.Context) error {
	for _, site := range c.registry.LoadedSites() {
		if err := c.ClearStorage(ctx, site); err != nil {
			return err
		}
	}
	return nil
}

// ClearStorage truncates every CanBeCleared table of every registered
// schema on one site. Tables a schema does not list are left alone.
func (c *Cleaner) ClearStorage(ctx context.Context, site *Site) error {
	for _, schema := range c.registry.Schemas().Snapshot() {
		for _, table := range schema.CanBeCleared {
			affected, err := site.Store().DeleteRecords(ctx, table, nil)
			if err != nil {
				return err
			}
			if affected > 0 {
				tools.Logger.Info("cleared reclaimable table",
					"site", site.ID, "schema", schema.Name, "table", table, "rows", affected)
			}
		}
	}
	return nil
}
