package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencampus/coursebase/config"
	"github.com/opencampus/coursebase/sites"
	"github.com/opencampus/coursebase/tools"
)

func main() {
	tools.SetLogLevel(config.Cfg.LogLevel)
	log := tools.Logger

	schemas := sites.NewSchemaRegistry()
	registry, err := sites.NewRegistry(config.Cfg.DataDir, schemas)
	if err != nil {
		log.Error("failed to open sites registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	ctx := context.Background()
	site, err := registry.RestoreSession(ctx)
	switch {
	case err == nil:
		log.Info("session restored", "site", site.ID, "url", site.SiteURL)
	case errors.Is(err, tools.ErrNoCurrentSite):
		log.Info("no session to restore")
	default:
		log.Error("failed to restore session", "error", err)
		os.Exit(1)
	}

	var cleaner *sites.Cleaner
	if config.Cfg.CleanupEnabled {
		cleaner = sites.NewCleaner(registry, config.Cfg.CleanupSchedule)
		if err := cleaner.Start(); err != nil {
			log.Error("failed to start storage cleaner", "error", err)
			os.Exit(1)
		}
	}

	log.Info("coursebase running", "dataDir", config.Cfg.DataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if cleaner != nil {
		cleaner.Stop()
	}
}
