// Package migrate runs the schema migrations of the configured datastore.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
)

// Func applies one schema migration.
type Func func(ctx context.Context, cfg *config.Config) error

// Plugin is a migration step. Datastore limits it to one datastore kind;
// empty runs it for every kind. Lower Order runs first.
type Plugin struct {
	Name      string
	Order     int
	Datastore string
	Migrate   Func
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Pending returns the names of the steps RunAll would execute for cfg.
func Pending(cfg *config.Config) []string {
	var names []string
	for _, p := range selected(cfg) {
		names = append(names, p.Name)
	}
	return names
}

// RunAll runs the steps of the configured datastore in order. It does
// nothing unless cfg.DatastoreMigrateAtStart is set.
func RunAll(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return errors.New("migrate: no configuration in context")
	}
	for _, p := range selected(cfg) {
		start := time.Now()
		log.Info("Running migration", "name", p.Name, "db", cfg.DatastoreType)
		if err := p.Migrate(ctx, cfg); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Name, err)
		}
		log.Debug("Migration complete", "name", p.Name, "took", time.Since(start))
	}
	return nil
}

func selected(cfg *config.Config) []Plugin {
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	var out []Plugin
	for _, p := range plugins {
		if p.Datastore == "" || p.Datastore == cfg.DatastoreType {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
