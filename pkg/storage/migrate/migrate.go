// Package migrate runs the schema migrations of the SQL mapping stores.
package migrate

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/mysql"
	"github.com/segmentmapper/segmentmapper/pkg/storage/postgres"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlite"
)

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig = storage.MigrationConfig

var (
	// defaultRegistry is the global migration provider registry.
	defaultRegistry *storage.MigratorRegistry
	registryOnce    sync.Once
)

func initDefaultRegistry() {
	registryOnce.Do(func() {
		defaultRegistry = storage.NewMigratorRegistry()

		defaultRegistry.RegisterProvider(postgres.NewMigrationProvider())
		defaultRegistry.RegisterProvider(mysql.NewMigrationProvider())
		defaultRegistry.RegisterProvider(sqlite.NewMigrationProvider())
	})
}

// GetDefaultRegistry returns the registry holding the postgres, mysql and sqlite providers.
func GetDefaultRegistry() *storage.MigratorRegistry {
	initDefaultRegistry()
	return defaultRegistry
}

// RunMigrationsWithRegistry runs migrations using a specific migration registry.
func RunMigrationsWithRegistry(ctx context.Context, registry *storage.MigratorRegistry, cfg MigrationConfig) error {
	if cfg.Engine == "memory" {
		log := cfg.Logger
		if log == nil {
			log = logger.NewNoopLogger()
		}
		log.Info("no migrations to run for `memory` datastore")
		return nil
	}

	provider, exists := registry.GetProvider(cfg.Engine)
	if !exists {
		return fmt.Errorf("no migration provider registered for engine: %s", cfg.Engine)
	}

	return provider.RunMigrations(ctx, cfg)
}

// RunMigrations migrates the database described by cfg using the default registry. A zero
// TargetVersion migrates to the latest version; a lower one than the current version rolls back.
func RunMigrations(ctx context.Context, cfg MigrationConfig) error {
	return RunMigrationsWithRegistry(ctx, GetDefaultRegistry(), cfg)
}
