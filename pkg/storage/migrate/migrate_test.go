package migrate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/migrate"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlite"
)

func TestDefaultRegistry(t *testing.T) {
	require.Equal(t, []string{"mysql", "postgres", "sqlite"}, migrate.GetDefaultRegistry().GetSupportedEngines())
}

func TestRunMigrationsMemoryIsNoop(t *testing.T) {
	err := migrate.RunMigrations(context.Background(), migrate.MigrationConfig{Engine: "memory"})
	require.NoError(t, err)
}

func TestRunMigrationsUnknownEngine(t *testing.T) {
	err := migrate.RunMigrations(context.Background(), migrate.MigrationConfig{Engine: "oracle"})
	require.ErrorContains(t, err, "no migration provider registered for engine: oracle")
}

func TestRunMigrationsWithRegistry(t *testing.T) {
	registry := storage.NewMigratorRegistry()

	err := migrate.RunMigrationsWithRegistry(context.Background(), registry, migrate.MigrationConfig{Engine: "sqlite"})
	require.Error(t, err)
}

func TestMigrateCommandRollbacks(t *testing.T) {
	ctx := context.Background()
	uri := "file:" + filepath.Join(t.TempDir(), "migrate.db")
	cfg := migrate.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
		Verbose: true,
	}

	require.NoError(t, migrate.RunMigrations(ctx, cfg))
	require.Equal(t, int64(1), schemaVersion(t, uri))

	// Migrating to the current version is a no-op.
	cfg.TargetVersion = 1
	require.NoError(t, migrate.RunMigrations(ctx, cfg))
	require.Equal(t, int64(1), schemaVersion(t, uri))
}

func schemaVersion(t *testing.T, uri string) int64 {
	t.Helper()

	version, err := sqlite.NewMigrationProvider().GetCurrentVersion(context.Background(), migrate.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return version
}
