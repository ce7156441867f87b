package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/assets"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

// NewMigrationProvider returns a goose provider over the embedded migrations in dir.
func NewMigrationProvider(dialect goose.Dialect, db *sql.DB, dir string, verbose bool) (*goose.Provider, error) {
	migrations, err := fs.Sub(assets.EmbedMigrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, migrations, goose.WithVerbose(verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}

	return provider, nil
}

// PingWithBackoff waits up to timeout for db to answer.
func PingWithBackoff(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	return backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
}

// ExecuteMigrations moves the database to config.TargetVersion, or to the latest version
// when it is zero.
func ExecuteMigrations(ctx context.Context, provider *goose.Provider, config storage.MigrationConfig) error {
	log := config.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}
	engine := zap.String("engine", config.Engine)

	currentVersion, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s db version: %w", config.Engine, err)
	}

	log.Info("current schema version", engine, zap.Int64("version", currentVersion))

	if config.TargetVersion == 0 {
		log.Info("running all migrations", engine)
		if _, err := provider.Up(ctx); err != nil {
			return fmt.Errorf("failed to run %s migrations: %w", config.Engine, err)
		}
		log.Info("migration done", engine)
		return nil
	}

	target := int64(config.TargetVersion)
	log.Info("migrating to version", engine, zap.Int64("version", target))

	switch {
	case target < currentVersion:
		if _, err := provider.DownTo(ctx, target); err != nil {
			return fmt.Errorf("failed to run %s migrations down to %v: %w", config.Engine, target, err)
		}
	case target > currentVersion:
		if _, err := provider.UpTo(ctx, target); err != nil {
			return fmt.Errorf("failed to run %s migrations up to %v: %w", config.Engine, target, err)
		}
	default:
		log.Info("nothing to do", engine)
		return nil
	}

	log.Info("migration done", engine)
	return nil
}
