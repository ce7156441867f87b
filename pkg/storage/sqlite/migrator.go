package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/segmentmapper/segmentmapper/assets"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
)

// MigrationProvider implements [storage.MigrationProvider] for SQLite.
type MigrationProvider struct{}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

// GetSupportedEngine returns the database engine this provider supports.
func (s *MigrationProvider) GetSupportedEngine() string {
	return "sqlite"
}

// RunMigrations executes SQLite database migrations.
func (s *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	provider, closeDB, err := s.open(ctx, config)
	if err != nil {
		return err
	}
	defer closeDB()

	return sqlcommon.ExecuteMigrations(ctx, provider, config)
}

// GetCurrentVersion returns the current migration version.
func (s *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	provider, closeDB, err := s.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	return provider.GetDBVersion(ctx)
}

func (s *MigrationProvider) open(ctx context.Context, config storage.MigrationConfig) (*goose.Provider, func(), error) {
	uri, err := PrepareDSN(config.URI)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	if err := sqlcommon.PingWithBackoff(ctx, db, config.Timeout); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to initialize sqlite connection: %w", err)
	}

	provider, err := sqlcommon.NewMigrationProvider(goose.DialectSQLite3, db, assets.SQLiteMigrationDir, config.Verbose)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	return provider, closeDB, nil
}
