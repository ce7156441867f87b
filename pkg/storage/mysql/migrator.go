package mysql

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"

	"github.com/segmentmapper/segmentmapper/assets"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
)

// MigrationProvider implements [storage.MigrationProvider] for MySQL.
type MigrationProvider struct{}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

// GetSupportedEngine returns the database engine this provider supports.
func (m *MigrationProvider) GetSupportedEngine() string {
	return "mysql"
}

// RunMigrations executes MySQL database migrations.
func (m *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	provider, closeDB, err := m.open(ctx, config)
	if err != nil {
		return err
	}
	defer closeDB()

	return sqlcommon.ExecuteMigrations(ctx, provider, config)
}

// GetCurrentVersion returns the current migration version.
func (m *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	provider, closeDB, err := m.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	return provider.GetDBVersion(ctx)
}

func (m *MigrationProvider) open(ctx context.Context, config storage.MigrationConfig) (*goose.Provider, func(), error) {
	uri, err := m.prepareURI(config)
	if err != nil {
		return nil, nil, err
	}

	db, err := goose.OpenDBWithDriver("mysql", uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	if err := sqlcommon.PingWithBackoff(ctx, db, config.Timeout); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	provider, err := sqlcommon.NewMigrationProvider(goose.DialectMySQL, db, assets.MySQLMigrationDir, config.Verbose)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	return provider, closeDB, nil
}

// prepareURI processes the database URI with username/password overrides.
func (m *MigrationProvider) prepareURI(config storage.MigrationConfig) (string, error) {
	dsn, err := mysql.ParseDSN(config.URI)
	if err != nil {
		return "", fmt.Errorf("invalid mysql database uri: %w", err)
	}

	if config.Username != "" {
		dsn.User = config.Username
	}
	if config.Password != "" {
		dsn.Passwd = config.Password
	}

	return dsn.FormatDSN(), nil
}
