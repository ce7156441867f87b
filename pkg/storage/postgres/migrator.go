package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pressly/goose/v3"

	"github.com/segmentmapper/segmentmapper/assets"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
)

// MigrationProvider implements [storage.MigrationProvider] for PostgreSQL.
type MigrationProvider struct{}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

// GetSupportedEngine returns the database engine this provider supports.
func (p *MigrationProvider) GetSupportedEngine() string {
	return "postgres"
}

// RunMigrations executes PostgreSQL database migrations.
func (p *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	provider, closeDB, err := p.open(ctx, config)
	if err != nil {
		return err
	}
	defer closeDB()

	return sqlcommon.ExecuteMigrations(ctx, provider, config)
}

// GetCurrentVersion returns the current migration version.
func (p *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	provider, closeDB, err := p.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	return provider.GetDBVersion(ctx)
}

func (p *MigrationProvider) open(ctx context.Context, config storage.MigrationConfig) (*goose.Provider, func(), error) {
	uri, err := p.prepareURI(config)
	if err != nil {
		return nil, nil, err
	}

	db, err := goose.OpenDBWithDriver("pgx", uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	if err := sqlcommon.PingWithBackoff(ctx, db, config.Timeout); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to initialize postgres connection: %w", err)
	}

	provider, err := sqlcommon.NewMigrationProvider(goose.DialectPostgres, db, assets.PostgresMigrationDir, config.Verbose)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	return provider, closeDB, nil
}

// prepareURI processes the database URI with username/password overrides.
func (p *MigrationProvider) prepareURI(config storage.MigrationConfig) (string, error) {
	dbURI, err := url.Parse(config.URI)
	if err != nil {
		return "", fmt.Errorf("invalid postgres database uri: %w", err)
	}

	var username, password string
	if config.Username != "" {
		username = config.Username
	} else if dbURI.User != nil {
		username = dbURI.User.Username()
	}

	if config.Password != "" {
		password = config.Password
	} else if dbURI.User != nil {
		password, _ = dbURI.User.Password()
	}

	dbURI.User = url.UserPassword(username, password)
	return dbURI.String(), nil
}
