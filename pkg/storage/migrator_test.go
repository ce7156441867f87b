package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMigrationProvider struct {
	engine         string
	shouldFail     bool
	currentVersion int64
	migrationsRun  bool
}

func newFakeMigrationProvider(engine string) *fakeMigrationProvider {
	return &fakeMigrationProvider{
		engine:         engine,
		currentVersion: 1,
	}
}

func (m *fakeMigrationProvider) GetSupportedEngine() string {
	return m.engine
}

func (m *fakeMigrationProvider) RunMigrations(_ context.Context, _ MigrationConfig) error {
	if m.shouldFail {
		return context.DeadlineExceeded
	}
	m.migrationsRun = true
	return nil
}

func (m *fakeMigrationProvider) GetCurrentVersion(_ context.Context, _ MigrationConfig) (int64, error) {
	if m.shouldFail {
		return 0, context.DeadlineExceeded
	}
	return m.currentVersion, nil
}

func TestMigratorRegistry(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		registry := NewMigratorRegistry()
		require.Empty(t, registry.GetSupportedEngines())

		_, ok := registry.GetProvider("postgres")
		require.False(t, ok)
	})

	t.Run("register_and_lookup", func(t *testing.T) {
		registry := NewMigratorRegistry()
		registry.RegisterProvider(newFakeMigrationProvider("sqlite"))
		registry.RegisterProvider(newFakeMigrationProvider("postgres"))

		require.Equal(t, []string{"postgres", "sqlite"}, registry.GetSupportedEngines())

		provider, ok := registry.GetProvider("sqlite")
		require.True(t, ok)
		require.Equal(t, "sqlite", provider.GetSupportedEngine())
	})

	t.Run("later_registration_replaces_earlier", func(t *testing.T) {
		registry := NewMigratorRegistry()
		first := newFakeMigrationProvider("mysql")
		second := newFakeMigrationProvider("mysql")
		second.currentVersion = 7

		registry.RegisterProvider(first)
		registry.RegisterProvider(second)

		provider, ok := registry.GetProvider("mysql")
		require.True(t, ok)
		version, err := provider.GetCurrentVersion(context.Background(), MigrationConfig{})
		require.NoError(t, err)
		require.Equal(t, int64(7), version)
	})

	t.Run("provider_errors_surface", func(t *testing.T) {
		provider := newFakeMigrationProvider("postgres")
		provider.shouldFail = true

		err := provider.RunMigrations(context.Background(), MigrationConfig{Timeout: time.Second})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.False(t, provider.migrationsRun)
	})
}

func TestRootJobValidate(t *testing.T) {
	valid := RootJob{JobID: "job", TextID: "text", TotalSegments: 1}
	require.NoError(t, valid.Validate())

	for name, job := range map[string]RootJob{
		"missing_job_id":  {TextID: "text", TotalSegments: 1},
		"missing_text_id": {JobID: "job", TotalSegments: 1},
		"zero_total":      {JobID: "job", TextID: "text"},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, job.Validate(), ErrInvalidJob)
		})
	}
}
