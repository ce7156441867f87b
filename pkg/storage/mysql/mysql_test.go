package mysql

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
)

func TestHandleSQLError(t *testing.T) {
	t.Run("no_rows_is_not_found", func(t *testing.T) {
		require.ErrorIs(t, HandleSQLError(sql.ErrNoRows), storage.ErrNotFound)
	})

	t.Run("duplicate_entry_is_collision", func(t *testing.T) {
		err := HandleSQLError(&mysql.MySQLError{
			Number:  erDupEntry,
			Message: "Duplicate entry '' for key ''",
		})
		require.ErrorIs(t, err, storage.ErrCollision)
	})

	t.Run("missing_parent_row_is_not_found", func(t *testing.T) {
		err := HandleSQLError(&mysql.MySQLError{
			Number:  erNoReferencedRow,
			Message: "Cannot add or update a child row: a foreign key constraint fails",
		})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("other_errors_are_wrapped", func(t *testing.T) {
		cause := errors.New("bad connection")
		err := HandleSQLError(cause)
		require.ErrorIs(t, err, cause)
		require.NotErrorIs(t, err, storage.ErrCollision)
	})
}

func TestPrepareDSN(t *testing.T) {
	got, err := prepareDSN("root:secret@tcp(localhost:3306)/mapper", sqlcommon.NewConfig(sqlcommon.WithUsername("mapper")))
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(got)
	require.NoError(t, err)
	require.Equal(t, "mapper", cfg.User)
	require.Equal(t, "secret", cfg.Passwd)
	require.True(t, cfg.ParseTime)

	_, err = prepareDSN("not a dsn", sqlcommon.NewConfig())
	require.Error(t, err)
}

func TestMigrationProvider(t *testing.T) {
	provider := NewMigrationProvider()
	require.Equal(t, "mysql", provider.GetSupportedEngine())

	got, err := provider.prepareURI(storage.MigrationConfig{
		URI:      "root:secret@tcp(localhost:3306)/mapper",
		Password: "other",
	})
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(got)
	require.NoError(t, err)
	require.Equal(t, "root", cfg.User)
	require.Equal(t, "other", cfg.Passwd)
}
