// Package assets embeds the schema migrations of every SQL engine.
package assets

import "embed"

const (
	PostgresMigrationDir = "migrations/postgres"
	MySQLMigrationDir    = "migrations/mysql"
	SQLiteMigrationDir   = "migrations/sqlite"
)

//go:embed migrations/*
var EmbedMigrations embed.FS
