package migrations

import (
	"testing"

	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/config"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	dbConfig := config.DatabaseConfig{Path: t.TempDir() + "/migrations.db"}
	dbConfig.ApplyDefaults()

	require.NoError(t, RunMigrations(dbConfig))
	// second run is a no-op
	require.NoError(t, RunMigrations(dbConfig))

	sqlDB, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, table := range []string{
		"rewind_change_log",
		"rewind_schema",
		"rewind_head",
		"rewind_index",
		"rewind_contract",
		"rewind_meta",
		"rewind_contract_metadata",
		"rewind_token_metadata",
	} {
		var name string
		err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestRunMigrations_Down(t *testing.T) {
	dbConfig := config.DatabaseConfig{Path: t.TempDir() + "/migrations.db"}
	dbConfig.ApplyDefaults()

	sqlDB, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	defer sqlDB.Close()

	log := logger.NewNopLogger()
	require.NoError(t, RunMigrationsDB(log, sqlDB))

	require.NoError(t, db.RunMigrationsDBExtended(log, sqlDB, All(), migrate.Down, db.NoLimitMigrations))

	var count int
	require.NoError(t, sqlDB.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'rewind_%'`,
	).Scan(&count))
	require.Zero(t, count)
}

func TestSchemaHash(t *testing.T) {
	base := SchemaHash()
	require.Len(t, base, 66)
	require.Equal(t, base, SchemaHash())

	extra := db.Migration{ID: "extra.sql", SQL: "-- +migrate Up\nCREATE TABLE extra (id INTEGER);"}
	withExtra := SchemaHash(extra)
	require.NotEqual(t, base, withExtra)

	extra.SQL += "\nCREATE INDEX idx_extra ON extra(id);"
	require.NotEqual(t, withExtra, SchemaHash(extra))
}
