package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainRewind/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, sqlDB *sql.DB, table string) bool {
	t.Helper()

	var count int
	require.NoError(t, sqlDB.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&count))
	return count == 1
}

func TestMigrationsTable(t *testing.T) {
	require.Equal(t, DefaultMigrationsTable, MigrationsTable(""))
	require.Equal(t, "erc20_migrations", MigrationsTable("erc20_"))
}

func TestRunMigrationsDB_IndependentSets(t *testing.T) {
	sqlDB, err := NewSQLiteDB(filepath.Join(t.TempDir(), "sets.db"))
	require.NoError(t, err)
	defer sqlDB.Close()

	log := logger.NewNopLogger()

	core := []Migration{{
		ID:  "001_core.sql",
		SQL: "-- +migrate Down\nDROP TABLE core_items;\n-- +migrate Up\nCREATE TABLE core_items (id INTEGER PRIMARY KEY);",
	}}
	entities := []Migration{
		{
			ID:     "001.sql",
			SQL:    "-- +migrate Down\nDROP TABLE /*dbprefix*/items;\n-- +migrate Up\nCREATE TABLE /*dbprefix*/items (id INTEGER PRIMARY KEY);",
			Prefix: "token_",
		},
		{
			ID:     "002.sql",
			SQL:    "-- +migrate Down\nDROP TABLE /*dbprefix*/owners;\n-- +migrate Up\nCREATE TABLE /*dbprefix*/owners (id INTEGER PRIMARY KEY);",
			Prefix: "token_",
		},
	}

	require.NoError(t, RunMigrationsDB(log, sqlDB, core))
	require.NoError(t, RunMigrationsDB(log, sqlDB, entities))

	// applying both sets again is a no-op
	require.NoError(t, RunMigrationsDB(log, sqlDB, core))
	require.NoError(t, RunMigrationsDB(log, sqlDB, entities))

	for _, table := range []string{"core_items", "token_items", "token_owners", DefaultMigrationsTable, "token_migrations"} {
		require.True(t, tableExists(t, sqlDB, table), "table %s should exist", table)
	}

	var applied int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM token_migrations`).Scan(&applied))
	require.Equal(t, 2, applied)

	// rolling back one set leaves the other untouched
	require.NoError(t, RunMigrationsDBExtended(log, sqlDB, entities, migrate.Down, 1))
	require.False(t, tableExists(t, sqlDB, "token_owners"))
	require.True(t, tableExists(t, sqlDB, "token_items"))
	require.True(t, tableExists(t, sqlDB, "core_items"))
}

func TestRunMigrationsDB_MixedPrefixes(t *testing.T) {
	sqlDB, err := NewSQLiteDB(filepath.Join(t.TempDir(), "mixed.db"))
	require.NoError(t, err)
	defer sqlDB.Close()

	err = RunMigrationsDB(logger.NewNopLogger(), sqlDB, []Migration{
		{ID: "001.sql", SQL: "-- +migrate Up\nCREATE TABLE a (id INTEGER);"},
		{ID: "002.sql", SQL: "-- +migrate Up\nCREATE TABLE b (id INTEGER);", Prefix: "other_"},
	})
	require.ErrorContains(t, err, "run each set separately")
	require.False(t, tableExists(t, sqlDB, "a"))
}
