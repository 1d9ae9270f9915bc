package helpers

import (
	"database/sql"
	"path"
	"testing"

	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/migrations"
	"github.com/goran-ethernal/ChainRewind/pkg/config"
	"github.com/stretchr/testify/require"
)

// NewTestDB creates a temporary SQLite database with the change log and
// metadata tables migrated. Extra statements, usually entity tables, are
// executed afterwards.
func NewTestDB(t *testing.T, dbName string, schema ...string) *sql.DB {
	t.Helper()

	tmpDBPath := path.Join(t.TempDir(), dbName)

	dbConfig := config.DatabaseConfig{Path: tmpDBPath}
	dbConfig.ApplyDefaults()

	require.NoError(t, migrations.RunMigrations(dbConfig))

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	for _, stmt := range schema {
		_, err := database.Exec(stmt)
		require.NoError(t, err)
	}

	return database
}
