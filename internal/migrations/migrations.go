package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/config"
)

//go:embed 001_change_log.sql
var mig001 string

//go:embed 002_metadata.sql
var mig002 string

//go:embed 003_metadata_models.sql
var mig003 string

// All returns the migrations of the change log, metadata and built-in
// metadata model tables, in order.
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_change_log.sql",
			SQL: mig001,
		},
		{
			ID:  "002_metadata.sql",
			SQL: mig002,
		},
		{
			ID:  "003_metadata_models.sql",
			SQL: mig003,
		},
	}
}

// RunMigrations opens the database described by cfg and applies all pending migrations.
func RunMigrations(cfg config.DatabaseConfig) error {
	return db.RunMigrations(cfg, All())
}

// RunMigrationsDB applies all pending migrations on an already open database.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, All())
}

// SchemaHash fingerprints the materialized schema built by the core
// migrations followed by extra. Any change to a migration changes the hash.
func SchemaHash(extra ...db.Migration) string {
	var data [][]byte
	for _, m := range append(All(), extra...) {
		data = append(data, []byte(m.Prefix+m.ID), []byte(m.SQL))
	}

	return crypto.Keccak256Hash(data...).Hex()
}
