package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainRewind/examples/entities/erc20"
	erc20mig "github.com/goran-ethernal/ChainRewind/examples/entities/erc20/migrations"
	"github.com/goran-ethernal/ChainRewind/internal/chainmeta"
	"github.com/goran-ethernal/ChainRewind/internal/changelog"
	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/config"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/metadata"
	"github.com/goran-ethernal/ChainRewind/internal/migrations"
	"github.com/goran-ethernal/ChainRewind/internal/rollback"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	pkgconfig "github.com/goran-ethernal/ChainRewind/pkg/config"
)

// app wires the persistence core on top of a migrated database.
type app struct {
	cfg         *pkgconfig.Config
	db          *sql.DB
	log         *logger.Logger
	meta        *metadata.Store
	store       *changelog.Store
	registry    *versioning.Registry
	maintenance db.Maintenance
	scopes      *scope.Manager
	reverter    *changelog.Reverter
}

// newApp loads the configuration, applies every migration and builds the
// core components. With checkSchema set, a changed or flagged schema stops
// the command according to the reindexing policy.
func newApp(ctx context.Context, checkSchema bool) (*app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewComponentLoggerFromConfig(common.ComponentCLI, cfg.Logging)
	logger.SetDefaultLogger(log)

	database, err := db.NewSQLiteDBFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := migrations.RunMigrationsDB(log, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := erc20mig.RunMigrationsDB(log, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run entity migrations: %w", err)
	}

	registry, err := versioning.NewRegistry(append(chainmeta.Models(), erc20.Models()...)...)
	if err != nil {
		database.Close()
		return nil, err
	}

	componentLog := func(component string) *logger.Logger {
		return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
	}

	meta := metadata.NewStore(database, componentLog(common.ComponentMetadata))
	store := changelog.NewStore(database, componentLog(common.ComponentChangeLog))
	maintenance := db.NewMaintenanceCoordinator(
		cfg.Database.Path, database, cfg.Maintenance, componentLog(common.ComponentMaintenance))
	scopes := scope.NewManager(
		database, store, maintenance, cfg.Versioning.ImmuneSet(), componentLog(common.ComponentScopeManager))

	a := &app{
		cfg:         cfg,
		db:          database,
		log:         log,
		meta:        meta,
		store:       store,
		registry:    registry,
		maintenance: maintenance,
		scopes:      scopes,
		reverter: changelog.NewReverter(
			database, store, registry, meta, scopes, componentLog(common.ComponentRevertEngine)),
	}

	if checkSchema {
		if err := a.checkSchema(ctx); err != nil {
			database.Close()
			return nil, err
		}
	}

	return a, nil
}

// checkSchema compares the hash of the applied migrations with the stored one
// and applies the schema_modified reindexing policy when they differ.
func (a *app) checkSchema(ctx context.Context) error {
	policy, err := a.cfg.ReindexingPolicy()
	if err != nil {
		return err
	}

	hash := migrations.SchemaHash(erc20mig.All()...)
	return a.meta.CheckSchema(ctx, a.cfg.Versioning.Schema, hash, policy, a.reverter.Wipe)
}

func (a *app) rollbackHandler() (*rollback.Handler, error) {
	policy, err := a.cfg.ReindexingPolicy()
	if err != nil {
		return nil, err
	}

	return rollback.NewHandler(a.reverter, a.meta, rollback.Options{
		Schema:   a.cfg.Versioning.Schema,
		Policy:   policy,
		MaxDepth: a.cfg.Versioning.MaxRollbackDepth,
		Wipe:     a.reverter.Wipe,
	}, logger.NewComponentLoggerFromConfig(common.ComponentRollback, a.cfg.Logging)), nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warnf("failed to close database: %v", err)
	}
}
