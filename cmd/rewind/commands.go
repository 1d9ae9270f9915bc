package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/metrics"
	pkgconfig "github.com/goran-ethernal/ChainRewind/pkg/config"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and verify the schema hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			a.log.Infof("database %s is up to date", a.cfg.Database.Path)
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Wipe the materialized state and clear a pending reindexing flag",
		Long: `Drops every entity table and the whole change log, resets all indexes to
level 0 and clears the reindexing reason stored for the schema, so indexing
can start over.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.reverter.Wipe(ctx); err != nil {
				return err
			}

			err = a.meta.SetReindexReason(ctx, a.cfg.Versioning.Schema, nil)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}

			return a.checkSchema(ctx)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index levels, statuses and change log sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := collectStatus(ctx, a)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			return printStatus(cmd, status)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}

func newRollbackCmd() *cobra.Command {
	var (
		fromLevel string
		toLevel   string
		indexes   []string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll indexes back to an earlier level",
		Long: `Reverts the change log of the given indexes from --from down to --to.
Levels accept decimal or 0x prefixed hex. Without --index every known index
is rolled back.`,
		Example: `  rewind rollback --from 1200 --to 1190
  rewind rollback --from 0x4b0 --to 0x4a6 --index erc20_usdt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			from, err := common.ParseUint64orHex(&fromLevel)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			to, err := common.ParseUint64orHex(&toLevel)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			targets := indexes
			if len(targets) == 0 {
				states, err := a.meta.ListIndexes(ctx)
				if err != nil {
					return err
				}
				for _, state := range states {
					targets = append(targets, state.Name)
				}
			}

			handler, err := a.rollbackHandler()
			if err != nil {
				return err
			}

			return handler.HandleRollback(ctx, model.RollbackMessage{FromLevel: from, ToLevel: to}, targets)
		},
	}

	cmd.Flags().StringVar(&fromLevel, "from", "", "level to roll back from (required)")
	cmd.Flags().StringVar(&toLevel, "to", "", "level to roll back to (required)")
	cmd.Flags().StringArrayVarP(&indexes, "index", "i", nil, "index to roll back (repeatable, default all)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newPruneCmd() *cobra.Command {
	var pruneDepth uint64

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop change log entries beyond the maximum rollback depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			depth := pruneDepth
			if depth == 0 {
				depth = a.cfg.Versioning.PruneDepth
			}
			if depth == 0 {
				return errors.New("no prune depth: set --depth or versioning.prune_depth")
			}

			pruned, err := a.store.Prune(ctx, depth)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d change log entries\n", pruned)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&pruneDepth, "depth", 0, "levels of change log to keep (default versioning.prune_depth)")

	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			reflector := jsonschema.Reflector{
				RequiredFromJSONSchemaTags: true,
			}
			schema := reflector.Reflect(&pkgconfig.Config{})
			schema.Title = "ChainRewind configuration"

			out, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run background maintenance and serve metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Versioning.PruneDepth > 0 {
				a.maintenance.RegisterTask(a.store.PruneTask(a.cfg.Versioning.PruneDepth))
			}

			if err := a.maintenance.Start(ctx); err != nil {
				return fmt.Errorf("failed to start maintenance: %w", err)
			}
			defer func() {
				if err := a.maintenance.Stop(); err != nil {
					a.log.Warnf("failed to stop maintenance: %v", err)
				}
			}()

			if a.cfg.Metrics != nil && a.cfg.Metrics.Enabled {
				server := metrics.NewServer(a.cfg.Metrics, a.collectMetrics, a.stats,
					logger.NewComponentLoggerFromConfig(common.ComponentMetrics, a.cfg.Logging))
				if err := server.Start(ctx); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
				defer func() {
					stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd
					defer stop()
					if err := server.Stop(stopCtx); err != nil {
						a.log.Warnf("failed to stop metrics server: %v", err)
					}
				}()
				a.log.Infof("metrics server started on %s%s", a.cfg.Metrics.ListenAddress, a.cfg.Metrics.Path)
			}

			metrics.ComponentHealthSet(common.ComponentMaintenance, true)
			a.log.Info("running, press Ctrl+C to stop")
			<-ctx.Done()
			a.log.Info("shutting down")

			return nil
		},
	}
}

type indexStatus struct {
	Name       string            `json:"name"`
	Type       model.IndexType   `json:"type"`
	Status     model.IndexStatus `json:"status"`
	Level      uint64            `json:"level"`
	Entries    int               `json:"change_log_entries"`
	LastUpdate time.Time         `json:"updated_at"`
}

type statusReport struct {
	Schema        string                  `json:"schema"`
	SchemaHash    string                  `json:"schema_hash,omitempty"`
	ReindexReason *model.ReindexingReason `json:"reindex_reason,omitempty"`
	Indexes       []indexStatus           `json:"indexes"`
}

func collectStatus(ctx context.Context, a *app) (*statusReport, error) {
	report := &statusReport{Schema: a.cfg.Versioning.Schema, Indexes: []indexStatus{}}

	schema, err := a.meta.GetSchema(ctx, a.cfg.Versioning.Schema)
	switch {
	case err == nil:
		report.SchemaHash = schema.Hash
		report.ReindexReason = schema.ReindexReason
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	states, err := a.meta.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		entries, err := a.store.Count(ctx, state.Name)
		if err != nil {
			return nil, err
		}

		report.Indexes = append(report.Indexes, indexStatus{
			Name:       state.Name,
			Type:       state.Type,
			Status:     state.Status,
			Level:      state.Level,
			Entries:    entries,
			LastUpdate: state.UpdatedAt,
		})
	}

	return report, nil
}

func printStatus(cmd *cobra.Command, report *statusReport) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "schema %s (%s)\n", report.Schema, report.SchemaHash)
	if report.ReindexReason != nil {
		fmt.Fprintf(out, "reindexing required: %s\n", *report.ReindexReason)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(w, "INDEX\tTYPE\tSTATUS\tLEVEL\tENTRIES\tUPDATED")
	for _, idx := range report.Indexes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			idx.Name, idx.Type, idx.Status, idx.Level, idx.Entries, idx.LastUpdate.Format(time.RFC3339))
	}

	return w.Flush()
}

// collectMetrics refreshes the gauges read from storage.
func (a *app) collectMetrics(ctx context.Context) error {
	states, err := a.meta.ListIndexes(ctx)
	if err != nil {
		return err
	}

	for _, state := range states {
		entries, err := a.store.Count(ctx, state.Name)
		if err != nil {
			return err
		}
		metrics.ChangeLogEntriesSet(state.Name, entries)
		metrics.IndexLevelSet(state.Name, state.Level)
	}

	size, err := db.DBTotalSize(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	db.DBSizeLog(size)

	return nil
}

func (a *app) stats() any {
	m := a.maintenance.GetMetrics()

	lastError := ""
	if m.LastMaintenanceError != nil {
		lastError = m.LastMaintenanceError.Error()
	}

	return map[string]any{
		"maintenance_runs":       m.MaintenanceCount,
		"last_maintenance":       m.LastMaintenanceTime,
		"last_maintenance_error": lastError,
	}
}
