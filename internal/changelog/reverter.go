package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/metadata"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

// Reverter undoes change log entries. Its statements bypass the repository
// so reverting never records new entries.
type Reverter struct {
	db       *sql.DB
	store    *Store
	registry *versioning.Registry
	meta     *metadata.Store
	scopes   *scope.Manager
	log      *logger.Logger
}

// NewReverter creates a revert engine. meta may be nil when index state is
// not tracked.
func NewReverter(
	sqlDB *sql.DB,
	store *Store,
	registry *versioning.Registry,
	meta *metadata.Store,
	scopes *scope.Manager,
	log *logger.Logger,
) *Reverter {
	return &Reverter{
		db:       sqlDB,
		store:    store,
		registry: registry,
		meta:     meta,
		scopes:   scopes,
		log:      log.WithComponent(common.ComponentRevertEngine),
	}
}

// RevertRange restores index to its state at toLevel by undoing every entry
// with toLevel < level <= fromLevel, newest first, in a single transaction.
// On success the persisted level of the index becomes toLevel. On failure
// nothing is changed and the index is marked failed.
func (r *Reverter) RevertRange(ctx context.Context, index string, fromLevel, toLevel uint64) (err error) {
	if fromLevel < toLevel {
		return model.NewProgrammerError("cannot revert index %s from level %d up to level %d", index, fromLevel, toLevel)
	}
	if fromLevel == toLevel {
		return nil
	}

	release, err := r.scopes.AcquireIndex(ctx, index)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	defer func() {
		RevertDurationLog(time.Since(start))
		if err != nil {
			RevertFailureInc(index)
			r.markFailed(ctx, index, err)
		}
	}()

	r.log.Infof("reverting index %s from level %d to level %d", index, fromLevel, toLevel)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("begin revert", err)
	}
	defer db.RollbackTx(tx, r.log)

	entries, err := r.store.Range(ctx, tx, index, fromLevel, toLevel)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return model.NewRevertFailure(entry.ID, index, "cancelled", err)
		}

		m, ok := r.registry.Lookup(entry.EntityType)
		if !ok {
			return model.NewRevertFailure(entry.ID, index,
				fmt.Sprintf("unknown entity type %s", entry.EntityType), nil)
		}

		if err := r.Revert(ctx, tx, entry, m); err != nil {
			return err
		}
	}

	if r.meta != nil {
		err := r.meta.WithTx(tx).SetIndexLevel(ctx, index, toLevel)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("commit revert", err)
	}

	EntriesRevertedAdd(index, len(entries))
	r.log.Infof("reverted %d change log entries of index %s in %s", len(entries), index, time.Since(start))

	return nil
}

// Revert undoes a single entry in tx and removes it from the log.
func (r *Reverter) Revert(ctx context.Context, tx *sql.Tx, entry *model.ChangeLogEntry, m versioning.Model) error {
	pk, err := m.ParsePK(entry.EntityPK)
	if err != nil {
		return model.NewRevertFailure(entry.ID, entry.Index, "invalid primary key", err)
	}

	table := db.QuoteIdent(m.Table())
	pkColumn := db.QuoteIdent(m.PrimaryKey())

	switch entry.Action {
	case model.ActionInsert:
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+pkColumn+` = ?`, pk)
		if err != nil {
			return model.NewRevertFailure(entry.ID, entry.Index, "delete row",
				model.NewStorageError("revert insert", err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewRevertFailure(entry.ID, entry.Index,
				fmt.Sprintf("%s(%s) does not exist", m.Name(), entry.EntityPK), nil)
		}

	case model.ActionUpdate:
		data, err := versioning.DecodeData(m, entry.Data)
		if err != nil {
			return model.NewRevertFailure(entry.ID, entry.Index, "undecodable payload", err)
		}
		if len(data) == 0 {
			break
		}

		columns := sortedColumns(data)
		set := make([]string, len(columns))
		args := make([]any, 0, len(columns)+1)
		for i, column := range columns {
			set[i] = db.QuoteIdent(column) + ` = ?`
			args = append(args, data[column])
		}
		args = append(args, pk)

		res, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET `+strings.Join(set, ", ")+` WHERE `+pkColumn+` = ?`, args...)
		if err != nil {
			return model.NewRevertFailure(entry.ID, entry.Index, "update row",
				model.NewStorageError("revert update", err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewRevertFailure(entry.ID, entry.Index,
				fmt.Sprintf("%s(%s) does not exist", m.Name(), entry.EntityPK), nil)
		}

	case model.ActionDelete:
		data, err := versioning.DecodeData(m, entry.Data)
		if err != nil {
			return model.NewRevertFailure(entry.ID, entry.Index, "undecodable payload", err)
		}
		data[m.PrimaryKey()] = pk

		columns := sortedColumns(data)
		quoted := make([]string, len(columns))
		args := make([]any, len(columns))
		for i, column := range columns {
			quoted[i] = db.QuoteIdent(column)
			args[i] = data[column]
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO `+table+` (`+strings.Join(quoted, ", ")+`) VALUES (`+placeholders(len(columns))+`)`,
			args...)
		if err != nil {
			return model.NewRevertFailure(entry.ID, entry.Index, "insert row",
				model.NewStorageError("revert delete", err))
		}

	default:
		return model.NewRevertFailure(entry.ID, entry.Index, "unknown action",
			fmt.Errorf("%w: %s", model.ErrUnknownAction, entry.Action))
	}

	if err := r.store.Delete(ctx, tx, entry.ID); err != nil {
		return model.NewRevertFailure(entry.ID, entry.Index, "delete entry", err)
	}

	r.log.Debugf("reverted %s", entry)

	return nil
}

func (r *Reverter) markFailed(ctx context.Context, index string, cause error) {
	r.log.Errorf("revert of index %s failed: %v", index, cause)

	if r.meta == nil {
		return
	}

	err := r.meta.SetIndexStatus(context.WithoutCancel(ctx), index, model.IndexStatusFailed)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		r.log.Errorf("failed to mark index %s as failed: %v", index, err)
	}
}

func sortedColumns(data versioning.Snapshot) []string {
	columns := make([]string, 0, len(data))
	for column := range data {
		columns = append(columns, column)
	}
	slices.Sort(columns)
	return columns
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
