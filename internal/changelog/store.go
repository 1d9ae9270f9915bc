package changelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/russross/meddler"
)

const Table = "rewind_change_log"

// Store persists change log entries.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

var _ scope.EntryWriter = (*Store)(nil)

// NewStore creates a change log store on an already migrated database.
func NewStore(sqlDB *sql.DB, log *logger.Logger) *Store {
	return &Store{
		db:  sqlDB,
		log: log.WithComponent(common.ComponentChangeLog),
	}
}

// Insert writes entries in tx, assigning their ids in insertion order.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, entries []*model.ChangeLogEntry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := meddler.Insert(tx, Table, entry); err != nil {
			return fmt.Errorf("failed to insert change log entry for %s(%s): %w", entry.EntityType, entry.EntityPK, err)
		}
	}

	if len(entries) > 0 {
		s.log.Debugf("inserted %d change log entries for index %s", len(entries), entries[0].Index)
	}

	return nil
}

// Range returns the entries of index with toLevel < level <= fromLevel,
// newest first.
func (s *Store) Range(
	ctx context.Context, q db.Querier, index string, fromLevel, toLevel uint64,
) ([]*model.ChangeLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []*model.ChangeLogEntry
	err := meddler.QueryAll(q, &entries,
		`SELECT * FROM `+Table+` WHERE "index" = ? AND level > ? AND level <= ? ORDER BY id DESC`,
		index, toLevel, fromLevel)
	if err != nil {
		return nil, model.NewStorageError("select change log range", err)
	}

	return entries, nil
}

// Delete removes a single entry.
func (s *Store) Delete(ctx context.Context, q db.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM `+Table+` WHERE id = ?`, id); err != nil {
		return model.NewStorageError("delete change log entry", err)
	}

	return nil
}

// Count returns the number of entries of index, or of all indexes when index is empty.
func (s *Store) Count(ctx context.Context, index string) (int, error) {
	query, args := `SELECT COUNT(*) FROM `+Table, []any{}
	if index != "" {
		query += ` WHERE "index" = ?`
		args = append(args, index)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, model.NewStorageError("count change log entries", err)
	}

	return count, nil
}

// ListByIndex returns up to limit entries of index, newest first.
// A zero limit returns all of them.
func (s *Store) ListByIndex(ctx context.Context, index string, limit int) ([]*model.ChangeLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, args := `SELECT * FROM `+Table+` WHERE "index" = ? ORDER BY id DESC`, []any{index}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var entries []*model.ChangeLogEntry
	if err := meddler.QueryAll(s.db, &entries, query, args...); err != nil {
		return nil, model.NewStorageError("list change log entries", err)
	}

	return entries, nil
}

// Prune drops entries at least depth levels below the persisted level of
// their index. Such entries are beyond any rollback the index accepts.
// Entries of indexes without persisted state are kept. A zero depth is a no-op.
func (s *Store) Prune(ctx context.Context, depth uint64) (int64, error) {
	if depth == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM `+Table+`
		WHERE id IN (
			SELECT c.id FROM `+Table+` c
			JOIN rewind_index i ON i.name = c."index"
			WHERE c.level + ? <= i.level
		)`, depth)
	if err != nil {
		return 0, model.NewStorageError("prune change log", err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, model.NewStorageError("prune change log", err)
	}

	EntriesPrunedAdd(pruned)
	if pruned > 0 {
		s.log.Infof("pruned %d change log entries older than %d levels", pruned, depth)
	}

	return pruned, nil
}

// PruneTask returns a maintenance task pruning the change log with depth.
func (s *Store) PruneTask(depth uint64) db.Task {
	return db.Task{
		Name: "prune_change_log",
		Run: func(ctx context.Context) error {
			_, err := s.Prune(ctx, depth)
			return err
		},
	}
}
