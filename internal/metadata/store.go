package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/russross/meddler"
)

const (
	SchemaTable   = "rewind_schema"
	HeadTable     = "rewind_head"
	IndexTable    = "rewind_index"
	ContractTable = "rewind_contract"
	MetaTable     = "rewind_meta"
)

// Store persists index, head, contract, schema and key/value state.
// Every record is keyed by its natural name.
type Store struct {
	q   db.Querier
	log *logger.Logger
}

// NewStore creates a metadata store on an already migrated database.
func NewStore(q db.Querier, log *logger.Logger) *Store {
	return &Store{
		q:   q,
		log: log.WithComponent(common.ComponentMetadata),
	}
}

// WithTx returns a store running its statements in tx.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx, log: s.log}
}

// SaveIndex inserts or updates the state of an index.
func (s *Store) SaveIndex(ctx context.Context, state *model.IndexState) error {
	if err := state.Type.Validate(); err != nil {
		return err
	}
	if state.Status == "" {
		state.Status = model.IndexStatusNew
	}
	if err := state.Status.Validate(); err != nil {
		return err
	}

	touch(&state.CreatedAt, &state.UpdatedAt)
	return s.upsert(ctx, IndexTable, "name", state)
}

// GetIndex returns the state of the named index.
func (s *Store) GetIndex(ctx context.Context, name string) (*model.IndexState, error) {
	var state model.IndexState
	if err := s.get(ctx, &state, `SELECT * FROM `+IndexTable+` WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	return &state, nil
}

// ListIndexes returns every index ordered by name.
func (s *Store) ListIndexes(ctx context.Context) ([]*model.IndexState, error) {
	var states []*model.IndexState
	if err := s.list(ctx, &states, `SELECT * FROM `+IndexTable+` ORDER BY name`); err != nil {
		return nil, err
	}
	return states, nil
}

// SetIndexStatus stores the current status of an index.
func (s *Store) SetIndexStatus(ctx context.Context, name string, status model.IndexStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}

	if err := s.update(ctx, IndexTable, name, "status", string(status)); err != nil {
		return fmt.Errorf("index %s: %w", name, err)
	}

	s.log.Debugf("index %s status set to %s", name, status)
	return nil
}

// SetIndexLevel stores the level an index has been processed up to.
func (s *Store) SetIndexLevel(ctx context.Context, name string, level uint64) error {
	if err := s.update(ctx, IndexTable, name, "level", level); err != nil {
		return fmt.Errorf("index %s: %w", name, err)
	}
	return nil
}

// SaveHead inserts or updates the head of a datasource.
func (s *Store) SaveHead(ctx context.Context, head *model.HeadState) error {
	touch(&head.CreatedAt, &head.UpdatedAt)
	return s.upsert(ctx, HeadTable, "name", head)
}

// GetHead returns the head of the named datasource.
func (s *Store) GetHead(ctx context.Context, name string) (*model.HeadState, error) {
	var head model.HeadState
	if err := s.get(ctx, &head, `SELECT * FROM `+HeadTable+` WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("head %s: %w", name, err)
	}
	return &head, nil
}

// SaveContract inserts or updates a contract.
func (s *Store) SaveContract(ctx context.Context, contract *model.ContractRef) error {
	if err := contract.Kind.Validate(); err != nil {
		return err
	}

	touch(&contract.CreatedAt, &contract.UpdatedAt)
	return s.upsert(ctx, ContractTable, "name", contract)
}

// GetContract returns the named contract.
func (s *Store) GetContract(ctx context.Context, name string) (*model.ContractRef, error) {
	var contract model.ContractRef
	if err := s.get(ctx, &contract, `SELECT * FROM `+ContractTable+` WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("contract %s: %w", name, err)
	}
	return &contract, nil
}

// ListContracts returns every contract ordered by name.
func (s *Store) ListContracts(ctx context.Context) ([]*model.ContractRef, error) {
	var contracts []*model.ContractRef
	if err := s.list(ctx, &contracts, `SELECT * FROM `+ContractTable+` ORDER BY name`); err != nil {
		return nil, err
	}
	return contracts, nil
}

// SaveSchema inserts or updates the state of a schema.
func (s *Store) SaveSchema(ctx context.Context, schema *model.SchemaState) error {
	touch(&schema.CreatedAt, &schema.UpdatedAt)
	return s.upsert(ctx, SchemaTable, "name", schema)
}

// GetSchema returns the state of the named schema.
func (s *Store) GetSchema(ctx context.Context, name string) (*model.SchemaState, error) {
	var schema model.SchemaState
	if err := s.get(ctx, &schema, `SELECT * FROM `+SchemaTable+` WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return &schema, nil
}

// SetReindexReason flags the schema as requiring a reindex. A nil reason clears the flag.
func (s *Store) SetReindexReason(ctx context.Context, name string, reason *model.ReindexingReason) error {
	var value any
	if reason != nil {
		value = string(*reason)
	}

	if err := s.update(ctx, SchemaTable, name, "reindex_reason", value); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	return nil
}

// SetMeta stores value, encoded as JSON, under key.
func (s *Store) SetMeta(ctx context.Context, key string, value any) error {
	entry := &model.MetaEntry{Key: key, Value: value}
	touch(&entry.CreatedAt, &entry.UpdatedAt)
	return s.upsert(ctx, MetaTable, "key", entry)
}

// GetMeta returns the entry stored under key.
func (s *Store) GetMeta(ctx context.Context, key string) (*model.MetaEntry, error) {
	var entry model.MetaEntry
	if err := s.get(ctx, &entry, `SELECT * FROM `+MetaTable+` WHERE "key" = ?`, key); err != nil {
		return nil, fmt.Errorf("meta %s: %w", key, err)
	}
	return &entry, nil
}

// DeleteMeta removes the entry stored under key. Missing keys are not an error.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM `+MetaTable+` WHERE "key" = ?`, key); err != nil {
		return model.NewStorageError("delete meta", err)
	}
	return nil
}

func touch(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

func (s *Store) get(ctx context.Context, dst any, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := meddler.QueryRow(s.q, dst, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return model.NewStorageError("select", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, dst any, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := meddler.QueryAll(s.q, dst, query, args...); err != nil {
		return model.NewStorageError("select", err)
	}
	return nil
}

// upsert writes src keyed by the key column, keeping created_at of existing rows.
func (s *Store) upsert(ctx context.Context, table, key string, src any) error {
	columns, err := meddler.Columns(src, true)
	if err != nil {
		return err
	}
	values, err := meddler.Values(src, true)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(columns))
	quoted := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	for i, column := range columns {
		placeholders[i] = "?"
		quoted[i] = `"` + column + `"`
		if column != key && column != "created_at" {
			updates = append(updates, fmt.Sprintf(`"%s" = excluded."%s"`, column, column))
		}
	}

	//nolint:gosec // table and columns come from struct tags, not user input
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT("%s") DO UPDATE SET %s`,
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "), key, strings.Join(updates, ", "))

	if _, err := s.q.ExecContext(ctx, query, values...); err != nil {
		return model.NewStorageError("upsert "+table, err)
	}
	return nil
}

// update sets a single column of the row named name, failing with
// model.ErrNotFound when there is no such row.
func (s *Store) update(ctx context.Context, table, name, column string, value any) error {
	//nolint:gosec // table and column are constants of this package
	query := fmt.Sprintf(`UPDATE %s SET "%s" = ?, updated_at = ? WHERE name = ?`, table, column)

	res, err := s.q.ExecContext(ctx, query, value, time.Now().UTC(), name)
	if err != nil {
		return model.NewStorageError("update "+table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("update "+table, err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}
