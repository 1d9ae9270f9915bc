package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/goran-ethernal/ChainRewind/internal/changelog"
	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/russross/meddler"
)

// Repository reads and mutates the rows of entity type T.
// Every method takes the scope the call belongs to. Inside a scope the
// statements run in its transaction and mutations are recorded in the change
// log; a nil scope runs them directly on the database without recording.
type Repository[T any] struct {
	db   *sql.DB
	desc *versioning.Descriptor[T]
	log  *logger.Logger
}

// New creates a repository for the entity type described by desc.
func New[T any](sqlDB *sql.DB, desc *versioning.Descriptor[T], log *logger.Logger) *Repository[T] {
	return &Repository[T]{
		db:   sqlDB,
		desc: desc,
		log:  log.WithComponent(common.ComponentRepository),
	}
}

// Descriptor returns the descriptor of T.
func (r *Repository[T]) Descriptor() *versioning.Descriptor[T] {
	return r.desc
}

func (r *Repository[T]) querier(s *scope.Scope) db.Querier {
	if s != nil {
		return s.Tx()
	}
	return r.db
}

func (r *Repository[T]) table() string {
	return quote(r.desc.Table())
}

func (r *Repository[T]) pkColumn() string {
	return quote(r.desc.PrimaryKey())
}

// Get loads the row with primary key pk. It returns model.ErrNotFound when
// there is none.
func (r *Repository[T]) Get(ctx context.Context, s *scope.Scope, pk any) (*versioning.Versioned[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := new(T)
	err := meddler.QueryRow(r.querier(s), rec, `SELECT * FROM `+r.table()+` WHERE `+r.pkColumn()+` = ?`, pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s(%v): %w", r.desc.Name(), pk, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.NewStorageError("get "+r.desc.Name(), err)
	}

	return r.desc.Wrap(rec, true)
}

// GetOrNone is Get returning nil instead of model.ErrNotFound.
func (r *Repository[T]) GetOrNone(ctx context.Context, s *scope.Scope, pk any) (*versioning.Versioned[T], error) {
	v, err := r.Get(ctx, s, pk)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// Find returns the rows matching filter.
func (r *Repository[T]) Find(ctx context.Context, s *scope.Scope, filter Filter) ([]*versioning.Versioned[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, args := filter.render(r.table())

	var recs []*T
	if err := meddler.QueryAll(r.querier(s), &recs, query, args...); err != nil {
		return nil, model.NewStorageError("find "+r.desc.Name(), err)
	}

	result := make([]*versioning.Versioned[T], 0, len(recs))
	for _, rec := range recs {
		v, err := r.desc.Wrap(rec, true)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}

	return result, nil
}

// Latest returns up to limit rows with the highest primary keys, highest first.
func (r *Repository[T]) Latest(ctx context.Context, s *scope.Scope, limit int) ([]*versioning.Versioned[T], error) {
	return r.Find(ctx, s, Filter{OrderBy: r.pkColumn() + ` DESC`, Limit: limit})
}

// Count returns the number of rows matching filter.
func (r *Repository[T]) Count(ctx context.Context, s *scope.Scope, filter Filter) (int, error) {
	query := `SELECT COUNT(*) FROM ` + r.table()
	if filter.Where != "" {
		query += ` WHERE ` + filter.Where
	}

	var count int
	if err := r.querier(s).QueryRowContext(ctx, query, filter.Args...).Scan(&count); err != nil {
		return 0, model.NewStorageError("count "+r.desc.Name(), err)
	}

	return count, nil
}

// Create inserts rec and records an INSERT entry. A zero auto increment
// primary key is assigned by the database.
func (r *Repository[T]) Create(ctx context.Context, s *scope.Scope, rec *T) (*versioning.Versioned[T], error) {
	v, err := r.desc.Wrap(rec, false)
	if err != nil {
		return nil, err
	}

	if err := r.insert(ctx, s, v); err != nil {
		return nil, err
	}

	return v, nil
}

// Save inserts v when it was never persisted and otherwise updates the
// columns changed since it was loaded. Saving an unchanged record does nothing.
func (r *Repository[T]) Save(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T]) error {
	if !v.Persisted() {
		return r.insert(ctx, s, v)
	}

	diff, err := v.Diff()
	if err != nil {
		return err
	}
	if len(diff) == 0 {
		return nil
	}

	if err := r.update(ctx, s, v, slices.Sorted(maps.Keys(diff))); err != nil {
		return err
	}

	if _, err := changelog.Record(s, v, model.ActionUpdate); err != nil {
		return err
	}

	MutationsAdd(r.desc.Name(), model.ActionUpdate, 1)
	return v.MarkPersisted()
}

// Delete removes the row of v and records a DELETE entry holding its snapshot.
func (r *Repository[T]) Delete(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T]) error {
	pk, err := v.PK()
	if err != nil {
		return err
	}

	_, err = r.querier(s).ExecContext(ctx, `DELETE FROM `+r.table()+` WHERE `+r.pkColumn()+` = ?`, pk)
	if err != nil {
		return model.NewStorageError("delete "+r.desc.Name(), err)
	}

	if _, err := changelog.Record(s, v, model.ActionDelete); err != nil {
		return err
	}

	MutationsAdd(r.desc.Name(), model.ActionDelete, 1)
	v.MarkDeleted()
	return nil
}

// UpdateWhere sets the given columns on every row matching filter. set maps
// column names to storage values. Matching rows are loaded first so every
// row gets its own UPDATE entry.
func (r *Repository[T]) UpdateWhere(ctx context.Context, s *scope.Scope, filter Filter, set map[string]any) (int, error) {
	if len(set) == 0 {
		return 0, nil
	}

	columns := slices.Sorted(maps.Keys(set))
	values := make(versioning.Snapshot, len(set))
	for _, column := range columns {
		if column == r.desc.PrimaryKey() {
			return 0, model.NewProgrammerError("entity %s: cannot update primary key column %s", r.desc.Name(), column)
		}
		if _, ok := r.desc.Column(column); !ok {
			return 0, fmt.Errorf("entity %s: unknown column %s", r.desc.Name(), column)
		}
		value, err := driver.DefaultParameterConverter.ConvertValue(set[column])
		if err != nil {
			return 0, fmt.Errorf("entity %s: column %s: %w", r.desc.Name(), column, err)
		}
		values[column] = value
	}

	rows, err := r.Find(ctx, s, Filter{Where: filter.Where, Args: filter.Args})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(filter.Args))
	for i, column := range columns {
		assignments[i] = quote(column) + ` = ?`
		args = append(args, values[column])
	}
	query := `UPDATE ` + r.table() + ` SET ` + strings.Join(assignments, ", ")
	if filter.Where != "" {
		query += ` WHERE ` + filter.Where
		args = append(args, filter.Args...)
	}

	if _, err := r.querier(s).ExecContext(ctx, query, args...); err != nil {
		return 0, model.NewStorageError("update "+r.desc.Name(), err)
	}

	for _, row := range rows {
		original := row.Original()
		diff := make(versioning.Snapshot)
		for column, value := range values {
			if !versioning.Equal(original[column], value) {
				diff[column] = original[column]
			}
		}

		c, err := newChange(row, original, diff)
		if err != nil {
			return 0, err
		}
		if _, err := changelog.Record(s, c, model.ActionUpdate); err != nil {
			return 0, err
		}
	}

	MutationsAdd(r.desc.Name(), model.ActionUpdate, len(rows))
	return len(rows), nil
}

// DeleteWhere removes every row matching filter. Matching rows are loaded
// first so every row gets its own DELETE entry.
func (r *Repository[T]) DeleteWhere(ctx context.Context, s *scope.Scope, filter Filter) (int, error) {
	rows, err := r.Find(ctx, s, Filter{Where: filter.Where, Args: filter.Args})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	query := `DELETE FROM ` + r.table()
	if filter.Where != "" {
		query += ` WHERE ` + filter.Where
	}
	if _, err := r.querier(s).ExecContext(ctx, query, filter.Args...); err != nil {
		return 0, model.NewStorageError("delete "+r.desc.Name(), err)
	}

	for _, row := range rows {
		if _, err := changelog.Record(s, row, model.ActionDelete); err != nil {
			return 0, err
		}
		row.MarkDeleted()
	}

	MutationsAdd(r.desc.Name(), model.ActionDelete, len(rows))
	return len(rows), nil
}

func (r *Repository[T]) insert(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := meddler.Insert(r.querier(s), r.desc.Table(), v.Record); err != nil {
		return model.NewStorageError("insert "+r.desc.Name(), err)
	}

	if _, err := changelog.Record(s, v, model.ActionInsert); err != nil {
		return err
	}

	MutationsAdd(r.desc.Name(), model.ActionInsert, 1)
	return v.MarkPersisted()
}

// update writes the current values of columns of v.
func (r *Repository[T]) update(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T], columns []string) error {
	names, values, err := r.desc.Row(v.Record)
	if err != nil {
		return err
	}

	current := make(map[string]any, len(names))
	for i, name := range names {
		current[name] = values[i]
	}

	pk := current[r.desc.PrimaryKey()]
	if _, err := versioning.FormatPK(pk); err != nil {
		return fmt.Errorf("entity %s: %w", r.desc.Name(), err)
	}

	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, column := range columns {
		assignments[i] = quote(column) + ` = ?`
		args = append(args, current[column])
	}
	args = append(args, pk)

	_, err = r.querier(s).ExecContext(ctx,
		`UPDATE `+r.table()+` SET `+strings.Join(assignments, ", ")+` WHERE `+r.pkColumn()+` = ?`, args...)
	if err != nil {
		return model.NewStorageError("update "+r.desc.Name(), err)
	}

	return nil
}

// change is a mutation whose snapshot and diff were computed by the repository.
type change struct {
	m        versioning.Model
	pk       string
	snapshot versioning.Snapshot
	diff     versioning.Snapshot
}

var _ changelog.Entity = (*change)(nil)

func newChange(e changelog.Entity, snapshot, diff versioning.Snapshot) (*change, error) {
	pk, err := e.PKString()
	if err != nil {
		return nil, err
	}

	return &change{m: e.Model(), pk: pk, snapshot: snapshot, diff: diff}, nil
}

func (c *change) Model() versioning.Model                { return c.m }
func (c *change) PKString() (string, error)              { return c.pk, nil }
func (c *change) Snapshot() (versioning.Snapshot, error) { return c.snapshot, nil }
func (c *change) Diff() (versioning.Snapshot, error)     { return c.diff, nil }

func quote(name string) string {
	return db.QuoteIdent(name)
}
