package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goran-ethernal/ChainRewind/internal/changelog"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/russross/meddler"
)

// BulkCreateOptions control how BulkCreate handles rows that already exist.
type BulkCreateOptions struct {
	// IgnoreConflicts skips rows violating a uniqueness constraint.
	IgnoreConflicts bool
	// UpdateFields are overwritten on rows conflicting on OnConflict.
	UpdateFields []string
	// OnConflict is the conflict target for UpdateFields.
	OnConflict []string
}

// Validate checks the option combination.
func (o BulkCreateOptions) Validate() error {
	if o.IgnoreConflicts && len(o.UpdateFields) > 0 {
		return &model.ConflictError{Msg: "ignore_conflicts and update_fields are mutually exclusive"}
	}
	if !o.IgnoreConflicts && (len(o.UpdateFields) > 0) != (len(o.OnConflict) > 0) {
		return &model.ConflictError{Msg: "update_fields and on_conflict must be set together"}
	}
	return nil
}

func (o BulkCreateOptions) upsert() bool {
	return len(o.UpdateFields) > 0
}

// BulkCreate inserts recs. Without options every row is inserted as Create
// does. IgnoreConflicts records only the rows actually inserted. With
// UpdateFields a row conflicting on OnConflict is updated instead and gets
// an UPDATE entry with the values it had before.
// Conflict handling requires every record to carry its primary key.
func (r *Repository[T]) BulkCreate(
	ctx context.Context, s *scope.Scope, recs []*T, opts BulkCreateOptions,
) ([]*versioning.Versioned[T], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkColumns(opts.UpdateFields); err != nil {
		return nil, err
	}
	if err := r.checkColumns(opts.OnConflict); err != nil {
		return nil, err
	}

	result := make([]*versioning.Versioned[T], 0, len(recs))

	if !opts.IgnoreConflicts && !opts.upsert() {
		for _, rec := range recs {
			v, err := r.Create(ctx, s, rec)
			if err != nil {
				return nil, err
			}
			result = append(result, v)
		}
		return result, nil
	}

	for _, rec := range recs {
		v, err := r.desc.Wrap(rec, false)
		if err != nil {
			return nil, err
		}
		if _, err := v.PKString(); err != nil {
			return nil, fmt.Errorf("entity %s: conflict handling requires a primary key: %w", r.desc.Name(), err)
		}

		if opts.IgnoreConflicts {
			err = r.insertIgnore(ctx, s, v)
		} else {
			err = r.upsertRow(ctx, s, v, opts)
		}
		if err != nil {
			return nil, err
		}

		result = append(result, v)
	}

	return result, nil
}

// BulkUpdate writes fields of every record in vs. Every record must have
// been loaded or saved before, with its primary key set.
func (r *Repository[T]) BulkUpdate(
	ctx context.Context, s *scope.Scope, vs []*versioning.Versioned[T], fields []string,
) error {
	if len(fields) == 0 {
		return model.NewProgrammerError("entity %s: bulk update without fields", r.desc.Name())
	}
	if err := r.checkColumns(fields); err != nil {
		return err
	}
	for _, field := range fields {
		if field == r.desc.PrimaryKey() {
			return model.NewProgrammerError("entity %s: cannot update primary key column %s", r.desc.Name(), field)
		}
	}

	for i, v := range vs {
		if _, err := v.PKString(); err != nil {
			return fmt.Errorf("entity %s: bulk update object %d: %w", r.desc.Name(), i, err)
		}
		if !v.Persisted() {
			return model.NewProgrammerError("entity %s: bulk update object %d was never saved", r.desc.Name(), i)
		}
	}

	updated := 0
	for _, v := range vs {
		full, err := v.Diff()
		if err != nil {
			return err
		}

		diff := make(versioning.Snapshot)
		for _, field := range fields {
			if original, ok := full[field]; ok {
				diff[field] = original
			}
		}
		if len(diff) == 0 {
			continue
		}

		if err := r.update(ctx, s, v, fields); err != nil {
			return err
		}

		c, err := newChange(v, v.Original(), diff)
		if err != nil {
			return err
		}
		if _, err := changelog.Record(s, c, model.ActionUpdate); err != nil {
			return err
		}
		if err := v.MarkColumnsPersisted(fields...); err != nil {
			return err
		}
		updated++
	}

	MutationsAdd(r.desc.Name(), model.ActionUpdate, updated)
	return nil
}

func (r *Repository[T]) insertIgnore(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T]) error {
	columns, values, err := r.desc.Row(v.Record)
	if err != nil {
		return err
	}

	res, err := r.querier(s).ExecContext(ctx, insertStatement(r.table(), columns)+` ON CONFLICT DO NOTHING`, values...)
	if err != nil {
		return model.NewStorageError("insert "+r.desc.Name(), err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("insert "+r.desc.Name(), err)
	}
	if inserted == 0 {
		r.log.Debugf("skipped conflicting %s", r.desc.Name())
		return nil
	}

	if _, err := changelog.Record(s, v, model.ActionInsert); err != nil {
		return err
	}

	MutationsAdd(r.desc.Name(), model.ActionInsert, 1)
	return v.MarkPersisted()
}

func (r *Repository[T]) upsertRow(
	ctx context.Context, s *scope.Scope, v *versioning.Versioned[T], opts BulkCreateOptions,
) error {
	columns, values, err := r.desc.Row(v.Record)
	if err != nil {
		return err
	}

	current := make(map[string]any, len(columns))
	for i, column := range columns {
		current[column] = values[i]
	}

	existing, err := r.findConflicting(s, opts.OnConflict, current)
	if err != nil {
		return err
	}

	target := make([]string, len(opts.OnConflict))
	for i, column := range opts.OnConflict {
		target[i] = quote(column)
	}
	assignments := make([]string, len(opts.UpdateFields))
	for i, field := range opts.UpdateFields {
		assignments[i] = quote(field) + ` = excluded.` + quote(field)
	}

	query := insertStatement(r.table(), columns) +
		` ON CONFLICT (` + strings.Join(target, ", ") + `) DO UPDATE SET ` + strings.Join(assignments, ", ")
	if _, err := r.querier(s).ExecContext(ctx, query, values...); err != nil {
		return model.NewStorageError("upsert "+r.desc.Name(), err)
	}

	if existing == nil {
		if _, err := changelog.Record(s, v, model.ActionInsert); err != nil {
			return err
		}
		MutationsAdd(r.desc.Name(), model.ActionInsert, 1)
		return v.MarkPersisted()
	}

	original := existing.Original()
	diff := make(versioning.Snapshot)
	for _, field := range opts.UpdateFields {
		if !versioning.Equal(original[field], current[field]) {
			diff[field] = original[field]
		}
	}

	c, err := newChange(existing, original, diff)
	if err != nil {
		return err
	}
	if _, err := changelog.Record(s, c, model.ActionUpdate); err != nil {
		return err
	}

	MutationsAdd(r.desc.Name(), model.ActionUpdate, 1)
	return v.MarkPersisted()
}

func (r *Repository[T]) findConflicting(
	s *scope.Scope, target []string, values map[string]any,
) (*versioning.Versioned[T], error) {
	conditions := make([]string, len(target))
	args := make([]any, len(target))
	for i, column := range target {
		conditions[i] = quote(column) + ` = ?`
		args[i] = values[column]
	}

	rec := new(T)
	err := meddler.QueryRow(r.querier(s), rec,
		`SELECT * FROM `+r.table()+` WHERE `+strings.Join(conditions, ` AND `), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStorageError("find conflicting "+r.desc.Name(), err)
	}

	return r.desc.Wrap(rec, true)
}

func (r *Repository[T]) checkColumns(columns []string) error {
	for _, column := range columns {
		if _, ok := r.desc.Column(column); !ok {
			return fmt.Errorf("entity %s: unknown column %s", r.desc.Name(), column)
		}
	}
	return nil
}

func insertStatement(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quote(column)
	}

	return `INSERT INTO ` + table + ` (` + strings.Join(quoted, ", ") +
		`) VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + `)`
}
