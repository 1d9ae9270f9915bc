package changelog

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

// Wipe drops the materialized state of every registered entity type together
// with the whole change log, and resets every tracked index to level 0 with
// status new so it is indexed again from scratch.
// It waits for the open scopes of all tracked indexes and blocks new ones
// until it is done.
func (r *Reverter) Wipe(ctx context.Context) error {
	var indexes []*model.IndexState
	if r.meta != nil {
		var err error
		if indexes, err = r.meta.ListIndexes(ctx); err != nil {
			return err
		}
	}

	names := make([]string, len(indexes))
	for i, state := range indexes {
		names[i] = state.Name
	}

	release, err := r.scopes.AcquireIndexes(ctx, names...)
	if err != nil {
		return err
	}
	defer release()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("begin wipe", err)
	}
	defer db.RollbackTx(tx, r.log)

	for _, name := range r.registry.Names() {
		m, _ := r.registry.Lookup(name)
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+db.QuoteIdent(m.Table())); err != nil {
			return model.NewStorageError(fmt.Sprintf("wipe %s", name), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+Table); err != nil {
		return model.NewStorageError("wipe change log", err)
	}

	for _, state := range indexes {
		meta := r.meta.WithTx(tx)
		if err := meta.SetIndexLevel(ctx, state.Name, 0); err != nil {
			return err
		}
		if err := meta.SetIndexStatus(ctx, state.Name, model.IndexStatusNew); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("commit wipe", err)
	}

	r.log.Warnf("wiped %d entity types and reset %d indexes", len(r.registry.Names()), len(indexes))
	return nil
}
