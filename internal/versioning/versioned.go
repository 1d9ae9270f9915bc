package versioning

import (
	"bytes"
	"maps"
	"time"
)

// Snapshot maps column names to storage values.
type Snapshot map[string]any

// Equal reports whether two storage values are the same.
// Times compare by instant and byte slices by content.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	default:
		return a == b
	}
}

// Versioned wraps an entity with the snapshot it had when it was loaded or
// last saved, so the change log can record what a mutation overwrote.
type Versioned[T any] struct {
	Record *T

	desc      *Descriptor[T]
	original  Snapshot
	persisted bool
}

// Model returns the descriptor of the wrapped entity type.
func (v *Versioned[T]) Model() Model {
	return v.desc
}

// Persisted reports whether the record exists in the store.
func (v *Versioned[T]) Persisted() bool {
	return v.persisted
}

// Snapshot returns the current storage values of the versioned columns.
func (v *Versioned[T]) Snapshot() (Snapshot, error) {
	return v.desc.Snapshot(v.Record)
}

// Original returns the snapshot captured at load or the last save.
// It is nil for records that were never persisted.
func (v *Versioned[T]) Original() Snapshot {
	return maps.Clone(v.original)
}

// Diff returns the versioned columns whose current value differs from the
// original, mapped to their original values.
func (v *Versioned[T]) Diff() (Snapshot, error) {
	current, err := v.Snapshot()
	if err != nil {
		return nil, err
	}

	diff := make(Snapshot)
	for column, value := range current {
		original, ok := v.original[column]
		if !ok || !Equal(original, value) {
			diff[column] = original
		}
	}

	return diff, nil
}

// PK returns the storage value of the primary key.
func (v *Versioned[T]) PK() (any, error) {
	return v.desc.PK(v.Record)
}

// PKString returns the primary key as recorded in the change log.
func (v *Versioned[T]) PKString() (string, error) {
	return v.desc.PKString(v.Record)
}

// MarkPersisted records the current state as the original one.
// It is called after the record was successfully written.
func (v *Versioned[T]) MarkPersisted() error {
	snapshot, err := v.Snapshot()
	if err != nil {
		return err
	}

	v.original = snapshot
	v.persisted = true
	return nil
}

// MarkDeleted flags the record as no longer present in the store.
func (v *Versioned[T]) MarkDeleted() {
	v.original = nil
	v.persisted = false
}

// MarkColumnsPersisted records the current values of columns as original,
// leaving the other columns untouched. It is used after partial updates.
func (v *Versioned[T]) MarkColumnsPersisted(columns ...string) error {
	snapshot, err := v.Snapshot()
	if err != nil {
		return err
	}

	if v.original == nil {
		v.original = make(Snapshot, len(columns))
	}
	for _, column := range columns {
		if value, ok := snapshot[column]; ok {
			v.original[column] = value
		}
	}

	return nil
}
