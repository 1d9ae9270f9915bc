package changelog

import (
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

// Entity is the type erased view of a versioned record.
// *versioning.Versioned[T] implements it.
type Entity interface {
	Model() versioning.Model
	PKString() (string, error)
	Snapshot() (versioning.Snapshot, error)
	Diff() (versioning.Snapshot, error)
}

// Record creates the change log entry undoing a mutation of e and queues it
// on the scope. It returns a nil entry when nothing has to be recorded:
// outside a scope, for immune entity types, and for updates that changed no
// versioned column.
func Record(s *scope.Scope, e Entity, action model.Action) (*model.ChangeLogEntry, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	if s == nil {
		return nil, nil
	}

	m := e.Model()
	if s.IsImmune(m.Name()) {
		return nil, nil
	}

	pk, err := e.PKString()
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", m.Name(), err)
	}

	var data []byte
	switch action {
	case model.ActionInsert:
		// undone by deleting the row, nothing to keep

	case model.ActionUpdate:
		diff, err := e.Diff()
		if err != nil {
			return nil, err
		}
		if len(diff) == 0 {
			return nil, nil
		}
		if data, err = versioning.EncodeData(m, diff); err != nil {
			return nil, err
		}

	case model.ActionDelete:
		snapshot, err := e.Snapshot()
		if err != nil {
			return nil, err
		}
		if data, err = versioning.EncodeData(m, snapshot); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	entry := &model.ChangeLogEntry{
		EntityType: m.Name(),
		EntityPK:   pk,
		Level:      s.Level(),
		Index:      s.Index(),
		Action:     action,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.Append(entry); err != nil {
		return nil, err
	}

	EntryRecordedInc(m.Name(), action)

	return entry, nil
}
