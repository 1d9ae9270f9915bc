package model

import (
	"fmt"
	"time"
)

// Action is the kind of mutation a change log entry undoes.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Validate returns ErrUnknownAction for anything but INSERT, UPDATE and DELETE.
func (a Action) Validate() error {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, string(a))
	}
}

// ChangeLogEntry is a single undo record created inside a versioned transaction.
// Data is nil for inserts, the previous values of the changed columns for updates
// and the full versioned snapshot for deletes, JSON encoded.
type ChangeLogEntry struct {
	ID         int64     `meddler:"id,pk"`
	EntityType string    `meddler:"entity_type"`
	EntityPK   string    `meddler:"entity_pk"`
	Level      uint64    `meddler:"level"`
	Index      string    `meddler:"index"`
	Action     Action    `meddler:"action"`
	Data       []byte    `meddler:"data"`
	CreatedAt  time.Time `meddler:"created_at,utctime"`
	UpdatedAt  time.Time `meddler:"updated_at,utctime"`
}

func (e *ChangeLogEntry) String() string {
	return fmt.Sprintf("%s(%s) %s at level %d of %s", e.EntityType, e.EntityPK, e.Action, e.Level, e.Index)
}

// RollbackMessage asks for the state of one or more indexes to be rolled back
// from FromLevel to ToLevel.
type RollbackMessage struct {
	FromLevel uint64
	ToLevel   uint64
}

// Depth returns the number of levels being rolled back.
func (m RollbackMessage) Depth() uint64 {
	if m.FromLevel < m.ToLevel {
		return 0
	}
	return m.FromLevel - m.ToLevel
}
