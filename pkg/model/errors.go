package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a keyed lookup finds no row.
var ErrNotFound = errors.New("not found")

// ProgrammerError signals a usage defect of the persistence core.
// It is never a runtime condition to recover from.
type ProgrammerError struct {
	Msg string
}

func (e *ProgrammerError) Error() string {
	return "programmer error: " + e.Msg
}

// NewProgrammerError creates a new ProgrammerError.
func NewProgrammerError(format string, args ...any) error {
	return &ProgrammerError{Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrNestedScope     = &ProgrammerError{Msg: "a scope is already open for this index"}
	ErrScopeClosed     = &ProgrammerError{Msg: "scope is already committed or rolled back"}
	ErrCacheUnkeyed    = &ProgrammerError{Msg: "cannot cache entity without primary key"}
	ErrCacheDuplicate  = &ProgrammerError{Msg: "entity is already cached"}
	ErrUnknownAction   = &ProgrammerError{Msg: "unknown change log action"}
	ErrModelRegistered = &ProgrammerError{Msg: "entity type is already registered"}
	ErrMissingPK       = &ProgrammerError{Msg: "entity has no primary key set"}
)

// ConflictError is returned for mutually exclusive or incomplete bulk create
// conflict resolution options. It is raised before any side effect.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return "conflict options: " + e.Msg
}

// StorageError wraps an I/O failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a StorageError for the given operation.
// A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// RevertFailure is returned when a change log entry cannot be reverted.
// It aborts the whole range revert and the index is marked failed.
type RevertFailure struct {
	EntryID int64
	Index   string
	Reason  string
	Err     error
}

func (e *RevertFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to revert change log entry %d of index %s: %s: %v", e.EntryID, e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to revert change log entry %d of index %s: %s", e.EntryID, e.Index, e.Reason)
}

func (e *RevertFailure) Unwrap() error {
	return e.Err
}

// NewRevertFailure creates a new RevertFailure.
func NewRevertFailure(entryID int64, index, reason string, err error) error {
	return &RevertFailure{
		EntryID: entryID,
		Index:   index,
		Reason:  reason,
		Err:     err,
	}
}

// IsProgrammerError reports whether err is or wraps a ProgrammerError.
func IsProgrammerError(err error) bool {
	var pe *ProgrammerError
	return errors.As(err, &pe)
}

// IsConflictError reports whether err is or wraps a ConflictError.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsRevertFailure reports whether err is or wraps a RevertFailure.
func IsRevertFailure(err error) bool {
	var rf *RevertFailure
	return errors.As(err, &rf)
}
