package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("disk I/O error")

	storage := NewStorageError("insert change log entries", cause)
	wrapped := fmt.Errorf("commit scope: %w", storage)
	require.True(t, IsStorageError(wrapped))
	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, "storage error during insert change log entries: disk I/O error", storage.Error())

	// wrapping twice keeps the innermost operation
	require.Same(t, storage, NewStorageError("commit", storage))
	require.Nil(t, NewStorageError("noop", nil))

	revert := NewRevertFailure(42, "erc20", "payload is not decodable", cause)
	require.True(t, IsRevertFailure(fmt.Errorf("revert: %w", revert)))
	require.ErrorIs(t, revert, cause)
	require.Contains(t, revert.Error(), "entry 42 of index erc20")

	require.True(t, IsProgrammerError(fmt.Errorf("begin: %w", ErrNestedScope)))
	require.True(t, IsProgrammerError(NewProgrammerError("column %s is unknown", "foo")))
	require.False(t, IsProgrammerError(cause))

	require.True(t, IsConflictError(&ConflictError{Msg: "ignore_conflicts and update_fields are mutually exclusive"}))
	require.False(t, IsConflictError(revert))
}
