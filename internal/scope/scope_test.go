package scope

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/goran-ethernal/ChainRewind/tests/helpers"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []*model.ChangeLogEntry
	err     error
}

func (w *fakeWriter) Insert(_ context.Context, _ *sql.Tx, entries []*model.ChangeLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, entries...)
	return nil
}

func newTestManager(t *testing.T, writer EntryWriter, immune ...string) *Manager {
	t.Helper()

	database := helpers.NewTestDB(t, "scope.db")

	set := make(map[string]struct{}, len(immune))
	for _, name := range immune {
		set[name] = struct{}{}
	}

	return NewManager(database, writer, nil, set, logger.NewNopLogger())
}

func TestManager_Begin(t *testing.T) {
	m := newTestManager(t, &fakeWriter{}, "token_metadata")
	ctx := t.Context()

	s, err := m.Begin(ctx, 42, "transfers", "holder")
	require.NoError(t, err)
	defer s.Rollback()

	require.Equal(t, uint64(42), s.Level())
	require.Equal(t, "transfers", s.Index())
	require.NotNil(t, s.Tx())
	require.True(t, s.IsImmune("token_metadata"))
	require.True(t, s.IsImmune("holder"))
	require.False(t, s.IsImmune("transfer"))
	require.True(t, m.IsOpen("transfers"))
	require.Equal(t, "scope(transfers@42)", s.String())

	// per scope immune types do not leak into the manager
	require.NoError(t, s.Rollback())
	require.False(t, m.IsOpen("transfers"))

	next, err := m.Begin(ctx, 43, "transfers")
	require.NoError(t, err)
	defer next.Rollback()
	require.False(t, next.IsImmune("holder"))
}

func TestManager_BeginRequiresIndex(t *testing.T) {
	m := newTestManager(t, &fakeWriter{})

	_, err := m.Begin(t.Context(), 1, "")
	require.True(t, model.IsProgrammerError(err))
}

func TestManager_NestedScope(t *testing.T) {
	m := newTestManager(t, &fakeWriter{})
	ctx := t.Context()

	s, err := m.Begin(ctx, 1, "transfers")
	require.NoError(t, err)
	defer s.Rollback()

	_, err = m.Begin(ctx, 2, "transfers")
	require.ErrorIs(t, err, model.ErrNestedScope)
	require.True(t, model.IsProgrammerError(err))

	// the failed attempt leaves the open scope usable
	require.True(t, m.IsOpen("transfers"))
	require.NoError(t, s.Commit(ctx))
}

func TestScope_Commit(t *testing.T) {
	writer := &fakeWriter{}
	m := newTestManager(t, writer)
	ctx := t.Context()

	s, err := m.Begin(ctx, 7, "transfers")
	require.NoError(t, err)

	entry := &model.ChangeLogEntry{EntityType: "holder", EntityPK: "0x01", Action: model.ActionInsert}
	require.NoError(t, s.Append(entry))

	pending := s.Pending()
	require.Len(t, pending, 1)
	pending[0] = nil
	require.Len(t, s.Pending(), 1)
	require.NotNil(t, s.Pending()[0])

	require.NoError(t, s.Commit(ctx))
	require.Len(t, writer.written, 1)
	require.False(t, m.IsOpen("transfers"))

	require.ErrorIs(t, s.Commit(ctx), model.ErrScopeClosed)
	require.ErrorIs(t, s.Append(entry), model.ErrScopeClosed)
	require.NoError(t, s.Rollback())
}

func TestScope_CommitWriterFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("disk full")}
	m := newTestManager(t, writer)
	ctx := t.Context()

	s, err := m.Begin(ctx, 7, "transfers")
	require.NoError(t, err)
	require.NoError(t, s.Append(&model.ChangeLogEntry{EntityType: "holder", EntityPK: "1", Action: model.ActionInsert}))

	err = s.Commit(ctx)
	require.True(t, model.IsStorageError(err))
	require.False(t, m.IsOpen("transfers"))

	// the index is usable again
	next, err := m.Begin(ctx, 7, "transfers")
	require.NoError(t, err)
	require.NoError(t, next.Rollback())
}

func TestScope_RollbackDiscardsWrites(t *testing.T) {
	m := newTestManager(t, &fakeWriter{})
	ctx := t.Context()

	_, err := m.DB().Exec(`CREATE TABLE counters (name TEXT PRIMARY KEY, value INTEGER)`)
	require.NoError(t, err)

	s, err := m.Begin(ctx, 1, "counters")
	require.NoError(t, err)

	_, err = s.Tx().ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('a', 1)`)
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	var count int
	require.NoError(t, m.DB().QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&count))
	require.Zero(t, count)
}

func TestManager_BeginWaitsForRevert(t *testing.T) {
	m := newTestManager(t, &fakeWriter{})
	ctx := t.Context()

	release, err := m.AcquireIndex(ctx, "transfers")
	require.NoError(t, err)

	opened := make(chan *Scope, 1)
	go func() {
		s, err := m.Begin(context.Background(), 5, "transfers")
		if err != nil {
			opened <- nil
			return
		}
		opened <- s
	}()

	select {
	case <-opened:
		t.Fatal("scope opened while the index was being reverted")
	case <-time.After(100 * time.Millisecond):
	}

	release()

	select {
	case s := <-opened:
		require.NotNil(t, s)
		require.NoError(t, s.Rollback())
	case <-time.After(5 * time.Second):
		t.Fatal("scope was not opened after the revert finished")
	}
}

func TestManager_BeginCancelledWhileWaiting(t *testing.T) {
	m := newTestManager(t, &fakeWriter{})

	release, err := m.AcquireIndex(t.Context(), "transfers")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Begin(ctx, 1, "transfers")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, m.IsOpen("transfers"))
}

func TestManager_MaintenanceWaitsForScope(t *testing.T) {
	database := helpers.NewTestDB(t, "scope_maintenance.db")
	maintenance := &countingMaintenance{}
	m := NewManager(database, &fakeWriter{}, maintenance, nil, logger.NewNopLogger())

	s, err := m.Begin(t.Context(), 1, "transfers")
	require.NoError(t, err)
	require.Equal(t, 1, maintenance.held())

	require.NoError(t, s.Commit(t.Context()))
	require.Equal(t, 0, maintenance.held())
}

type countingMaintenance struct {
	db.NoOpMaintenance

	mu    sync.Mutex
	count int
}

func (c *countingMaintenance) AcquireOperationLock() func() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.count--
		c.mu.Unlock()
	}
}

func (c *countingMaintenance) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestManager_AcquireIndexesReleasesOnFailure(t *testing.T) {
	m := newTestManager(t, &fakeWriter{})

	release, err := m.AcquireIndex(t.Context(), "approvals")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err = m.AcquireIndexes(ctx, "transfers", "approvals")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the gate taken before the failure was given back
	s, err := m.Begin(t.Context(), 1, "transfers")
	require.NoError(t, err)
	require.NoError(t, s.Rollback())
}
