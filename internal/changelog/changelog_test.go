package changelog_test

import (
	"context"
	"database/sql"
	"math/big"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/changelog"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/metadata"
	"github.com/goran-ethernal/ChainRewind/internal/repository"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/goran-ethernal/ChainRewind/tests/helpers"
	"github.com/stretchr/testify/require"
)

const testIndex = "erc20_transfers"

type balance struct {
	Owner  string    `meddler:"owner"`
	Amount *big.Int  `meddler:"amount,bigint"`
	Nonce  int64     `meddler:"nonce"`
	Seen   time.Time `meddler:"seen,utctime"`
}

type note struct {
	ID   int64  `meddler:"id,pk"`
	Text string `meddler:"text"`
}

const schema = `
CREATE TABLE balances (
	owner  TEXT PRIMARY KEY,
	amount TEXT,
	nonce  INTEGER NOT NULL DEFAULT 0,
	seen   DATETIME
);
CREATE TABLE notes (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL
);`

var (
	balanceDesc = versioning.MustDescriptor[balance]("balance", "balances", "owner")
	noteDesc    = versioning.MustDescriptor[note]("note", "notes", "id")
)

type testEnv struct {
	db       *sql.DB
	store    *changelog.Store
	scopes   *scope.Manager
	meta     *metadata.Store
	reverter *changelog.Reverter
	balances *repository.Repository[balance]
	notes    *repository.Repository[note]
}

func newTestEnv(t *testing.T, models ...versioning.Model) *testEnv {
	t.Helper()

	log := logger.NewNopLogger()
	database := helpers.NewTestDB(t, "changelog.db", schema)

	if len(models) == 0 {
		models = []versioning.Model{balanceDesc, noteDesc}
	}
	registry, err := versioning.NewRegistry(models...)
	require.NoError(t, err)

	store := changelog.NewStore(database, log)
	scopes := scope.NewManager(database, store, &db.NoOpMaintenance{}, nil, log)
	meta := metadata.NewStore(database, log)

	require.NoError(t, meta.SaveIndex(t.Context(), &model.IndexState{
		Name:   testIndex,
		Type:   model.IndexTypeEVMEvents,
		Status: model.IndexStatusRealtime,
	}))

	return &testEnv{
		db:       database,
		store:    store,
		scopes:   scopes,
		meta:     meta,
		reverter: changelog.NewReverter(database, store, registry, meta, scopes, log),
		balances: repository.New(database, balanceDesc, log),
		notes:    repository.New(database, noteDesc, log),
	}
}

// atLevel runs fn in a scope of the test index at level and commits it.
func (e *testEnv) atLevel(t *testing.T, level uint64, fn func(s *scope.Scope)) {
	t.Helper()

	s, err := e.scopes.Begin(t.Context(), level, testIndex)
	require.NoError(t, err)
	defer s.Rollback()

	fn(s)

	require.NoError(t, s.Commit(t.Context()))
	require.NoError(t, e.meta.SetIndexLevel(t.Context(), testIndex, level))
}

func (e *testEnv) balance(t *testing.T, owner string) *balance {
	t.Helper()

	v, err := e.balances.GetOrNone(t.Context(), nil, owner)
	require.NoError(t, err)
	if v == nil {
		return nil
	}
	return v.Record
}

var seen = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newBalance(owner string, amount int64) *balance {
	return &balance{Owner: owner, Amount: big.NewInt(amount), Nonce: 1, Seen: seen}
}

func TestRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	t.Run("outside a scope", func(t *testing.T) {
		v, err := balanceDesc.Wrap(newBalance("alice", 1), false)
		require.NoError(t, err)

		entry, err := changelog.Record(nil, v, model.ActionInsert)
		require.NoError(t, err)
		require.Nil(t, entry)
	})

	t.Run("unknown action", func(t *testing.T) {
		v, err := balanceDesc.Wrap(newBalance("alice", 1), false)
		require.NoError(t, err)

		_, err = changelog.Record(nil, v, model.Action("UPSERT"))
		require.ErrorIs(t, err, model.ErrUnknownAction)
		require.True(t, model.IsProgrammerError(err))
	})

	t.Run("immune type", func(t *testing.T) {
		s, err := env.scopes.Begin(ctx, 1, testIndex, "balance")
		require.NoError(t, err)
		defer s.Rollback()

		v, err := balanceDesc.Wrap(newBalance("alice", 1), false)
		require.NoError(t, err)

		entry, err := changelog.Record(s, v, model.ActionInsert)
		require.NoError(t, err)
		require.Nil(t, entry)
		require.Empty(t, s.Pending())
	})

	t.Run("actions", func(t *testing.T) {
		s, err := env.scopes.Begin(ctx, 7, testIndex)
		require.NoError(t, err)
		defer s.Rollback()

		v, err := balanceDesc.Wrap(newBalance("alice", 100), true)
		require.NoError(t, err)

		insert, err := changelog.Record(s, v, model.ActionInsert)
		require.NoError(t, err)
		require.Equal(t, model.ActionInsert, insert.Action)
		require.Equal(t, "balance", insert.EntityType)
		require.Equal(t, "alice", insert.EntityPK)
		require.Equal(t, uint64(7), insert.Level)
		require.Equal(t, testIndex, insert.Index)
		require.Nil(t, insert.Data)

		unchanged, err := changelog.Record(s, v, model.ActionUpdate)
		require.NoError(t, err)
		require.Nil(t, unchanged)

		v.Record.Amount = big.NewInt(40)
		update, err := changelog.Record(s, v, model.ActionUpdate)
		require.NoError(t, err)
		require.JSONEq(t, `{"amount":"100"}`, string(update.Data))

		del, err := changelog.Record(s, v, model.ActionDelete)
		require.NoError(t, err)
		data, err := versioning.DecodeData(balanceDesc, del.Data)
		require.NoError(t, err)
		require.Equal(t, "40", data["amount"])
		require.Equal(t, int64(1), data["nonce"])
		require.NotContains(t, data, "owner")

		require.Len(t, s.Pending(), 3)
	})
}

func TestScopeCommit_PersistsEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	env.atLevel(t, 5, func(s *scope.Scope) {
		_, err := env.balances.Create(ctx, s, newBalance("alice", 10))
		require.NoError(t, err)
		_, err = env.notes.Create(ctx, s, &note{Text: "hello"})
		require.NoError(t, err)
	})

	count, err := env.store.Count(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	entries, err := env.store.ListByIndex(ctx, testIndex, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "note", entries[0].EntityType)
	require.Equal(t, "1", entries[0].EntityPK)
	require.Equal(t, "balance", entries[1].EntityType)
	require.Greater(t, entries[0].ID, entries[1].ID)

	limited, err := env.store.ListByIndex(ctx, testIndex, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestScopeRollback_DropsEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	s, err := env.scopes.Begin(ctx, 5, testIndex)
	require.NoError(t, err)

	_, err = env.balances.Create(ctx, s, newBalance("alice", 10))
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	count, err := env.store.Count(ctx, "")
	require.NoError(t, err)
	require.Zero(t, count)
	require.Nil(t, env.balance(t, "alice"))
}

func TestStore_Range(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	for level := uint64(1); level <= 5; level++ {
		env.atLevel(t, level, func(s *scope.Scope) {
			_, err := env.notes.Create(ctx, s, &note{Text: "n"})
			require.NoError(t, err)
		})
	}

	entries, err := env.store.Range(ctx, env.db, testIndex, 4, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(4), entries[0].Level)
	require.Equal(t, uint64(3), entries[1].Level)
	require.Equal(t, uint64(2), entries[2].Level)

	other, err := env.store.Range(ctx, env.db, "other", 5, 0)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestStore_Prune(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	for level := uint64(1); level <= 5; level++ {
		env.atLevel(t, level, func(s *scope.Scope) {
			_, err := env.notes.Create(ctx, s, &note{Text: "n"})
			require.NoError(t, err)
		})
	}

	pruned, err := env.store.Prune(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, pruned)

	pruned, err = env.store.Prune(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), pruned)

	entries, err := env.store.ListByIndex(ctx, testIndex, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(5), entries[0].Level)
	require.Equal(t, uint64(4), entries[1].Level)

	task := env.store.PruneTask(1)
	require.Equal(t, "prune_change_log", task.Name)
	require.NoError(t, task.Run(ctx))

	count, err := env.store.Count(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRevertRange_RestoresLevelState(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	env.atLevel(t, 10, func(s *scope.Scope) {
		_, err := env.balances.Create(ctx, s, newBalance("alice", 100))
		require.NoError(t, err)
		_, err = env.balances.Create(ctx, s, newBalance("bob", 50))
		require.NoError(t, err)
	})

	env.atLevel(t, 11, func(s *scope.Scope) {
		alice, err := env.balances.Get(ctx, s, "alice")
		require.NoError(t, err)
		alice.Record.Amount = big.NewInt(70)
		alice.Record.Nonce = 2
		alice.Record.Seen = seen.Add(time.Hour)
		require.NoError(t, env.balances.Save(ctx, s, alice))

		_, err = env.balances.Create(ctx, s, newBalance("carol", 30))
		require.NoError(t, err)

		bob, err := env.balances.Get(ctx, s, "bob")
		require.NoError(t, err)
		require.NoError(t, env.balances.Delete(ctx, s, bob))
	})

	env.atLevel(t, 12, func(s *scope.Scope) {
		alice, err := env.balances.Get(ctx, s, "alice")
		require.NoError(t, err)
		alice.Record.Amount = big.NewInt(20)
		require.NoError(t, env.balances.Save(ctx, s, alice))

		carol, err := env.balances.Get(ctx, s, "carol")
		require.NoError(t, err)
		require.NoError(t, env.balances.Delete(ctx, s, carol))

		_, err = env.balances.Create(ctx, s, newBalance("bob", 5))
		require.NoError(t, err)
	})

	require.NoError(t, env.reverter.RevertRange(ctx, testIndex, 12, 10))

	alice := env.balance(t, "alice")
	require.NotNil(t, alice)
	require.Equal(t, "100", alice.Amount.String())
	require.Equal(t, int64(1), alice.Nonce)
	require.True(t, seen.Equal(alice.Seen))

	bob := env.balance(t, "bob")
	require.NotNil(t, bob)
	require.Equal(t, "50", bob.Amount.String())

	require.Nil(t, env.balance(t, "carol"))

	entries, err := env.store.ListByIndex(ctx, testIndex, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.Equal(t, uint64(10), entry.Level)
	}

	state, err := env.meta.GetIndex(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, uint64(10), state.Level)
	require.Equal(t, model.IndexStatusRealtime, state.Status)
}

func TestRevertRange_ImmuneTypesSurvive(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	s, err := env.scopes.Begin(ctx, 3, testIndex, "note")
	require.NoError(t, err)
	_, err = env.notes.Create(ctx, s, &note{Text: "kept"})
	require.NoError(t, err)
	_, err = env.balances.Create(ctx, s, newBalance("alice", 1))
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, env.reverter.RevertRange(ctx, testIndex, 3, 2))

	notes, err := env.notes.Find(ctx, nil, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Nil(t, env.balance(t, "alice"))
}

func TestRevertRange_Bounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	err := env.reverter.RevertRange(ctx, testIndex, 1, 2)
	require.True(t, model.IsProgrammerError(err))

	require.NoError(t, env.reverter.RevertRange(ctx, testIndex, 2, 2))
	require.NoError(t, env.reverter.RevertRange(ctx, testIndex, 100, 0))
}

func TestRevertRange_UnknownModelFailsIndex(t *testing.T) {
	env := newTestEnv(t, noteDesc)
	ctx := t.Context()

	env.atLevel(t, 1, func(s *scope.Scope) {
		_, err := env.notes.Create(ctx, s, &note{Text: "a"})
		require.NoError(t, err)
	})
	env.atLevel(t, 2, func(s *scope.Scope) {
		_, err := env.notes.Create(ctx, s, &note{Text: "b"})
		require.NoError(t, err)
		_, err = env.balances.Create(ctx, s, newBalance("alice", 1))
		require.NoError(t, err)
	})

	err := env.reverter.RevertRange(ctx, testIndex, 2, 0)
	require.True(t, model.IsRevertFailure(err))

	// nothing was reverted
	notes, err := env.notes.Find(ctx, nil, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.NotNil(t, env.balance(t, "alice"))

	count, err := env.store.Count(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	state, err := env.meta.GetIndex(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, model.IndexStatusFailed, state.Status)
	require.Equal(t, uint64(2), state.Level)
}

func TestRevertRange_UndecodablePayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	env.atLevel(t, 1, func(s *scope.Scope) {
		_, err := env.balances.Create(ctx, s, newBalance("alice", 1))
		require.NoError(t, err)
	})

	_, err := env.db.Exec(`INSERT INTO `+changelog.Table+
		` (entity_type, entity_pk, level, "index", action, data, created_at, updated_at)
		VALUES ('balance', 'alice', 2, ?, 'UPDATE', '{"amount": "twelve"}', ?, ?)`,
		testIndex, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	err = env.reverter.RevertRange(ctx, testIndex, 2, 1)
	require.True(t, model.IsRevertFailure(err))

	require.NotNil(t, env.balance(t, "alice"))
}

func TestRevertRange_MissingRowFailsIndex(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, env *testEnv, s *scope.Scope)
	}{
		{
			name: "insert",
			mutate: func(t *testing.T, env *testEnv, s *scope.Scope) {
				_, err := env.balances.Create(t.Context(), s, newBalance("alice", 1))
				require.NoError(t, err)
			},
		},
		{
			name: "update",
			mutate: func(t *testing.T, env *testEnv, s *scope.Scope) {
				_, err := env.balances.Create(t.Context(), s, newBalance("alice", 1))
				require.NoError(t, err)
				_, err = env.balances.UpdateWhere(t.Context(), s, repository.Eq("owner", "alice"), map[string]any{"nonce": 7})
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := t.Context()

			env.atLevel(t, 1, func(s *scope.Scope) {
				tt.mutate(t, env, s)
			})

			// the row disappears behind the change log's back
			_, err := env.db.Exec(`DELETE FROM balances WHERE owner = 'alice'`)
			require.NoError(t, err)

			count, err := env.store.Count(ctx, testIndex)
			require.NoError(t, err)

			err = env.reverter.RevertRange(ctx, testIndex, 1, 0)
			require.True(t, model.IsRevertFailure(err))
			require.ErrorContains(t, err, "does not exist")

			after, err := env.store.Count(ctx, testIndex)
			require.NoError(t, err)
			require.Equal(t, count, after)

			state, err := env.meta.GetIndex(ctx, testIndex)
			require.NoError(t, err)
			require.Equal(t, model.IndexStatusFailed, state.Status)
		})
	}
}

func TestRevertRange_WaitsForOpenScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	s, err := env.scopes.Begin(ctx, 1, testIndex)
	require.NoError(t, err)
	_, err = env.balances.Create(ctx, s, newBalance("alice", 1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- env.reverter.RevertRange(context.Background(), testIndex, 1, 0)
	}()

	select {
	case <-done:
		t.Fatal("revert finished while a scope was open")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, s.Commit(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("revert did not finish")
	}

	require.Nil(t, env.balance(t, "alice"))
}

func TestWipe(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	env.atLevel(t, 4, func(s *scope.Scope) {
		_, err := env.balances.Create(ctx, s, newBalance("alice", 10))
		require.NoError(t, err)
		_, err = env.notes.Create(ctx, s, &note{Text: "n"})
		require.NoError(t, err)
	})

	require.NoError(t, env.reverter.Wipe(ctx))

	require.Nil(t, env.balance(t, "alice"))
	notes, err := env.notes.Count(ctx, nil, repository.Filter{})
	require.NoError(t, err)
	require.Zero(t, notes)

	count, err := env.store.Count(ctx, "")
	require.NoError(t, err)
	require.Zero(t, count)

	state, err := env.meta.GetIndex(ctx, testIndex)
	require.NoError(t, err)
	require.Zero(t, state.Level)
	require.Equal(t, model.IndexStatusNew, state.Status)

	// the index accepts scopes again
	env.atLevel(t, 1, func(s *scope.Scope) {
		_, err := env.notes.Create(ctx, s, &note{Text: "again"})
		require.NoError(t, err)
	})
}
