package cache

import (
	"fmt"
	"testing"

	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/repository"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/config"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/goran-ethernal/ChainRewind/tests/helpers"
	"github.com/stretchr/testify/require"
)

type token struct {
	ID     int64  `meddler:"id,pk"`
	Symbol string `meddler:"symbol"`
}

const schema = `CREATE TABLE tokens (id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT NOT NULL)`

var tokenDesc = versioning.MustDescriptor[token]("token", "tokens", "id")

func newTestRepo(t *testing.T, rows int) *repository.Repository[token] {
	t.Helper()

	database := helpers.NewTestDB(t, "cache.db", schema)
	repo := repository.New(database, tokenDesc, logger.NewNopLogger())

	for i := 1; i <= rows; i++ {
		_, err := repo.Create(t.Context(), nil, &token{Symbol: fmt.Sprintf("T%d", i)})
		require.NoError(t, err)
	}

	return repo
}

func TestCached_Get(t *testing.T) {
	c, err := New(newTestRepo(t, 3), 10, logger.NewNopLogger())
	require.NoError(t, err)
	ctx := t.Context()

	require.Equal(t, Stats{Capacity: 10}, c.Stats())

	v, err := c.Get(ctx, nil, 1)
	require.NoError(t, err)
	require.Equal(t, "T1", v.Record.Symbol)

	again, err := c.Get(ctx, nil, int64(1))
	require.NoError(t, err)
	require.Same(t, v, again)

	_, err = c.Get(ctx, nil, 99)
	require.ErrorIs(t, err, model.ErrNotFound)

	none, err := c.GetOrNone(ctx, nil, 99)
	require.NoError(t, err)
	require.Nil(t, none)

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(3), stats.Misses)
	require.Equal(t, 1, stats.Size)
	require.InDelta(t, 0.1, stats.Full, 1e-9)
	require.InDelta(t, 0.25, stats.HitRate, 1e-9)
}

func TestCached_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(newTestRepo(t, 3), 2, logger.NewNopLogger())
	require.NoError(t, err)
	ctx := t.Context()

	_, err = c.Get(ctx, nil, 1)
	require.NoError(t, err)
	_, err = c.Get(ctx, nil, 2)
	require.NoError(t, err)

	// touch 1 so 2 becomes the eviction candidate
	_, err = c.Get(ctx, nil, 1)
	require.NoError(t, err)

	_, err = c.Get(ctx, nil, 3)
	require.NoError(t, err)
	require.Equal(t, 2, c.Stats().Size)

	c.Clear()
	require.Equal(t, Stats{Capacity: 2}, c.Stats())

	_, err = c.Get(ctx, nil, 1)
	require.NoError(t, err)
	_, err = c.Get(ctx, nil, 2)
	require.NoError(t, err)
	_, err = c.Get(ctx, nil, 1)
	require.NoError(t, err)
	_, err = c.Get(ctx, nil, 3)
	require.NoError(t, err)

	hitsBefore := c.Stats().Hits
	_, err = c.Get(ctx, nil, 1)
	require.NoError(t, err)
	require.Equal(t, hitsBefore+1, c.Stats().Hits)

	missesBefore := c.Stats().Misses
	_, err = c.Get(ctx, nil, 2)
	require.NoError(t, err)
	require.Equal(t, missesBefore+1, c.Stats().Misses)
}

func TestCached_Put(t *testing.T) {
	repo := newTestRepo(t, 1)
	c, err := New(repo, 10, logger.NewNopLogger())
	require.NoError(t, err)

	unkeyed, err := tokenDesc.Wrap(&token{Symbol: "X"}, false)
	require.NoError(t, err)
	err = c.Put(unkeyed)
	require.ErrorIs(t, err, model.ErrCacheUnkeyed)
	require.True(t, model.IsProgrammerError(err))

	v, err := repo.Get(t.Context(), nil, 1)
	require.NoError(t, err)
	require.NoError(t, c.Put(v))

	err = c.Put(v)
	require.ErrorIs(t, err, model.ErrCacheDuplicate)
	require.True(t, model.IsProgrammerError(err))
}

func TestCached_CreateAndDelete(t *testing.T) {
	c, err := New(newTestRepo(t, 0), 10, logger.NewNopLogger())
	require.NoError(t, err)
	ctx := t.Context()

	v, err := c.Create(ctx, nil, &token{Symbol: "NEW"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Stats().Size)

	cached, err := c.Get(ctx, nil, v.Record.ID)
	require.NoError(t, err)
	require.Same(t, v, cached)

	require.NoError(t, c.Delete(ctx, nil, v))
	require.Zero(t, c.Stats().Size)

	_, err = c.Get(ctx, nil, v.Record.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCached_Preload(t *testing.T) {
	c, err := New(newTestRepo(t, 5), 3, logger.NewNopLogger())
	require.NoError(t, err)
	ctx := t.Context()

	loaded, err := c.Preload(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, loaded)
	require.Equal(t, 3, c.Stats().Size)
	require.InDelta(t, 1.0, c.Stats().Full, 1e-9)

	for _, id := range []int64{5, 4, 3} {
		_, err := c.Get(ctx, nil, id)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(3), c.Stats().Hits)
	require.Zero(t, c.Stats().Misses)
}

func TestPreloadAll(t *testing.T) {
	repo := newTestRepo(t, 4)

	first, err := New(repo, 2, logger.NewNopLogger())
	require.NoError(t, err)
	second, err := New(repo, 8, logger.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, PreloadAll(t.Context(), first, second))

	stats := AllStats(first)
	require.Equal(t, 2, stats["token"].Size)
	require.Equal(t, 4, second.Stats().Size)

	ClearAll(first, second)
	require.Zero(t, first.Stats().Size)
	require.Zero(t, second.Stats().Size)
}

func TestNewFromConfig(t *testing.T) {
	repo := newTestRepo(t, 0)
	log := logger.NewNopLogger()

	cfg := config.CacheConfig{Capacities: map[string]int{"token": 1000}}
	cfg.ApplyDefaults()

	c, err := NewFromConfig(repo, cfg, log)
	require.NoError(t, err)
	require.Equal(t, 1000, c.Stats().Capacity)

	cfg.LowMemory = true
	c, err = NewFromConfig(repo, cfg, log)
	require.NoError(t, err)
	require.Equal(t, config.LowMemoryCacheCapacity, c.Stats().Capacity)

	c, err = NewFromConfig(repo, config.CacheConfig{}, log)
	require.NoError(t, err)
	require.Equal(t, config.DefaultCacheCapacity, c.Stats().Capacity)

	_, err = New(repo, 0, log)
	require.Error(t, err)
}
