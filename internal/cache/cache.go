package cache

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/repository"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
	"github.com/goran-ethernal/ChainRewind/pkg/config"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats describes the state of an entity cache.
type Stats struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Full     float64 `json:"full"`
	HitRate  float64 `json:"hit_rate"`
}

// Cached is a repository of T backed by a bounded LRU keyed by primary key.
// It assumes a single writer per entity type.
type Cached[T any] struct {
	repo     *repository.Repository[T]
	entries  *lru.Cache[string, *versioning.Versioned[T]]
	capacity int
	name     string
	log      *logger.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache of capacity entities over repo.
func New[T any](repo *repository.Repository[T], capacity int, log *logger.Logger) (*Cached[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	entries, err := lru.New[string, *versioning.Versioned[T]](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	c := &Cached[T]{
		repo:     repo,
		entries:  entries,
		capacity: capacity,
		name:     repo.Descriptor().Name(),
		log:      log.WithComponent(common.ComponentCache),
	}
	CacheStatsSet(c.name, c.Stats())

	return c, nil
}

// NewFromConfig creates a cache sized by the configuration of its entity type.
func NewFromConfig[T any](repo *repository.Repository[T], cfg config.CacheConfig, log *logger.Logger) (*Cached[T], error) {
	return New(repo, cfg.CapacityFor(repo.Descriptor().Name()), log)
}

// Repository returns the underlying repository.
func (c *Cached[T]) Repository() *repository.Repository[T] {
	return c.repo
}

// Get returns the entity with primary key pk, loading it on a miss.
// pk is the storage value of the key. Absent entities are not cached and
// yield model.ErrNotFound.
func (c *Cached[T]) Get(ctx context.Context, s *scope.Scope, pk any) (*versioning.Versioned[T], error) {
	key, err := cacheKey(pk)
	if err != nil {
		return nil, err
	}

	if v, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		CacheHitInc(c.name)
		return v, nil
	}

	c.misses.Add(1)
	CacheMissInc(c.name)

	v, err := c.repo.Get(ctx, s, pk)
	if err != nil {
		return nil, err
	}

	c.entries.Add(key, v)
	CacheStatsSet(c.name, c.Stats())

	return v, nil
}

// GetOrNone is Get returning nil for absent entities.
func (c *Cached[T]) GetOrNone(ctx context.Context, s *scope.Scope, pk any) (*versioning.Versioned[T], error) {
	v, err := c.Get(ctx, s, pk)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// Put caches v. Entities without a primary key or already cached are rejected.
func (c *Cached[T]) Put(v *versioning.Versioned[T]) error {
	key, err := v.PKString()
	if errors.Is(err, model.ErrMissingPK) {
		return fmt.Errorf("%w: %s", model.ErrCacheUnkeyed, c.name)
	}
	if err != nil {
		return err
	}

	if c.entries.Contains(key) {
		return fmt.Errorf("%w: %s(%s)", model.ErrCacheDuplicate, c.name, key)
	}

	c.entries.Add(key, v)
	CacheStatsSet(c.name, c.Stats())

	return nil
}

// Create inserts rec through the repository and caches it.
func (c *Cached[T]) Create(ctx context.Context, s *scope.Scope, rec *T) (*versioning.Versioned[T], error) {
	v, err := c.repo.Create(ctx, s, rec)
	if err != nil {
		return nil, err
	}

	if err := c.Put(v); err != nil {
		return nil, err
	}

	return v, nil
}

// Save writes v through the repository. Cached instances stay cached.
func (c *Cached[T]) Save(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T]) error {
	return c.repo.Save(ctx, s, v)
}

// Delete removes v through the repository and evicts it.
func (c *Cached[T]) Delete(ctx context.Context, s *scope.Scope, v *versioning.Versioned[T]) error {
	key, err := v.PKString()
	if err != nil {
		return err
	}

	if err := c.repo.Delete(ctx, s, v); err != nil {
		return err
	}

	c.entries.Remove(key)
	CacheStatsSet(c.name, c.Stats())

	return nil
}

// Preload fills the cache with up to capacity entities with the highest
// primary keys. It returns the number of entities loaded.
func (c *Cached[T]) Preload(ctx context.Context) (int, error) {
	rows, err := c.repo.Latest(ctx, nil, c.capacity)
	if err != nil {
		return 0, fmt.Errorf("preload %s: %w", c.name, err)
	}

	// oldest first so the highest keys end up most recently used
	for i := len(rows) - 1; i >= 0; i-- {
		key, err := rows[i].PKString()
		if err != nil {
			return 0, err
		}
		c.entries.Add(key, rows[i])
	}

	CacheStatsSet(c.name, c.Stats())
	c.log.Infof("preloaded %d %s entities", len(rows), c.name)

	return len(rows), nil
}

// Stats returns the counters and fill state of the cache.
func (c *Cached[T]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	size := c.entries.Len()

	stats := Stats{
		Hits:     hits,
		Misses:   misses,
		Size:     size,
		Capacity: c.capacity,
	}
	if c.capacity > 0 {
		stats.Full = float64(size) / float64(c.capacity)
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	return stats
}

// Name returns the entity type name of the cache.
func (c *Cached[T]) Name() string {
	return c.name
}

// Clear empties the cache and resets its counters.
func (c *Cached[T]) Clear() {
	c.entries.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
	CacheStatsSet(c.name, c.Stats())
}

func cacheKey(pk any) (string, error) {
	value, err := driver.DefaultParameterConverter.ConvertValue(pk)
	if err != nil {
		return "", fmt.Errorf("invalid primary key %v: %w", pk, err)
	}

	return versioning.FormatPK(value)
}
