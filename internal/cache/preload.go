package cache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Entry is the type erased view of a cache used for bulk operations.
type Entry interface {
	Name() string
	Preload(ctx context.Context) (int, error)
	Stats() Stats
	Clear()
}

var _ Entry = (*Cached[struct{}])(nil)

// PreloadAll preloads every cache concurrently, stopping at the first error.
func PreloadAll(ctx context.Context, caches ...Entry) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range caches {
		g.Go(func() error {
			_, err := c.Preload(ctx)
			return err
		})
	}

	return g.Wait()
}

// ClearAll empties every cache, typically after a revert made them stale.
func ClearAll(caches ...Entry) {
	for _, c := range caches {
		c.Clear()
	}
}

// AllStats returns the stats of every cache keyed by entity type.
func AllStats(caches ...Entry) map[string]Stats {
	stats := make(map[string]Stats, len(caches))
	for _, c := range caches {
		stats[c.Name()] = c.Stats()
	}
	return stats
}
