package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_cache_hits_total",
			Help: "Total number of entity cache hits",
		},
		[]string{"entity_type"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_cache_misses_total",
			Help: "Total number of entity cache misses",
		},
		[]string{"entity_type"},
	)

	cacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainrewind_cache_size",
			Help: "Number of entities currently cached",
		},
		[]string{"entity_type"},
	)

	cacheCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainrewind_cache_capacity",
			Help: "Maximum number of entities cached",
		},
		[]string{"entity_type"},
	)

	cacheHitRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainrewind_cache_hit_rate",
			Help: "Ratio of cache hits to lookups since the cache was last cleared",
		},
		[]string{"entity_type"},
	)
)

func CacheHitInc(entityType string) {
	cacheHits.WithLabelValues(entityType).Inc()
}

func CacheMissInc(entityType string) {
	cacheMisses.WithLabelValues(entityType).Inc()
}

func CacheStatsSet(entityType string, stats Stats) {
	cacheSize.WithLabelValues(entityType).Set(float64(stats.Size))
	cacheCapacity.WithLabelValues(entityType).Set(float64(stats.Capacity))
	cacheHitRate.WithLabelValues(entityType).Set(stats.HitRate)
}
