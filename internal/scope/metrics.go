package scope

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scopesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_scopes_opened_total",
			Help: "Total number of versioned transaction scopes opened",
		},
		[]string{"index"},
	)

	scopesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_scopes_finished_total",
			Help: "Total number of versioned transaction scopes finished by outcome",
		},
		[]string{"index", "status"},
	)

	scopeEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_scope_committed_entries_total",
			Help: "Total number of change log entries committed by scopes",
		},
		[]string{"index"},
	)

	scopeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainrewind_scope_duration_seconds",
			Help:    "Time between opening and committing a scope",
			Buckets: prometheus.DefBuckets,
		},
	)

	scopeWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainrewind_scope_wait_seconds",
			Help:    "Time spent waiting for the index gate when opening a scope",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func ScopeOpenedInc(index string) {
	scopesOpened.WithLabelValues(index).Inc()
}

func ScopeCommittedInc(index string) {
	scopesFinished.WithLabelValues(index, "committed").Inc()
}

func ScopeRolledBackInc(index string) {
	scopesFinished.WithLabelValues(index, "rolled_back").Inc()
}

func ScopeEntriesLog(index string, count int) {
	scopeEntries.WithLabelValues(index).Add(float64(count))
}

func ScopeDurationLog(duration time.Duration) {
	scopeDuration.Observe(duration.Seconds())
}

func ScopeWaitLog(duration time.Duration) {
	scopeWait.Observe(duration.Seconds())
}
