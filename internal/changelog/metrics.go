package changelog

import (
	"time"

	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_changelog_entries_recorded_total",
			Help: "Total number of change log entries recorded by entity type and action",
		},
		[]string{"entity_type", "action"},
	)

	entriesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainrewind_changelog_entries_pruned_total",
			Help: "Total number of change log entries pruned",
		},
	)

	entriesReverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_changelog_entries_reverted_total",
			Help: "Total number of change log entries reverted by index",
		},
		[]string{"index"},
	)

	revertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainrewind_revert_duration_seconds",
			Help:    "Duration of reverting a level range of an index",
			Buckets: prometheus.DefBuckets,
		},
	)

	revertFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_revert_failures_total",
			Help: "Total number of failed reverts by index",
		},
		[]string{"index"},
	)
)

func EntryRecordedInc(entityType string, action model.Action) {
	entriesRecorded.WithLabelValues(entityType, string(action)).Inc()
}

func EntriesPrunedAdd(n int64) {
	entriesPruned.Add(float64(n))
}

func EntriesRevertedAdd(index string, n int) {
	entriesReverted.WithLabelValues(index).Add(float64(n))
}

func RevertDurationLog(d time.Duration) {
	revertDuration.Observe(d.Seconds())
}

func RevertFailureInc(index string) {
	revertFailures.WithLabelValues(index).Inc()
}
