package rollback

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rollbacksHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_rollbacks_total",
			Help: "Total number of rollbacks handled by outcome",
		},
		[]string{"outcome"},
	)

	rollbackDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainrewind_rollback_depth_levels",
			Help:    "Depth of handled rollbacks in levels",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
		},
	)

	rollbackLastHandled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainrewind_rollback_last_handled_timestamp",
			Help: "Unix timestamp of the last handled rollback",
		},
	)

	indexRollbackFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrewind_rollback_index_failures_total",
			Help: "Total number of indexes that failed to roll back",
		},
		[]string{"index"},
	)
)

func RollbackHandledLog(depth uint64, outcome string) {
	rollbacksHandled.WithLabelValues(outcome).Inc()
	rollbackDepth.Observe(float64(depth))
	rollbackLastHandled.Set(float64(time.Now().UTC().Unix()))
}

func IndexRollbackFailureInc(index string) {
	indexRollbackFailures.WithLabelValues(index).Inc()
}
