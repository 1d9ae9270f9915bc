package metadata

import (
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reindexing = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainrewind_reindexing_total",
		Help: "Total number of reindexing decisions by reason and action",
	},
	[]string{"reason", "action"},
)

func ReindexingInc(reason model.ReindexingReason, action model.ReindexingAction) {
	reindexing.WithLabelValues(string(reason), string(action)).Inc()
}
