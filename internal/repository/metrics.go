package repository

import (
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mutations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainrewind_repository_mutations_total",
		Help: "Total number of entity rows mutated through repositories",
	},
	[]string{"entity_type", "action"},
)

func MutationsAdd(entityType string, action model.Action, n int) {
	mutations.WithLabelValues(entityType, string(action)).Add(float64(n))
}
