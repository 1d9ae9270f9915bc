package versioning

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

// Registry maps entity type names to their models. The revert engine uses it
// to find the table and column layout of a change log entry.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry creates a registry holding the given models.
func NewRegistry(models ...Model) (*Registry, error) {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds a model. Registering the same entity type name twice is a
// programmer error.
func (r *Registry) Register(m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[m.Name()]; ok {
		return fmt.Errorf("%w: %s", model.ErrModelRegistered, m.Name())
	}

	r.models[m.Name()] = m
	return nil
}

// Lookup returns the model registered under name.
func (r *Registry) Lookup(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	return m, ok
}

// Names returns the registered entity type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.models))
}
