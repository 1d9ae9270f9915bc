package scope

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/db"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"golang.org/x/sync/semaphore"
)

// EntryWriter persists change log entries inside a scope transaction.
type EntryWriter interface {
	Insert(ctx context.Context, tx *sql.Tx, entries []*model.ChangeLogEntry) error
}

// Manager opens scopes and serializes them with reverts, per index.
// Indexes are independent: scopes of different indexes may be open at the same time.
type Manager struct {
	db          *sql.DB
	writer      EntryWriter
	maintenance db.Maintenance
	immune      map[string]struct{}
	log         *logger.Logger

	mu    sync.Mutex
	gates map[string]*semaphore.Weighted
	open  map[string]*Scope
}

// NewManager creates a scope manager. immune holds the entity types that are
// never recorded, for every scope.
func NewManager(
	sqlDB *sql.DB,
	writer EntryWriter,
	maintenance db.Maintenance,
	immune map[string]struct{},
	log *logger.Logger,
) *Manager {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &Manager{
		db:          sqlDB,
		writer:      writer,
		maintenance: maintenance,
		immune:      maps.Clone(immune),
		log:         log.WithComponent(common.ComponentScopeManager),
		gates:       make(map[string]*semaphore.Weighted),
		open:        make(map[string]*Scope),
	}
}

// DB returns the database scopes are opened on.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Begin opens a scope for index at level. Additional immune entity types
// apply to this scope only.
// Opening a second scope for an index that already has one is a programmer
// error. If a revert of the index is running, Begin waits for it to finish.
func (m *Manager) Begin(ctx context.Context, level uint64, index string, immune ...string) (*Scope, error) {
	if index == "" {
		return nil, model.NewProgrammerError("scope requires an index name")
	}

	s := &Scope{
		level:   level,
		index:   index,
		immune:  maps.Clone(m.immune),
		manager: m,
		log:     m.log,
	}
	if s.immune == nil {
		s.immune = make(map[string]struct{}, len(immune))
	}
	for _, t := range immune {
		s.immune[t] = struct{}{}
	}

	gate, err := m.reserve(s)
	if err != nil {
		return nil, err
	}

	waitStart := time.Now()
	if err := gate.Acquire(ctx, 1); err != nil {
		m.finish(s)
		return nil, fmt.Errorf("waiting for index %s: %w", index, err)
	}
	ScopeWaitLog(time.Since(waitStart))

	unlock := m.maintenance.AcquireOperationLock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		unlock()
		gate.Release(1)
		m.finish(s)
		return nil, model.NewStorageError("begin scope", err)
	}

	s.tx = tx
	s.started = time.Now()
	s.release = func() {
		unlock()
		gate.Release(1)
	}

	ScopeOpenedInc(index)
	m.log.Debugf("opened scope %s at level %d", index, level)

	return s, nil
}

// AcquireIndex takes the exclusive gate of index, waiting for an open scope
// or another revert of the same index to finish. The returned function
// releases the gate.
func (m *Manager) AcquireIndex(ctx context.Context, index string) (func(), error) {
	return m.AcquireIndexes(ctx, index)
}

// AcquireIndexes takes the exclusive gates of several indexes in order,
// holding a single maintenance operation lock for all of them.
func (m *Manager) AcquireIndexes(ctx context.Context, indexes ...string) (func(), error) {
	taken := make([]*semaphore.Weighted, 0, len(indexes))
	releaseGates := func() {
		for i := len(taken) - 1; i >= 0; i-- {
			taken[i].Release(1)
		}
	}

	for _, index := range indexes {
		gate := m.gate(index)
		if err := gate.Acquire(ctx, 1); err != nil {
			releaseGates()
			return nil, fmt.Errorf("waiting for index %s: %w", index, err)
		}
		taken = append(taken, gate)
	}

	unlock := m.maintenance.AcquireOperationLock()

	return func() {
		unlock()
		releaseGates()
	}, nil
}

// IsOpen reports whether a scope is currently open or being opened for index.
func (m *Manager) IsOpen(index string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.open[index]
	return ok
}

func (m *Manager) reserve(s *Scope) (*semaphore.Weighted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.open[s.index]; ok {
		return nil, fmt.Errorf("%w: %s is open, cannot begin at level %d", model.ErrNestedScope, existing, s.level)
	}

	m.open[s.index] = s
	return m.gateLocked(s.index), nil
}

func (m *Manager) finish(s *Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open[s.index] == s {
		delete(m.open, s.index)
	}
}

func (m *Manager) gate(index string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.gateLocked(index)
}

func (m *Manager) gateLocked(index string) *semaphore.Weighted {
	gate, ok := m.gates[index]
	if !ok {
		gate = semaphore.NewWeighted(1)
		m.gates[index] = gate
	}
	return gate
}
