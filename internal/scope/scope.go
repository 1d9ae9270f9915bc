package scope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

// Scope is an open versioned transaction for one (level, index) pair.
// Mutations made through it run in its SQL transaction, and the change log
// entries they produce are written in the same transaction on Commit.
// A nil *Scope means the caller is outside a versioned transaction.
type Scope struct {
	level  uint64
	index  string
	immune map[string]struct{}

	tx      *sql.Tx
	manager *Manager
	release func()
	started time.Time
	log     *logger.Logger

	mu      sync.Mutex
	pending []*model.ChangeLogEntry
	closed  bool
}

// Level returns the chain level the scope records entries at.
func (s *Scope) Level() uint64 {
	return s.level
}

// Index returns the name of the index the scope belongs to.
func (s *Scope) Index() string {
	return s.index
}

// IsImmune reports whether mutations of the given entity type skip the change log.
func (s *Scope) IsImmune(entityType string) bool {
	_, ok := s.immune[entityType]
	return ok
}

// Tx returns the transaction backing the scope.
func (s *Scope) Tx() *sql.Tx {
	return s.tx
}

// Pending returns the entries recorded so far and not yet committed.
func (s *Scope) Pending() []*model.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*model.ChangeLogEntry(nil), s.pending...)
}

// Append queues an entry for the change log.
func (s *Scope) Append(entry *model.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.ErrScopeClosed
	}

	s.pending = append(s.pending, entry)
	return nil
}

// Commit writes the pending entries and commits the transaction.
// On failure everything done in the scope is rolled back.
func (s *Scope) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.ErrScopeClosed
	}
	defer s.close()

	if err := s.manager.writer.Insert(ctx, s.tx, s.pending); err != nil {
		s.rollbackTx()
		ScopeRolledBackInc(s.index)
		return model.NewStorageError("insert change log entries", err)
	}

	if err := s.tx.Commit(); err != nil {
		ScopeRolledBackInc(s.index)
		return model.NewStorageError("commit scope", err)
	}

	ScopeCommittedInc(s.index)
	ScopeEntriesLog(s.index, len(s.pending))
	ScopeDurationLog(time.Since(s.started))
	s.log.Debugf("committed scope %s at level %d with %d change log entries", s.index, s.level, len(s.pending))

	return nil
}

// Rollback discards the scope. It is a no-op on a committed or rolled back
// scope, so it can always be deferred right after Begin.
func (s *Scope) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	defer s.close()

	ScopeRolledBackInc(s.index)
	s.log.Debugf("rolling back scope %s at level %d, dropping %d change log entries", s.index, s.level, len(s.pending))

	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return model.NewStorageError("rollback scope", err)
	}

	return nil
}

func (s *Scope) rollbackTx() {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Errorf("failed to rollback transaction: %v", err)
	}
}

func (s *Scope) close() {
	s.closed = true
	s.manager.finish(s)
	s.release()
}

func (s *Scope) String() string {
	return fmt.Sprintf("scope(%s@%d)", s.index, s.level)
}
