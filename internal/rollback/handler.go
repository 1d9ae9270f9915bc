package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goran-ethernal/ChainRewind/internal/cache"
	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/metadata"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"golang.org/x/sync/errgroup"
)

const (
	outcomeReverted = "reverted"
	outcomeFailed   = "failed"
	outcomeWiped    = "wiped"
	outcomeRaised   = "raised"
	outcomeNoop     = "noop"
)

// Reverter reverts the change log of a single index.
// *changelog.Reverter implements it.
type Reverter interface {
	RevertRange(ctx context.Context, index string, fromLevel, toLevel uint64) error
}

// Options configure a rollback handler.
type Options struct {
	// Schema is the schema flagged when a rollback requires reindexing.
	Schema string
	// Policy decides what happens with rollbacks deeper than MaxDepth.
	Policy model.ReindexingPolicy
	// MaxDepth is the deepest rollback handled by reverting. 0 means unlimited.
	MaxDepth uint64
	// Wipe drops the materialized state for the wipe_and_restart action.
	Wipe metadata.WipeFunc
	// Caches are cleared after every handled rollback.
	Caches []cache.Entry
	// Concurrency limits the number of indexes reverted at once. 0 means no limit.
	Concurrency int
}

// Handler reverts several indexes to a common level.
type Handler struct {
	reverter Reverter
	meta     *metadata.Store
	opts     Options
	log      *logger.Logger
}

// NewHandler creates a rollback handler.
func NewHandler(reverter Reverter, meta *metadata.Store, opts Options, log *logger.Logger) *Handler {
	return &Handler{
		reverter: reverter,
		meta:     meta,
		opts:     opts,
		log:      log.WithComponent(common.ComponentRollback),
	}
}

// HandleRollback reverts every index in indexes from msg.FromLevel to
// msg.ToLevel. Indexes are independent: they are reverted concurrently and a
// failing index does not stop the others. The returned error joins the
// failures of all indexes.
// Rollbacks deeper than the configured maximum go through the reindexing
// policy with reason rollback: raise returns the reindexing error, wipe
// drops the state instead of reverting and ignore reverts anyway.
func (h *Handler) HandleRollback(ctx context.Context, msg model.RollbackMessage, indexes []string) error {
	if msg.FromLevel < msg.ToLevel {
		return model.NewProgrammerError("rollback from level %d to higher level %d", msg.FromLevel, msg.ToLevel)
	}

	depth := msg.Depth()
	if depth == 0 || len(indexes) == 0 {
		RollbackHandledLog(depth, outcomeNoop)
		return nil
	}

	h.log.Infof("handling rollback from level %d to level %d (depth %d) for %d indexes",
		msg.FromLevel, msg.ToLevel, depth, len(indexes))

	defer cache.ClearAll(h.opts.Caches...)

	if h.opts.MaxDepth > 0 && depth > h.opts.MaxDepth {
		revert, err := h.tooDeep(ctx, msg)
		if !revert {
			return err
		}
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if h.opts.Concurrency > 0 {
		g.SetLimit(h.opts.Concurrency)
	}

	for _, index := range indexes {
		g.Go(func() error {
			if err := h.reverter.RevertRange(ctx, index, msg.FromLevel, msg.ToLevel); err != nil {
				IndexRollbackFailureInc(index)
				h.log.Errorf("rollback of index %s failed: %v", index, err)

				mu.Lock()
				errs = append(errs, fmt.Errorf("index %s: %w", index, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		RollbackHandledLog(depth, outcomeFailed)
		return err
	}

	RollbackHandledLog(depth, outcomeReverted)
	h.log.Infof("rolled back %d indexes to level %d", len(indexes), msg.ToLevel)

	return nil
}

// tooDeep applies the reindexing policy to a rollback beyond the maximum
// depth. It reports whether the rollback should still be reverted.
func (h *Handler) tooDeep(ctx context.Context, msg model.RollbackMessage) (bool, error) {
	action := h.opts.Policy.Action(model.ReindexingReasonRollback)
	detail := fmt.Sprintf("rollback from level %d to level %d exceeds the maximum depth of %d",
		msg.FromLevel, msg.ToLevel, h.opts.MaxDepth)

	if err := h.meta.Reindex(ctx, h.opts.Schema, h.opts.Policy, model.ReindexingReasonRollback, detail, h.opts.Wipe); err != nil {
		RollbackHandledLog(msg.Depth(), outcomeRaised)
		return false, err
	}

	switch action {
	case model.ReindexingActionWipeAndRestart:
		RollbackHandledLog(msg.Depth(), outcomeWiped)
		return false, nil
	default:
		return true, nil
	}
}
