package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

// WipeFunc drops the materialized state so indexing can restart from scratch.
type WipeFunc func(ctx context.Context) error

// Reindex applies the policy action configured for reason.
// raise flags the schema and returns a *model.ReindexingRequiredError,
// wipe_and_restart calls wipe and ignore only logs.
func (s *Store) Reindex(
	ctx context.Context,
	schema string,
	policy model.ReindexingPolicy,
	reason model.ReindexingReason,
	detail string,
	wipe WipeFunc,
) error {
	action := policy.Action(reason)
	ReindexingInc(reason, action)

	switch action {
	case model.ReindexingActionIgnore:
		s.log.Warnf("reindexing required (%s: %s) but policy says ignore", reason, detail)
		return nil

	case model.ReindexingActionWipeAndRestart:
		if wipe == nil {
			return fmt.Errorf("reindexing %s: wipe_and_restart configured without a wipe function", reason)
		}
		s.log.Warnf("reindexing required (%s: %s), wiping state", reason, detail)
		if err := wipe(ctx); err != nil {
			return fmt.Errorf("reindexing %s: wipe failed: %w", reason, err)
		}
		return nil

	default:
		if err := s.SetReindexReason(ctx, schema, &reason); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		return &model.ReindexingRequiredError{Reason: reason, Context: detail}
	}
}

// CheckSchema compares the stored hash of schema with hash. A new schema is
// stored, a pending reindex reason is reported and a changed hash goes
// through the policy with reason schema_modified.
func (s *Store) CheckSchema(
	ctx context.Context,
	schema, hash string,
	policy model.ReindexingPolicy,
	wipe WipeFunc,
) error {
	state, err := s.GetSchema(ctx, schema)
	if errors.Is(err, model.ErrNotFound) {
		s.log.Infof("storing schema %s with hash %s", schema, hash)
		return s.SaveSchema(ctx, &model.SchemaState{Name: schema, Hash: hash})
	}
	if err != nil {
		return err
	}

	if state.ReindexReason != nil {
		return &model.ReindexingRequiredError{Reason: *state.ReindexReason, Context: "pending from a previous run"}
	}

	if state.Hash == hash {
		return nil
	}

	detail := fmt.Sprintf("schema %s hash changed from %s to %s", schema, state.Hash, hash)
	if err := s.Reindex(ctx, schema, policy, model.ReindexingReasonSchemaModified, detail, wipe); err != nil {
		return err
	}

	state.Hash = hash
	state.ReindexReason = nil
	return s.SaveSchema(ctx, state)
}
