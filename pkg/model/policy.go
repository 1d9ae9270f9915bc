package model

import (
	"fmt"
	"maps"
	"slices"
)

// ReindexingReason is the cause that requires an index to be rebuilt.
type ReindexingReason string

const (
	ReindexingReasonManual         ReindexingReason = "manual"
	ReindexingReasonMigration      ReindexingReason = "migration"
	ReindexingReasonRollback       ReindexingReason = "rollback"
	ReindexingReasonConfigModified ReindexingReason = "config_modified"
	ReindexingReasonSchemaModified ReindexingReason = "schema_modified"
)

// ReindexingAction is what happens when a reindexing reason is hit.
type ReindexingAction string

const (
	ReindexingActionRaise          ReindexingAction = "raise"
	ReindexingActionWipeAndRestart ReindexingAction = "wipe_and_restart"
	ReindexingActionIgnore         ReindexingAction = "ignore"
)

var (
	reindexingReasons = []ReindexingReason{
		ReindexingReasonManual,
		ReindexingReasonMigration,
		ReindexingReasonRollback,
		ReindexingReasonConfigModified,
		ReindexingReasonSchemaModified,
	}
	reindexingActions = []ReindexingAction{
		ReindexingActionRaise,
		ReindexingActionWipeAndRestart,
		ReindexingActionIgnore,
	}
)

// ReindexingRequiredError is returned when the policy says to raise for a reason.
type ReindexingRequiredError struct {
	Reason  ReindexingReason
	Context string
}

func (e *ReindexingRequiredError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("reindexing required: %s", e.Reason)
	}
	return fmt.Sprintf("reindexing required: %s: %s", e.Reason, e.Context)
}

// ReindexingPolicy maps reindexing reasons to actions.
// Reasons that are not configured resolve to raise.
type ReindexingPolicy map[ReindexingReason]ReindexingAction

// ParseReindexingPolicy builds a policy from its configuration form.
// Unknown reasons or actions are rejected.
func ParseReindexingPolicy(raw map[string]string) (ReindexingPolicy, error) {
	policy := make(ReindexingPolicy, len(raw))

	for _, key := range slices.Sorted(maps.Keys(raw)) {
		reason := ReindexingReason(key)
		if !slices.Contains(reindexingReasons, reason) {
			return nil, fmt.Errorf("unknown reindexing reason %q", key)
		}

		action := ReindexingAction(raw[key])
		if !slices.Contains(reindexingActions, action) {
			return nil, fmt.Errorf("unknown reindexing action %q for reason %q", raw[key], key)
		}

		policy[reason] = action
	}

	return policy, nil
}

// Action returns the configured action for reason, raise when none is set.
func (p ReindexingPolicy) Action(reason ReindexingReason) ReindexingAction {
	if action, ok := p[reason]; ok {
		return action
	}
	return ReindexingActionRaise
}
