package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from IndexStatus
		to   IndexStatus
		want bool
	}{
		{IndexStatusNew, IndexStatusSyncing, true},
		{IndexStatusSyncing, IndexStatusRealtime, true},
		{IndexStatusRealtime, IndexStatusSyncing, true},
		{IndexStatusRealtime, IndexStatusRealtime, true},
		{IndexStatusNew, IndexStatusRealtime, false},
		{IndexStatusSyncing, IndexStatusNew, false},
		{IndexStatusNew, IndexStatusFailed, true},
		{IndexStatusRealtime, IndexStatusDisabled, true},
		{IndexStatusFailed, IndexStatusNew, true},
		{IndexStatusDisabled, IndexStatusNew, true},
		{IndexStatusFailed, IndexStatusSyncing, false},
		{IndexStatusNew, IndexStatus("paused"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEnumValidation(t *testing.T) {
	require.NoError(t, IndexStatusRealtime.Validate())
	require.Error(t, IndexStatus("paused").Validate())

	require.NoError(t, IndexTypeEVMEvents.Validate())
	require.NoError(t, IndexTypeStarknetEvents.Validate())
	require.Error(t, IndexType("evm.blocks").Validate())

	require.NoError(t, ContractKindEVM.Validate())
	require.Error(t, ContractKind("solana").Validate())

	require.NoError(t, ActionDelete.Validate())
	err := Action("UPSERT").Validate()
	require.ErrorIs(t, err, ErrUnknownAction)
	require.True(t, IsProgrammerError(err))
}

func TestRollbackMessage_Depth(t *testing.T) {
	require.Equal(t, uint64(5), RollbackMessage{FromLevel: 105, ToLevel: 100}.Depth())
	require.Equal(t, uint64(0), RollbackMessage{FromLevel: 100, ToLevel: 100}.Depth())
	require.Equal(t, uint64(0), RollbackMessage{FromLevel: 90, ToLevel: 100}.Depth())
}
