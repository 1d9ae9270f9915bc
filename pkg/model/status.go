package model

import "fmt"

// IndexStatus is the lifecycle state of an index.
type IndexStatus string

const (
	IndexStatusNew      IndexStatus = "new"
	IndexStatusSyncing  IndexStatus = "syncing"
	IndexStatusRealtime IndexStatus = "realtime"
	IndexStatusDisabled IndexStatus = "disabled"
	IndexStatusFailed   IndexStatus = "failed"
)

// Validate returns an error if s is not a known index status.
func (s IndexStatus) Validate() error {
	switch s {
	case IndexStatusNew, IndexStatusSyncing, IndexStatusRealtime, IndexStatusDisabled, IndexStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown index status %q", string(s))
	}
}

// CanTransition reports whether moving an index from one status to another
// follows the normal lifecycle: new -> syncing -> realtime, with realtime
// falling back to syncing when the index lags behind. Any status may move to
// disabled or failed, and a failed or disabled index restarts as new.
func CanTransition(from, to IndexStatus) bool {
	if from == to {
		return true
	}

	switch to {
	case IndexStatusDisabled, IndexStatusFailed:
		return true
	case IndexStatusNew:
		return from == IndexStatusFailed || from == IndexStatusDisabled
	case IndexStatusSyncing:
		return from == IndexStatusNew || from == IndexStatusRealtime
	case IndexStatusRealtime:
		return from == IndexStatusSyncing
	default:
		return false
	}
}

// IndexType identifies the kind of datasource an index consumes.
type IndexType string

const (
	IndexTypeEVMEvents            IndexType = "evm.events"
	IndexTypeEVMTransactions      IndexType = "evm.transactions"
	IndexTypeTezosBigMaps         IndexType = "tezos.big_maps"
	IndexTypeTezosEvents          IndexType = "tezos.events"
	IndexTypeTezosHead            IndexType = "tezos.head"
	IndexTypeTezosOperations      IndexType = "tezos.operations"
	IndexTypeTezosOperationsUnfil IndexType = "tezos.operations_unfiltered"
	IndexTypeTezosTokenBalances   IndexType = "tezos.token_balances"
	IndexTypeTezosTokenTransfers  IndexType = "tezos.token_transfers"
	IndexTypeStarknetEvents       IndexType = "starknet.events"
)

var indexTypes = map[IndexType]struct{}{
	IndexTypeEVMEvents:            {},
	IndexTypeEVMTransactions:      {},
	IndexTypeTezosBigMaps:         {},
	IndexTypeTezosEvents:          {},
	IndexTypeTezosHead:            {},
	IndexTypeTezosOperations:      {},
	IndexTypeTezosOperationsUnfil: {},
	IndexTypeTezosTokenBalances:   {},
	IndexTypeTezosTokenTransfers:  {},
	IndexTypeStarknetEvents:       {},
}

// Validate returns an error if t is not a known index type.
func (t IndexType) Validate() error {
	if _, ok := indexTypes[t]; !ok {
		return fmt.Errorf("unknown index type %q", string(t))
	}
	return nil
}

// ContractKind is the chain family a contract belongs to.
type ContractKind string

const (
	ContractKindTezos    ContractKind = "tezos"
	ContractKindEVM      ContractKind = "evm"
	ContractKindStarknet ContractKind = "starknet"
)

// Validate returns an error if k is not a known contract kind.
func (k ContractKind) Validate() error {
	switch k {
	case ContractKindTezos, ContractKindEVM, ContractKindStarknet:
		return nil
	default:
		return fmt.Errorf("unknown contract kind %q", string(k))
	}
}
