// Package chainmeta holds the built-in versioned models storing off-chain
// metadata of contracts and tokens. Their mutations are recorded in the
// change log like any entity, so a rollback also restores metadata.
package chainmeta

import (
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/versioning"
)

// ContractMetadata is the metadata document of a contract on a network.
// (network, contract) is unique.
type ContractMetadata struct {
	ID        int64          `meddler:"id,pk"`
	Network   string         `meddler:"network"`
	Contract  string         `meddler:"contract"`
	Metadata  map[string]any `meddler:"metadata,json"`
	UpdateID  int64          `meddler:"update_id"`
	CreatedAt time.Time      `meddler:"created_at,utctime"`
	UpdatedAt time.Time      `meddler:"updated_at,utctime"`
}

// TokenMetadata is the metadata document of a single token of a contract.
// (network, contract, token_id) is unique.
type TokenMetadata struct {
	ID        int64          `meddler:"id,pk"`
	Network   string         `meddler:"network"`
	Contract  string         `meddler:"contract"`
	TokenID   string         `meddler:"token_id"`
	Metadata  map[string]any `meddler:"metadata,json"`
	UpdateID  int64          `meddler:"update_id"`
	CreatedAt time.Time      `meddler:"created_at,utctime"`
	UpdatedAt time.Time      `meddler:"updated_at,utctime"`
}

const (
	ContractMetadataTable = "rewind_contract_metadata"
	TokenMetadataTable    = "rewind_token_metadata"
)

var (
	ContractMetadataModel = versioning.MustDescriptor[ContractMetadata]("rewind.contract_metadata", ContractMetadataTable, "id")
	TokenMetadataModel    = versioning.MustDescriptor[TokenMetadata]("rewind.token_metadata", TokenMetadataTable, "id")
)

// Models returns the descriptors of the built-in metadata models.
func Models() []versioning.Model {
	return []versioning.Model{ContractMetadataModel, TokenMetadataModel}
}
