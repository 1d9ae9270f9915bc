package chainmeta

import (
	"context"
	"database/sql"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/internal/repository"
	"github.com/goran-ethernal/ChainRewind/internal/scope"
	"github.com/goran-ethernal/ChainRewind/internal/versioning"
)

// Store reads and updates contract and token metadata through versioned
// repositories.
type Store struct {
	contracts *repository.Repository[ContractMetadata]
	tokens    *repository.Repository[TokenMetadata]
	log       *logger.Logger
}

// NewStore creates a metadata model store on sqlDB.
func NewStore(sqlDB *sql.DB, log *logger.Logger) *Store {
	return &Store{
		contracts: repository.New(sqlDB, ContractMetadataModel, log),
		tokens:    repository.New(sqlDB, TokenMetadataModel, log),
		log:       log,
	}
}

// Contract returns the metadata of contract on network, or nil when none is stored.
func (s *Store) Contract(
	ctx context.Context, sc *scope.Scope, network, contract string,
) (*versioning.Versioned[ContractMetadata], error) {
	found, err := s.contracts.Find(ctx, sc, repository.Filter{
		Where: `network = ? AND contract = ?`,
		Args:  []any{network, contract},
		Limit: 1,
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Token returns the metadata of a token, or nil when none is stored.
func (s *Store) Token(
	ctx context.Context, sc *scope.Scope, network, contract, tokenID string,
) (*versioning.Versioned[TokenMetadata], error) {
	found, err := s.tokens.Find(ctx, sc, repository.Filter{
		Where: `network = ? AND contract = ? AND token_id = ?`,
		Args:  []any{network, contract, tokenID},
		Limit: 1,
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// UpdateContract stores metadata for contract, creating the row on first sight.
func (s *Store) UpdateContract(
	ctx context.Context,
	sc *scope.Scope,
	network, contract string,
	metadata map[string]any,
	updateID int64,
) error {
	now := time.Now().UTC()

	v, err := s.Contract(ctx, sc, network, contract)
	if err != nil {
		return err
	}

	if v == nil {
		_, err = s.contracts.Create(ctx, sc, &ContractMetadata{
			Network:   network,
			Contract:  contract,
			Metadata:  metadata,
			UpdateID:  updateID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	}

	v.Record.Metadata = metadata
	v.Record.UpdateID = updateID
	v.Record.UpdatedAt = now

	s.log.Debugf("updating metadata of contract %s/%s (update %d)", network, contract, updateID)
	return s.contracts.Save(ctx, sc, v)
}

// UpdateToken stores metadata for a token, creating the row on first sight.
func (s *Store) UpdateToken(
	ctx context.Context,
	sc *scope.Scope,
	network, contract, tokenID string,
	metadata map[string]any,
	updateID int64,
) error {
	now := time.Now().UTC()

	v, err := s.Token(ctx, sc, network, contract, tokenID)
	if err != nil {
		return err
	}

	if v == nil {
		_, err = s.tokens.Create(ctx, sc, &TokenMetadata{
			Network:   network,
			Contract:  contract,
			TokenID:   tokenID,
			Metadata:  metadata,
			UpdateID:  updateID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	}

	v.Record.Metadata = metadata
	v.Record.UpdateID = updateID
	v.Record.UpdatedAt = now

	s.log.Debugf("updating metadata of token %s/%s/%s (update %d)", network, contract, tokenID, updateID)
	return s.tokens.Save(ctx, sc, v)
}
