package model

import "time"

// IndexState is the persisted state of a single index.
type IndexState struct {
	Name           string         `meddler:"name"`
	Type           IndexType      `meddler:"type"`
	Status         IndexStatus    `meddler:"status"`
	ConfigHash     *string        `meddler:"config_hash"`
	Template       *string        `meddler:"template"`
	TemplateValues map[string]any `meddler:"template_values,json"`
	Level          uint64         `meddler:"level"`
	CreatedAt      time.Time      `meddler:"created_at,utctime"`
	UpdatedAt      time.Time      `meddler:"updated_at,utctime"`
}

// HeadState is the last known head of a datasource.
type HeadState struct {
	Name      string    `meddler:"name"`
	Level     uint64    `meddler:"level"`
	Hash      string    `meddler:"hash"`
	Timestamp time.Time `meddler:"timestamp,utctime"`
	CreatedAt time.Time `meddler:"created_at,utctime"`
	UpdatedAt time.Time `meddler:"updated_at,utctime"`
}

// ContractRef is a contract known to the indexer.
type ContractRef struct {
	Name      string       `meddler:"name"`
	Address   *string      `meddler:"address"`
	CodeHash  *string      `meddler:"code_hash"`
	TypeName  *string      `meddler:"typename"`
	Kind      ContractKind `meddler:"kind"`
	CreatedAt time.Time    `meddler:"created_at,utctime"`
	UpdatedAt time.Time    `meddler:"updated_at,utctime"`
}

// SchemaState tracks the hash of the materialized schema and a pending
// reindexing reason, if any.
type SchemaState struct {
	Name          string            `meddler:"name"`
	Hash          string            `meddler:"hash"`
	ReindexReason *ReindexingReason `meddler:"reindex_reason"`
	CreatedAt     time.Time         `meddler:"created_at,utctime"`
	UpdatedAt     time.Time         `meddler:"updated_at,utctime"`
}

// MetaEntry is a free-form key/value pair with a JSON value.
type MetaEntry struct {
	Key       string    `meddler:"key"`
	Value     any       `meddler:"value,json"`
	CreatedAt time.Time `meddler:"created_at,utctime"`
	UpdatedAt time.Time `meddler:"updated_at,utctime"`
}
