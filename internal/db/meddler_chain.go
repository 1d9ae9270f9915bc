package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", HexMeddler[common.Address]{parse: common.HexToAddress})
	meddler.Register("hash", HexMeddler[common.Hash]{parse: common.HexToHash})
}

// hexValue is implemented by the fixed size chain types stored as 0x prefixed hex.
type hexValue interface {
	comparable
	Hex() string
}

// HexMeddler stores a chain value such as common.Address or common.Hash as
// its hex string. Pointers map to NULL when nil.
type HexMeddler[T hexValue] struct {
	parse func(string) T
}

func (m HexMeddler[T]) PreRead(_ any) (any, error) {
	return new(sql.NullString), nil
}

func (m HexMeddler[T]) PostRead(fieldAddr, scanTarget any) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **T:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		v := m.parse(ns.String)
		*ptr = &v
	case *T:
		if !ns.Valid {
			var zero T
			*ptr = zero
			return nil
		}
		*ptr = m.parse(ns.String)
	default:
		return fmt.Errorf("expected *%T or **%T, got %T", *new(T), *new(T), fieldAddr)
	}

	return nil
}

func (m HexMeddler[T]) PreWrite(field any) (any, error) {
	switch v := field.(type) {
	case *T:
		if v == nil {
			return nil, nil
		}
		return (*v).Hex(), nil
	case T:
		return v.Hex(), nil
	}

	return nil, fmt.Errorf("expected %T or *%T, got %T", *new(T), *new(T), field)
}
