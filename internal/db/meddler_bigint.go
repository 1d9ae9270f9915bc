package db

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/russross/meddler"
)

func init() {
	meddler.Register("bigint", BigIntMeddler{})
}

// BigIntMeddler stores *big.Int values as base 10 strings so uint256 amounts
// survive the round trip without loss.
type BigIntMeddler struct{}

func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (b BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **big.Int:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		value, ok := new(big.Int).SetString(ns.String, 10)
		if !ok {
			return fmt.Errorf("invalid big integer %q", ns.String)
		}
		*ptr = value
		return nil

	case *big.Int:
		if !ns.Valid {
			ptr.SetInt64(0)
			return nil
		}
		if _, ok := ptr.SetString(ns.String, 10); !ok {
			return fmt.Errorf("invalid big integer %q", ns.String)
		}
		return nil
	}

	return fmt.Errorf("expected *big.Int or **big.Int, got %T", fieldAddr)
}

func (b BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch value := field.(type) {
	case *big.Int:
		if value == nil {
			return nil, nil
		}
		return value.String(), nil
	case big.Int:
		return value.String(), nil
	}

	return nil, fmt.Errorf("expected big.Int or *big.Int, got %T", field)
}
