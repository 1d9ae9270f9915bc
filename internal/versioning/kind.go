package versioning

import (
	"database/sql"
	"fmt"
	"math/big"
	"reflect"
	"time"
)

// Kind is the storage representation of a column. It drives how snapshot
// values are written to and read back from the change log payload.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindReal
	KindBool
	KindTime
	KindDecimal
	KindBlob
	KindJSON
)

var kindNames = map[Kind]string{
	KindText:    "text",
	KindInteger: "integer",
	KindReal:    "real",
	KindBool:    "bool",
	KindTime:    "time",
	KindDecimal: "decimal",
	KindBlob:    "blob",
	KindJSON:    "json",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	bigIntType   = reflect.TypeOf(big.Int{})
	nullString   = reflect.TypeOf(sql.NullString{})
	nullInt64    = reflect.TypeOf(sql.NullInt64{})
	nullInt32    = reflect.TypeOf(sql.NullInt32{})
	nullInt16    = reflect.TypeOf(sql.NullInt16{})
	nullByte     = reflect.TypeOf(sql.NullByte{})
	nullFloat64  = reflect.TypeOf(sql.NullFloat64{})
	nullBool     = reflect.TypeOf(sql.NullBool{})
	nullTime     = reflect.TypeOf(sql.NullTime{})
	converterMap = map[string]Kind{
		"address":    KindText,
		"hash":       KindText,
		"bigint":     KindDecimal,
		"utctime":    KindTime,
		"localtime":  KindTime,
		"json":       KindJSON,
		"jsongzip":   KindBlob,
		"gob":        KindBlob,
		"gobgzip":    KindBlob,
		"identity":   -1,
		"zeroisnull": -1,
	}
)

// kindOf infers the storage kind of a field from its meddler converter and Go type.
func kindOf(field reflect.StructField, converter string) (Kind, error) {
	if converter != "" {
		kind, ok := converterMap[converter]
		if !ok {
			return 0, fmt.Errorf("field %s: unknown meddler converter %q, set the column kind explicitly", field.Name, converter)
		}
		if kind >= 0 {
			return kind, nil
		}
	}

	t := field.Type
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t {
	case timeType, nullTime:
		return KindTime, nil
	case bigIntType:
		return KindDecimal, nil
	case nullString:
		return KindText, nil
	case nullInt64, nullInt32, nullInt16, nullByte:
		return KindInteger, nil
	case nullFloat64:
		return KindReal, nil
	case nullBool:
		return KindBool, nil
	}

	switch t.Kind() {
	case reflect.String:
		return KindText, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInteger, nil
	case reflect.Float32, reflect.Float64:
		return KindReal, nil
	case reflect.Bool:
		return KindBool, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBlob, nil
		}
	}

	return 0, fmt.Errorf("field %s: cannot infer column kind of %s, set the column kind explicitly", field.Name, field.Type)
}
