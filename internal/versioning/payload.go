package versioning

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// EncodeData serializes a snapshot into the JSON payload of a change log entry.
func EncodeData(m Model, data Snapshot) ([]byte, error) {
	out := make(map[string]any, len(data))

	for name, value := range data {
		column, ok := m.Column(name)
		if !ok {
			return nil, fmt.Errorf("entity %s: unknown column %s", m.Name(), name)
		}

		encoded, err := encodeValue(column, value)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", m.Name(), err)
		}
		out[name] = encoded
	}

	return json.Marshal(out)
}

func encodeValue(column Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch column.Kind {
	case KindTime:
		if t, ok := value.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	case KindJSON:
		if b, ok := value.([]byte); ok {
			if !json.Valid(b) {
				return nil, fmt.Errorf("column %s: stored value is not valid JSON", column.Name)
			}
			return json.RawMessage(b), nil
		}
		if s, ok := value.(string); ok && json.Valid([]byte(s)) {
			return json.RawMessage(s), nil
		}
	}

	return value, nil
}

// DecodeData restores a snapshot from a change log payload, converting every
// value back to the storage representation of its column.
// A nil or empty payload decodes to an empty snapshot.
func DecodeData(m Model, raw []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Snapshot{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("entity %s: malformed payload: %w", m.Name(), err)
	}

	snapshot := make(Snapshot, len(fields))
	for name, value := range fields {
		column, ok := m.Column(name)
		if !ok {
			return nil, fmt.Errorf("entity %s: payload references unknown column %s", m.Name(), name)
		}

		decoded, err := decodeValue(column, value)
		if err != nil {
			return nil, fmt.Errorf("entity %s: column %s: %w", m.Name(), name, err)
		}
		snapshot[name] = decoded
	}

	return snapshot, nil
}

func decodeValue(column Column, raw json.RawMessage) (any, error) {
	if column.Kind == KindJSON {
		return []byte(raw), nil
	}

	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	switch column.Kind {
	case KindText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil

	case KindInteger:
		switch v := value.(type) {
		case json.Number:
			return v.Int64()
		case bool:
			// booleans stored in integer columns
			return v, nil
		}
		return nil, fmt.Errorf("expected integer, got %T", value)

	case KindReal:
		n, ok := value.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", value)
		}
		return n.Float64()

	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return nil, err
			}
			return i != 0, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", value)

	case KindTime:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected RFC 3339 timestamp, got %T", value)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t, nil

	case KindDecimal:
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case json.Number:
			s = v.String()
		default:
			return nil, fmt.Errorf("expected decimal, got %T", value)
		}
		if _, ok := new(big.Rat).SetString(s); !ok {
			return nil, fmt.Errorf("invalid decimal %q", s)
		}
		return s, nil

	case KindBlob:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string, got %T", value)
		}
		return base64.StdEncoding.DecodeString(s)
	}

	return nil, fmt.Errorf("unsupported column kind %s", column.Kind)
}
