package versioning

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/goran-ethernal/ChainRewind/pkg/model"
	"github.com/russross/meddler"
)

// Column describes a persisted column of an entity type.
type Column struct {
	Name string
	Kind Kind
}

// Model is the type erased view of an entity descriptor used by the change
// log, the revert engine and the registry.
type Model interface {
	// Name is the entity type name recorded in change log entries.
	Name() string
	// Table is the table rows of this type are stored in.
	Table() string
	// PrimaryKey is the name of the primary key column.
	PrimaryKey() string
	// Columns returns every persisted column, primary key included.
	Columns() []Column
	// VersionedColumns returns the persisted columns minus the primary key.
	VersionedColumns() []string
	// Column returns the column with the given name.
	Column(name string) (Column, bool)
	// ParsePK converts a primary key rendered by PKString back to its storage value.
	ParsePK(pk string) (any, error)
}

// Option configures a descriptor.
type Option func(*descriptorOptions)

type descriptorOptions struct {
	kinds map[string]Kind
}

// WithColumnKind overrides the inferred storage kind of a column.
func WithColumnKind(column string, kind Kind) Option {
	return func(o *descriptorOptions) {
		o.kinds[column] = kind
	}
}

// Descriptor holds the persisted layout of an entity type T.
// It is built once per type and shared by every instance.
type Descriptor[T any] struct {
	name      string
	table     string
	pk        string
	columns   []Column
	index     map[string]int
	versioned []string
}

var _ Model = (*Descriptor[struct{}])(nil)

// NewDescriptor inspects the meddler tags of T and builds its descriptor.
// pk names the primary key column, which must be a text, integer or decimal column.
func NewDescriptor[T any](name, table, pk string, opts ...Option) (*Descriptor[T], error) {
	if name == "" || table == "" || pk == "" {
		return nil, fmt.Errorf("descriptor requires a name, a table and a primary key column")
	}

	options := descriptorOptions{kinds: make(map[string]Kind)}
	for _, opt := range opts {
		opt(&options)
	}

	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity %s: %s is not a struct", name, t)
	}

	inferred, err := inferColumns(t, options.kinds)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", name, err)
	}

	// meddler decides the column order used by Values, so it is the source of truth
	names, err := meddler.Columns(new(T), true)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", name, err)
	}

	d := &Descriptor[T]{
		name:    name,
		table:   table,
		pk:      pk,
		columns: make([]Column, 0, len(names)),
		index:   make(map[string]int, len(names)),
	}

	for _, column := range names {
		kind, ok := inferred[column]
		if !ok {
			return nil, fmt.Errorf("entity %s: column %s has no matching field", name, column)
		}
		d.index[column] = len(d.columns)
		d.columns = append(d.columns, Column{Name: column, Kind: kind})
		if column != pk {
			d.versioned = append(d.versioned, column)
		}
	}

	for column := range options.kinds {
		if _, ok := d.index[column]; !ok {
			return nil, fmt.Errorf("entity %s: kind override for unknown column %s", name, column)
		}
	}

	pkColumn, ok := d.Column(pk)
	if !ok {
		return nil, fmt.Errorf("entity %s: primary key column %s is not persisted", name, pk)
	}
	if !slices.Contains([]Kind{KindText, KindInteger, KindDecimal}, pkColumn.Kind) {
		return nil, fmt.Errorf("entity %s: primary key column %s has unsupported kind %s", name, pk, pkColumn.Kind)
	}

	return d, nil
}

// MustDescriptor is like NewDescriptor but panics on error.
// It is meant for package level descriptor variables.
func MustDescriptor[T any](name, table, pk string, opts ...Option) *Descriptor[T] {
	d, err := NewDescriptor[T](name, table, pk, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func inferColumns(t reflect.Type, overrides map[string]Kind) (map[string]Kind, error) {
	kinds := make(map[string]Kind, t.NumField())

	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("meddler")
		if tag == "-" {
			continue
		}

		column, converter := field.Name, ""
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				column = parts[0]
			}
			for _, part := range parts[1:] {
				if part != "pk" {
					converter = part
				}
			}
		}

		if kind, ok := overrides[column]; ok {
			kinds[column] = kind
			continue
		}

		kind, err := kindOf(field, converter)
		if err != nil {
			return nil, err
		}
		kinds[column] = kind
	}

	return kinds, nil
}

func (d *Descriptor[T]) Name() string       { return d.name }
func (d *Descriptor[T]) Table() string      { return d.table }
func (d *Descriptor[T]) PrimaryKey() string { return d.pk }

func (d *Descriptor[T]) Columns() []Column {
	return slices.Clone(d.columns)
}

func (d *Descriptor[T]) VersionedColumns() []string {
	return slices.Clone(d.versioned)
}

func (d *Descriptor[T]) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.columns[i], true
}

// ParsePK converts the string form of a primary key to its storage value.
func (d *Descriptor[T]) ParsePK(pk string) (any, error) {
	column, _ := d.Column(d.pk)
	if column.Kind == KindInteger {
		v, err := strconv.ParseInt(pk, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entity %s: invalid integer primary key %q: %w", d.name, pk, err)
		}
		return v, nil
	}

	return pk, nil
}

// Row returns every persisted column of rec with its storage value, in column order.
// Storage values are the output of the meddler converters, normalized to
// nil, int64, float64, bool, []byte, string or time.Time.
func (d *Descriptor[T]) Row(rec *T) ([]string, []any, error) {
	raw, err := meddler.Values(rec, true)
	if err != nil {
		return nil, nil, fmt.Errorf("entity %s: %w", d.name, err)
	}
	if len(raw) != len(d.columns) {
		return nil, nil, fmt.Errorf("entity %s: expected %d values, got %d", d.name, len(d.columns), len(raw))
	}

	columns := make([]string, len(d.columns))
	values := make([]any, len(d.columns))
	for i, column := range d.columns {
		v, err := driver.DefaultParameterConverter.ConvertValue(raw[i])
		if err != nil {
			return nil, nil, fmt.Errorf("entity %s: column %s: %w", d.name, column.Name, err)
		}
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		columns[i] = column.Name
		values[i] = v
	}

	return columns, values, nil
}

// Snapshot returns the storage values of the versioned columns of rec.
func (d *Descriptor[T]) Snapshot(rec *T) (Snapshot, error) {
	columns, values, err := d.Row(rec)
	if err != nil {
		return nil, err
	}

	snapshot := make(Snapshot, len(d.versioned))
	for i, column := range columns {
		if column != d.pk {
			snapshot[column] = values[i]
		}
	}

	return snapshot, nil
}

// PK returns the storage value of the primary key of rec.
func (d *Descriptor[T]) PK(rec *T) (any, error) {
	columns, values, err := d.Row(rec)
	if err != nil {
		return nil, err
	}

	return values[slices.Index(columns, d.pk)], nil
}

// PKString renders the primary key of rec the way it is stored in change log
// entries. Unset keys yield model.ErrMissingPK.
func (d *Descriptor[T]) PKString(rec *T) (string, error) {
	pk, err := d.PK(rec)
	if err != nil {
		return "", err
	}

	return FormatPK(pk)
}

// FormatPK renders a primary key storage value.
// Zero integers, empty strings and nil are considered unset.
func FormatPK(pk any) (string, error) {
	switch v := pk.(type) {
	case int64:
		if v == 0 {
			return "", model.ErrMissingPK
		}
		return strconv.FormatInt(v, 10), nil
	case string:
		if v == "" {
			return "", model.ErrMissingPK
		}
		return v, nil
	case nil:
		return "", model.ErrMissingPK
	default:
		return "", fmt.Errorf("unsupported primary key value %T", pk)
	}
}

// Wrap returns a versioned view of rec. Persisted records capture their
// current snapshot as the original state.
func (d *Descriptor[T]) Wrap(rec *T, persisted bool) (*Versioned[T], error) {
	v := &Versioned[T]{Record: rec, desc: d, persisted: persisted}
	if persisted {
		if err := v.MarkPersisted(); err != nil {
			return nil, err
		}
	}

	return v, nil
}
