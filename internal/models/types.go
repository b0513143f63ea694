package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SqlType is the closed set of logical column types every backend maps.
type SqlType int

const (
	Bool SqlType = iota
	Int
	BigInt
	Real
	Text
	Blob
	Json
	Timestamp
)

var sqlTypeNames = map[SqlType]string{
	Bool:      "Bool",
	Int:       "Int",
	BigInt:    "BigInt",
	Real:      "Real",
	Text:      "Text",
	Blob:      "Blob",
	Json:      "Json",
	Timestamp: "Timestamp",
}

func (t SqlType) String() string {
	if name, ok := sqlTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SqlType(%d)", int(t))
}

func (t SqlType) MarshalText() ([]byte, error) {
	name, ok := sqlTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown sql type %d", int(t))
	}
	return []byte(name), nil
}

func (t *SqlType) UnmarshalText(b []byte) error {
	for k, v := range sqlTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown sql type %q", string(b))
}

// TypeKeyKind distinguishes the two kinds of deferred type reference.
type TypeKeyKind int

const (
	// PrimaryKeyOf defers to the primary-key type of another table.
	PrimaryKeyOf TypeKeyKind = iota
	// CustomType defers to an entry of the snapshot's custom-type registry.
	CustomType
)

// TypeKey names a deferred type. It serializes as "PK:<table>" or "CT:<name>".
type TypeKey struct {
	Kind TypeKeyKind
	Name string
}

func PK(table string) TypeKey {
	return TypeKey{Kind: PrimaryKeyOf, Name: table}
}

func Custom(name string) TypeKey {
	return TypeKey{Kind: CustomType, Name: name}
}

func (k TypeKey) String() string {
	if k.Kind == PrimaryKeyOf {
		return "PK:" + k.Name
	}
	return "CT:" + k.Name
}

func (k TypeKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TypeKey) UnmarshalText(b []byte) error {
	s := string(b)
	switch {
	case strings.HasPrefix(s, "PK:"):
		*k = PK(strings.TrimPrefix(s, "PK:"))
	case strings.HasPrefix(s, "CT:"):
		*k = Custom(strings.TrimPrefix(s, "CT:"))
	default:
		return fmt.Errorf("invalid type key %q", s)
	}
	return nil
}

// TypeKind says which of the three forms a ColumnType holds.
type TypeKind int

const (
	KnownType TypeKind = iota
	NamedType
	DeferredType
)

// ColumnType is a column's type: a known SqlType, a raw backend type name
// passed through verbatim, or a deferred reference resolved later.
type ColumnType struct {
	Kind  TypeKind
	Known SqlType
	Name  string
	Key   TypeKey
}

func Known(t SqlType) ColumnType {
	return ColumnType{Kind: KnownType, Known: t}
}

func Named(name string) ColumnType {
	return ColumnType{Kind: NamedType, Name: name}
}

func Deferred(key TypeKey) ColumnType {
	return ColumnType{Kind: DeferredType, Key: key}
}

func (c ColumnType) IsDeferred() bool {
	return c.Kind == DeferredType
}

func (c ColumnType) Equal(o ColumnType) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case KnownType:
		return c.Known == o.Known
	case NamedType:
		return c.Name == o.Name
	default:
		return c.Key == o.Key
	}
}

func (c ColumnType) String() string {
	switch c.Kind {
	case KnownType:
		return c.Known.String()
	case NamedType:
		return c.Name
	default:
		return c.Key.String()
	}
}

type columnTypeJSON struct {
	Known    *SqlType `json:"Known,omitempty"`
	Name     *string  `json:"Name,omitempty"`
	Deferred *TypeKey `json:"Deferred,omitempty"`
}

func (c ColumnType) MarshalJSON() ([]byte, error) {
	var out columnTypeJSON
	switch c.Kind {
	case KnownType:
		out.Known = &c.Known
	case NamedType:
		out.Name = &c.Name
	default:
		out.Deferred = &c.Key
	}
	return json.Marshal(out)
}

func (c *ColumnType) UnmarshalJSON(b []byte) error {
	var in columnTypeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch {
	case in.Known != nil:
		*c = Known(*in.Known)
	case in.Name != nil:
		*c = Named(*in.Name)
	case in.Deferred != nil:
		*c = Deferred(*in.Deferred)
	default:
		return fmt.Errorf("column type has no variant: %s", string(b))
	}
	return nil
}
