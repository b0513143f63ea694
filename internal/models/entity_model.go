package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// NewTable declares a table from explicit column specs.
func NewTable(name string, columns ...ColumnSpec) *TableSpec {
	t := &TableSpec{Name: name}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

// Col starts a NOT NULL column declaration.
func Col(name string, t ColumnType) ColumnSpec {
	return ColumnSpec{Name: name, Type: t}
}

func (c ColumnSpec) AsPrimaryKey() ColumnSpec {
	c.PK = true
	c.Nullable = false
	return c
}

func (c ColumnSpec) AsAutoIncrement() ColumnSpec {
	c.Auto = true
	return c
}

func (c ColumnSpec) AsUnique() ColumnSpec {
	c.Unique = true
	return c
}

func (c ColumnSpec) AsNullable() ColumnSpec {
	c.Nullable = true
	return c
}

func (c ColumnSpec) WithDefault(v Value) ColumnSpec {
	c.Default = &v
	return c
}

func (c ColumnSpec) WithReference(table, column string) ColumnSpec {
	c.Reference = &ForeignKeyRef{Table: table, Column: column}
	return c
}

// EntityModel is a table declaration derived from a Go struct, plus the
// column renames requested through `old_name` tags and the association
// tables its `many` fields declare.
type EntityModel struct {
	Table        *TableSpec
	Renames      map[string]string
	Associations []Association
}

// ManySuffix ends the name of every association table.
const ManySuffix = "_Many"

// Association links rows of Owner to rows of Target through a table with
// an owner column and a has column. The table has no primary key.
type Association struct {
	Field     string
	Owner     string
	OwnerKey  string
	Target    string
	TargetKey string
	Table     *TableSpec
}

// Association returns the association declared by the field with the given
// Go or column name.
func (m *EntityModel) Association(field string) (Association, bool) {
	for _, a := range m.Associations {
		if a.Field == field || a.Table.Name == m.Table.Name+"_"+field+ManySuffix {
			return a, true
		}
	}
	return Association{}, false
}

// Tables is the entity table followed by its association tables.
func (m *EntityModel) Tables() []*TableSpec {
	out := []*TableSpec{m.Table}
	for _, a := range m.Associations {
		out = append(out, a.Table)
	}
	return out
}

type tableNamer interface {
	TableName() string
}

// NewEntityModel reads a struct's exported fields. Field tags are read from
// `schemaflow` and `gorm`, as `key` or `key:value` pairs separated by ';':
// primary_key, auto, unique, not_null, nullable, default:<v>, column:<name>,
// type:<backend type>, custom:<registry key>, references:<Table>[.<column>],
// old_name:<previous column name>, many:<Table>[.<column>].
//
// A many field is not a column: it declares the table
// <Owner>_<column>_Many, whose owner column holds the entity's primary key
// and whose has column holds the target's. Mark the field `gorm:"-"` so
// inserts skip it.
func NewEntityModel(entity any) (*EntityModel, error) {
	entityType := reflect.TypeOf(entity)
	if entityType == nil {
		return nil, fmt.Errorf("entity must be a struct, got nil")
	}
	if entityType.Kind() == reflect.Ptr {
		entityType = entityType.Elem()
	}
	if entityType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity must be a struct, got %s", entityType.Kind())
	}

	name := entityType.Name()
	if namer, ok := entity.(tableNamer); ok {
		name = namer.TableName()
	}

	model := &EntityModel{
		Table:   &TableSpec{Name: name},
		Renames: make(map[string]string),
	}

	for i := 0; i < entityType.NumField(); i++ {
		field := entityType.Field(i)
		if field.PkgPath != "" {
			continue
		}
		if target, ok := manyTarget(field); ok {
			model.Associations = append(model.Associations, Association{
				Field:     field.Name,
				Target:    target,
				TargetKey: "id",
			})
			continue
		}
		col, oldName, err := parseFieldModel(field)
		if err != nil {
			return nil, fmt.Errorf("failed to declare %s.%s: %w", name, field.Name, err)
		}
		if col == nil {
			continue
		}
		model.Table.addColumn(*col)
		if oldName != "" {
			model.Renames[oldName] = col.Name
		}
	}

	if len(model.Associations) > 0 {
		if err := model.declareAssociations(entityType); err != nil {
			return nil, err
		}
	}
	return model, nil
}

func manyTarget(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("schemaflow")
	if tag == "" || tag == "-" {
		return "", false
	}
	tags := make(map[string]string)
	parseTags(tag, tags)
	target, ok := tags["many"]
	return target, ok
}

func (m *EntityModel) declareAssociations(entityType reflect.Type) error {
	var ownerKey string
	for _, c := range m.Table.Columns {
		if c.PK {
			ownerKey = c.Name
			break
		}
	}
	for i := range m.Associations {
		a := &m.Associations[i]
		if ownerKey == "" {
			return fmt.Errorf("failed to declare %s.%s: many requires a primary key on %s", m.Table.Name, a.Field, m.Table.Name)
		}
		if a.Target == "" {
			return fmt.Errorf("failed to declare %s.%s: many requires a target table", m.Table.Name, a.Field)
		}
		if table, column, found := strings.Cut(a.Target, "."); found {
			a.Target, a.TargetKey = table, column
		}
		field, _ := entityType.FieldByName(a.Field)
		column := toSnakeCase(a.Field)
		tags := make(map[string]string)
		parseTags(field.Tag.Get("schemaflow"), tags)
		if name, ok := tags["column"]; ok {
			column = name
		}
		a.Owner = m.Table.Name
		a.OwnerKey = ownerKey
		a.Table = NewTable(m.Table.Name+"_"+column+ManySuffix,
			Col("owner", Deferred(PK(m.Table.Name))),
			Col("has", Deferred(PK(a.Target))),
		)
	}
	return nil
}

// SnapshotFromEntities declares one table per struct. The returned map holds
// the column renames per table, keyed by previous column name.
func SnapshotFromEntities(entities ...any) (*Snapshot, map[string]map[string]string, error) {
	snapshot := NewSnapshot()
	renames := make(map[string]map[string]string)
	for _, entity := range entities {
		model, err := NewEntityModel(entity)
		if err != nil {
			return nil, nil, err
		}
		for _, table := range model.Tables() {
			if _, exists := snapshot.Tables[table.Name]; exists {
				return nil, nil, fmt.Errorf("table %s declared twice", table.Name)
			}
			snapshot.Tables[table.Name] = table
		}
		if len(model.Renames) > 0 {
			renames[model.Table.Name] = model.Renames
		}
	}
	return snapshot, renames, nil
}

func parseFieldModel(field reflect.StructField) (*ColumnSpec, string, error) {
	tags := make(map[string]string)
	if tag := field.Tag.Get("schemaflow"); tag != "" {
		if tag == "-" {
			return nil, "", nil
		}
		parseTags(tag, tags)
	}
	if tag := field.Tag.Get("gorm"); tag != "" {
		parseTags(tag, tags)
	}

	col := ColumnSpec{
		Name:     toSnakeCase(field.Name),
		Nullable: isNullableType(field.Type),
	}
	if name, ok := tags["column"]; ok {
		col.Name = name
	}

	switch {
	case tags["type"] != "":
		col.Type = Named(tags["type"])
	case tags["custom"] != "":
		col.Type = Deferred(Custom(tags["custom"]))
	default:
		sqlType, ok := mapGoTypeToSQL(field.Type)
		if !ok {
			return nil, "", fmt.Errorf("unsupported field type %s", field.Type)
		}
		col.Type = Known(sqlType)
	}

	if ref, ok := tags["references"]; ok {
		table, column, found := strings.Cut(ref, ".")
		if !found {
			column = "id"
		}
		col.Reference = &ForeignKeyRef{Table: table, Column: column}
		if tags["type"] == "" && tags["custom"] == "" {
			col.Type = Deferred(PK(table))
		}
	}

	if hasTag(tags, "primary_key", "primaryKey") {
		col.PK = true
		col.Nullable = false
	}
	if hasTag(tags, "auto", "autoIncrement") {
		col.Auto = true
	}
	if _, ok := tags["unique"]; ok {
		col.Unique = true
	}
	if _, ok := tags["not_null"]; ok {
		col.Nullable = false
	}
	if _, ok := tags["nullable"]; ok {
		col.Nullable = true
	}

	if raw, ok := tags["default"]; ok {
		if col.Type.Kind != KnownType {
			return nil, "", fmt.Errorf("default requires a known column type")
		}
		v, err := ParseValue(col.Type.Known, raw)
		if err != nil {
			return nil, "", err
		}
		col.Default = &v
	}

	return &col, tags["old_name"], nil
}

// ParseValue converts the text form of a default into a typed value.
func ParseValue(t SqlType, raw string) (Value, error) {
	if strings.EqualFold(raw, "null") {
		return Null(), nil
	}
	switch t {
	case Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool default %q: %w", raw, err)
		}
		return BoolVal(b), nil
	case Int:
		i, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid int default %q: %w", raw, err)
		}
		return IntVal(int32(i)), nil
	case BigInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bigint default %q: %w", raw, err)
		}
		return BigIntVal(i), nil
	case Real:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid real default %q: %w", raw, err)
		}
		return RealVal(f), nil
	case Text:
		return TextVal(strings.Trim(raw, "'")), nil
	case Blob:
		return BlobVal([]byte(raw)), nil
	case Json:
		if !json.Valid([]byte(raw)) {
			return Value{}, fmt.Errorf("invalid json default %q", raw)
		}
		return JsonVal(raw), nil
	default:
		ts, err := time.Parse(TimestampLayout, raw)
		if err != nil {
			return Value{}, fmt.Errorf("invalid timestamp default %q: %w", raw, err)
		}
		return TimestampVal(ts), nil
	}
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	rawJSONType = reflect.TypeOf(json.RawMessage{})
)

func mapGoTypeToSQL(t reflect.Type) (SqlType, bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return Timestamp, true
	case t == rawJSONType:
		return Json, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool, true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return Int, true
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64:
		return BigInt, true
	case reflect.Float32, reflect.Float64:
		return Real, true
	case reflect.String:
		return Text, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Blob, true
		}
	case reflect.Map, reflect.Struct:
		return Json, true
	}
	return 0, false
}

func parseTags(tagStr string, tags map[string]string) {
	parts := strings.Split(tagStr, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, ":") {
			kv := strings.SplitN(part, ":", 2)
			tags[kv[0]] = kv[1]
		} else {
			tags[part] = ""
		}
	}
}

func hasTag(tags map[string]string, names ...string) bool {
	for _, n := range names {
		if _, ok := tags[n]; ok {
			return true
		}
	}
	return false
}

func isNullableType(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr ||
		t.Kind() == reflect.Interface ||
		t.Kind() == reflect.Map
}

func toSnakeCase(str string) string {
	var result strings.Builder
	var prev rune
	for i, r := range str {
		if i > 0 && r >= 'A' && r <= 'Z' && (prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9') {
			result.WriteRune('_')
		}
		result.WriteRune(r)
		prev = r
	}
	return strings.ToLower(result.String())
}
