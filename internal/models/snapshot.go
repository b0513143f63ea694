package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
)

// Snapshot is the complete schema at one point in history: tables by name
// plus the custom-type registry. Operations never mutate a snapshot; Apply
// returns a new one.
type Snapshot struct {
	Tables map[string]*TableSpec  `json:"tables"`
	Types  map[TypeKey]ColumnType `json:"types,omitempty"`
}

func NewSnapshot(tables ...*TableSpec) *Snapshot {
	s := &Snapshot{
		Tables: make(map[string]*TableSpec, len(tables)),
		Types:  make(map[TypeKey]ColumnType),
	}
	for _, t := range tables {
		s.Tables[t.Name] = t.Clone()
	}
	return s
}

// LoadSnapshot reads a snapshot document written by SaveSnapshot or by a
// schema declaration tool.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	s.normalize()
	return &s, nil
}

func SaveSnapshot(path string, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func (s *Snapshot) normalize() {
	if s.Tables == nil {
		s.Tables = make(map[string]*TableSpec)
	}
	if s.Types == nil {
		s.Types = make(map[TypeKey]ColumnType)
	}
	for name, t := range s.Tables {
		if t.Name == "" {
			t.Name = name
		}
	}
}

// WithType returns a copy with a custom type registered.
func (s *Snapshot) WithType(key TypeKey, t ColumnType) *Snapshot {
	out := s.Clone()
	out.Types[key] = t
	return out
}

func (s *Snapshot) Table(name string) (*TableSpec, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// TableNames returns the table names in sorted order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Tables: make(map[string]*TableSpec, len(s.Tables)),
		Types:  make(map[TypeKey]ColumnType, len(s.Types)),
	}
	for name, t := range s.Tables {
		out.Tables[name] = t.Clone()
	}
	for k, v := range s.Types {
		out.Types[k] = v
	}
	return out
}

// Equal compares tables and custom types. The "PK:<table>" entries
// ResolveTypes derives from the tables are not compared.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if len(s.Tables) != len(o.Tables) {
		return false
	}
	for name, t := range s.Tables {
		ot, ok := o.Tables[name]
		if !ok || !t.Equal(ot) {
			return false
		}
	}
	types, otherTypes := s.customTypes(), o.customTypes()
	if len(types) != len(otherTypes) {
		return false
	}
	for k, v := range types {
		ov, ok := otherTypes[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// customTypes drops the derived primary-key entries from Types.
func (s *Snapshot) customTypes() map[TypeKey]ColumnType {
	out := make(map[TypeKey]ColumnType, len(s.Types))
	for k, v := range s.Types {
		if k.Kind == PrimaryKeyOf {
			continue
		}
		out[k] = v
	}
	return out
}

// Validate checks that every foreign key points at an existing column and
// that no table declares more than one primary key.
func (s *Snapshot) Validate() error {
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		pks := 0
		for _, c := range t.Columns {
			if c.PK {
				pks++
			}
			if c.Reference == nil {
				continue
			}
			target, ok := s.Tables[c.Reference.Table]
			if !ok {
				return &dberrors.SchemaConflictError{Table: name, Column: c.Name, Reason: "references missing table " + c.Reference.Table}
			}
			if !target.HasColumn(c.Reference.Column) {
				return &dberrors.SchemaConflictError{Table: name, Column: c.Name, Reason: "references missing column " + c.Reference.Table + "." + c.Reference.Column}
			}
		}
		if pks > 1 {
			return &dberrors.SchemaConflictError{Table: name, Reason: fmt.Sprintf("%d primary-key columns declared", pks)}
		}
	}
	return nil
}

// Checksum is a stable xxh3 digest of the snapshot's JSON form, leaving out
// derived primary-key types like Equal does.
func (s *Snapshot) Checksum() (string, error) {
	data, err := json.Marshal(&Snapshot{Tables: s.Tables, Types: s.customTypes()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return strconv.FormatUint(xxh3.Hash(data), 16), nil
}

// Apply returns the snapshot that results from op.
func (s *Snapshot) Apply(op Operation) (*Snapshot, error) {
	out := s.Clone()
	switch o := op.(type) {
	case CreateTable:
		if _, exists := out.Tables[o.Table.Name]; exists {
			return nil, fmt.Errorf("table %s already exists", o.Table.Name)
		}
		out.Tables[o.Table.Name] = o.Table.Clone()
	case CreateTableIfNotExists:
		if _, exists := out.Tables[o.Table.Name]; !exists {
			out.Tables[o.Table.Name] = o.Table.Clone()
		}
	case DropTable:
		if _, exists := out.Tables[o.Table.Name]; !exists {
			return nil, fmt.Errorf("table %s does not exist", o.Table.Name)
		}
		delete(out.Tables, o.Table.Name)
	case RenameTable:
		t, exists := out.Tables[o.From]
		if !exists {
			return nil, fmt.Errorf("table %s does not exist", o.From)
		}
		delete(out.Tables, o.From)
		t.Name = o.To
		out.Tables[o.To] = t
		for _, other := range out.Tables {
			for i := range other.Columns {
				if ref := other.Columns[i].Reference; ref != nil && ref.Table == o.From {
					ref.Table = o.To
				}
			}
		}
	case AddColumn:
		t, err := out.mustTable(o.Table)
		if err != nil {
			return nil, err
		}
		if t.HasColumn(o.Column.Name) {
			return nil, fmt.Errorf("column %s.%s already exists", o.Table, o.Column.Name)
		}
		t.addColumn(o.Column)
	case RemoveColumn:
		t, err := out.mustTable(o.Table)
		if err != nil {
			return nil, err
		}
		if !t.HasColumn(o.Column.Name) {
			return nil, fmt.Errorf("column %s.%s does not exist", o.Table, o.Column.Name)
		}
		t.removeColumn(o.Column.Name)
	case ChangeColumn:
		t, err := out.mustTable(o.Table)
		if err != nil {
			return nil, err
		}
		if !t.HasColumn(o.Old.Name) {
			return nil, fmt.Errorf("column %s.%s does not exist", o.Table, o.Old.Name)
		}
		t.replaceColumn(o.Old.Name, o.New)
	case AddTableConstraints, RemoveTableConstraints:
		// Constraints live on the column specs already.
	default:
		return nil, fmt.Errorf("unknown operation %T", op)
	}
	return out, nil
}

// ApplyAll applies ops in order.
func (s *Snapshot) ApplyAll(ops []Operation) (*Snapshot, error) {
	cur := s
	for _, op := range ops {
		next, err := cur.Apply(op)
		if err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", op, err)
		}
		cur = next
	}
	return cur, nil
}

func (s *Snapshot) mustTable(name string) (*TableSpec, error) {
	t, ok := s.Tables[name]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", name)
	}
	return t, nil
}
