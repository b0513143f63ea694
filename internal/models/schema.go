package models

import (
	"sort"
)

// ForeignKeyRef points a column at a column of another table.
type ForeignKeyRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

type ColumnSpec struct {
	Name      string         `json:"name"`
	Type      ColumnType     `json:"sqltype"`
	Nullable  bool           `json:"nullable"`
	PK        bool           `json:"pk"`
	Auto      bool           `json:"auto"`
	Unique    bool           `json:"unique"`
	Default   *Value         `json:"default,omitempty"`
	Reference *ForeignKeyRef `json:"reference,omitempty"`
}

// Equal compares every attribute, including the name.
func (c ColumnSpec) Equal(o ColumnSpec) bool {
	if c.Name != o.Name || !c.Type.Equal(o.Type) {
		return false
	}
	if c.Nullable != o.Nullable || c.PK != o.PK || c.Auto != o.Auto || c.Unique != o.Unique {
		return false
	}
	if (c.Default == nil) != (o.Default == nil) {
		return false
	}
	if c.Default != nil && !c.Default.Equal(*o.Default) {
		return false
	}
	if (c.Reference == nil) != (o.Reference == nil) {
		return false
	}
	return c.Reference == nil || *c.Reference == *o.Reference
}

// DefaultOrZero returns the column default, falling back to NULL for nullable
// columns and to the type's zero value otherwise.
func (c ColumnSpec) DefaultOrZero() Value {
	if c.Default != nil {
		return *c.Default
	}
	if c.Nullable || c.Type.Kind != KnownType {
		return Null()
	}
	return ZeroValue(c.Type.Known)
}

func (c ColumnSpec) clone() ColumnSpec {
	out := c
	if c.Default != nil {
		d := *c.Default
		out.Default = &d
	}
	if c.Reference != nil {
		r := *c.Reference
		out.Reference = &r
	}
	return out
}

// TableSpec is a named set of columns. Column order is the declaration order
// used by CREATE TABLE; comparisons treat the columns as a set.
type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

func (t *TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

func (t *TableSpec) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// PrimaryKey returns the primary-key column, if any.
func (t *TableSpec) PrimaryKey() (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.PK {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

func (t *TableSpec) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// References returns the distinct tables this table points at.
func (t *TableSpec) References() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range t.Columns {
		if c.Reference != nil && !seen[c.Reference.Table] {
			seen[c.Reference.Table] = true
			out = append(out, c.Reference.Table)
		}
	}
	sort.Strings(out)
	return out
}

func (t *TableSpec) HasForeignKeys() bool {
	for _, c := range t.Columns {
		if c.Reference != nil {
			return true
		}
	}
	return false
}

func (t *TableSpec) Equal(o *TableSpec) bool {
	if t.Name != o.Name || len(t.Columns) != len(o.Columns) {
		return false
	}
	for _, c := range t.Columns {
		oc, ok := o.Column(c.Name)
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	return true
}

func (t *TableSpec) Clone() *TableSpec {
	out := &TableSpec{Name: t.Name, Columns: make([]ColumnSpec, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = c.clone()
	}
	return out
}

func (t *TableSpec) addColumn(col ColumnSpec) {
	t.Columns = append(t.Columns, col.clone())
}

func (t *TableSpec) removeColumn(name string) {
	kept := t.Columns[:0]
	for _, c := range t.Columns {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	t.Columns = kept
}

// replaceColumn swaps the column called oldName for col, keeping its position.
func (t *TableSpec) replaceColumn(oldName string, col ColumnSpec) {
	for i, c := range t.Columns {
		if c.Name == oldName {
			t.Columns[i] = col.clone()
			return
		}
	}
	t.addColumn(col)
}
