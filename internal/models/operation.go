package models

import "fmt"

// Operation is one schema change. The set of implementations is closed;
// emitters switch over it exhaustively.
type Operation interface {
	operation()
	// TableName is the table the operation targets.
	TableName() string
	String() string
}

type CreateTable struct {
	Table *TableSpec
}

// CreateTableIfNotExists is used for tables shared across the whole
// migration history, such as the bookkeeping table.
type CreateTableIfNotExists struct {
	Table *TableSpec
}

// DropTable carries the dropped table so the operation can be inverted.
type DropTable struct {
	Table *TableSpec
}

type RenameTable struct {
	From string
	To   string
}

type AddColumn struct {
	Table  string
	Column ColumnSpec
}

// RemoveColumn carries the removed column so the operation can be inverted.
type RemoveColumn struct {
	Table  string
	Column ColumnSpec
}

// ChangeColumn replaces Old with New. Differing names express a rename.
type ChangeColumn struct {
	Table string
	Old   ColumnSpec
	New   ColumnSpec
}

// AddTableConstraints adds the foreign keys of a freshly created table.
type AddTableConstraints struct {
	Table *TableSpec
}

// RemoveTableConstraints drops the foreign keys of a table about to be dropped.
type RemoveTableConstraints struct {
	Table *TableSpec
}

func (CreateTable) operation()            {}
func (CreateTableIfNotExists) operation() {}
func (DropTable) operation()              {}
func (RenameTable) operation()            {}
func (AddColumn) operation()              {}
func (RemoveColumn) operation()           {}
func (ChangeColumn) operation()           {}
func (AddTableConstraints) operation()    {}
func (RemoveTableConstraints) operation() {}

func (o CreateTable) TableName() string            { return o.Table.Name }
func (o CreateTableIfNotExists) TableName() string { return o.Table.Name }
func (o DropTable) TableName() string              { return o.Table.Name }
func (o RenameTable) TableName() string            { return o.From }
func (o AddColumn) TableName() string              { return o.Table }
func (o RemoveColumn) TableName() string           { return o.Table }
func (o ChangeColumn) TableName() string           { return o.Table }
func (o AddTableConstraints) TableName() string    { return o.Table.Name }
func (o RemoveTableConstraints) TableName() string { return o.Table.Name }

func (o CreateTable) String() string { return "CreateTable(" + o.Table.Name + ")" }
func (o CreateTableIfNotExists) String() string {
	return "CreateTableIfNotExists(" + o.Table.Name + ")"
}
func (o DropTable) String() string   { return "DropTable(" + o.Table.Name + ")" }
func (o RenameTable) String() string { return fmt.Sprintf("RenameTable(%s, %s)", o.From, o.To) }
func (o AddColumn) String() string {
	return fmt.Sprintf("AddColumn(%s, %s)", o.Table, o.Column.Name)
}
func (o RemoveColumn) String() string {
	return fmt.Sprintf("RemoveColumn(%s, %s)", o.Table, o.Column.Name)
}
func (o ChangeColumn) String() string {
	return fmt.Sprintf("ChangeColumn(%s, %s -> %s)", o.Table, o.Old.Name, o.New.Name)
}
func (o AddTableConstraints) String() string {
	return "AddTableConstraints(" + o.Table.Name + ")"
}
func (o RemoveTableConstraints) String() string {
	return "RemoveTableConstraints(" + o.Table.Name + ")"
}

// Invert returns the operation that undoes op. CreateTableIfNotExists has
// no inverse: shared tables are never dropped by a rollback.
func Invert(op Operation) (Operation, bool) {
	switch o := op.(type) {
	case CreateTable:
		return DropTable{Table: o.Table}, true
	case DropTable:
		return CreateTable{Table: o.Table}, true
	case RenameTable:
		return RenameTable{From: o.To, To: o.From}, true
	case AddColumn:
		return RemoveColumn{Table: o.Table, Column: o.Column}, true
	case RemoveColumn:
		return AddColumn{Table: o.Table, Column: o.Column}, true
	case ChangeColumn:
		return ChangeColumn{Table: o.Table, Old: o.New, New: o.Old}, true
	case AddTableConstraints:
		return RemoveTableConstraints{Table: o.Table}, true
	case RemoveTableConstraints:
		return AddTableConstraints{Table: o.Table}, true
	default:
		return nil, false
	}
}

// InvertAll returns the inverse of a whole operation list, in reverse order.
func InvertAll(ops []Operation) []Operation {
	out := make([]Operation, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		if inv, ok := Invert(ops[i]); ok {
			out = append(out, inv)
		}
	}
	return out
}
