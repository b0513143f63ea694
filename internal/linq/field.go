package linq

import "github.com/shepherrrd/schemaflow/internal/query"

// FieldRef starts a predicate on one column: Field("title").Like("First%").
type FieldRef struct {
	column query.Column
}

func Field(name string) FieldRef {
	return FieldRef{column: query.Col(name)}
}

// TableField qualifies the column with its table, for joins.
func TableField(table, name string) FieldRef {
	return FieldRef{column: query.TableCol(table, name)}
}

func (f FieldRef) Column() query.Column { return f.column }

func (f FieldRef) compare(op query.CompareOp, v any) query.BoolExpr {
	return query.Compare{Column: f.column, Op: op, Right: query.Literal{Value: v}}
}

func (f FieldRef) Eq(v any) query.BoolExpr { return f.compare(query.OpEq, v) }
func (f FieldRef) Ne(v any) query.BoolExpr { return f.compare(query.OpNe, v) }
func (f FieldRef) Lt(v any) query.BoolExpr { return f.compare(query.OpLt, v) }
func (f FieldRef) Gt(v any) query.BoolExpr { return f.compare(query.OpGt, v) }
func (f FieldRef) Le(v any) query.BoolExpr { return f.compare(query.OpLe, v) }
func (f FieldRef) Ge(v any) query.BoolExpr { return f.compare(query.OpGe, v) }

// EqField compares two columns.
func (f FieldRef) EqField(other FieldRef) query.BoolExpr {
	return query.Compare{Column: f.column, Op: query.OpEq, Right: other.column}
}

func (f FieldRef) Like(pattern string) query.BoolExpr {
	return query.Like{Column: f.column, Pattern: pattern}
}

func (f FieldRef) In(values ...any) query.BoolExpr {
	return query.In{Column: f.column, Values: values}
}

func (f FieldRef) IsNull() query.BoolExpr    { return f.Eq(nil) }
func (f FieldRef) IsNotNull() query.BoolExpr { return f.Ne(nil) }

// InSelect matches rows whose column appears in tableColumn of the rows of
// table matching filter. A nil filter selects every row.
func (f FieldRef) InSelect(table, tableColumn string, filter query.BoolExpr) query.BoolExpr {
	return query.Subquery{Column: f.column, Table: table, TableColumn: tableColumn, Filter: filter}
}

// InJoin is InSelect over a chain of inner joins, used to walk association
// tables: target is read from the last joined table.
func (f FieldRef) InJoin(table string, target FieldRef, joins []query.Join, filter query.BoolExpr) query.BoolExpr {
	return query.SubqueryJoin{Column: f.column, Table: table, Target: target.column, Joins: joins, Filter: filter}
}
