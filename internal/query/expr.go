// Package query holds the predicate tree used to filter queries, its compiler
// to parameterized SQL, and the rewrite pass for backends without subqueries.
package query

// Column names a column, optionally qualified by its table.
type Column struct {
	Table string
	Name  string
}

func Col(name string) Column {
	return Column{Name: name}
}

func TableCol(table, name string) Column {
	return Column{Table: table, Name: name}
}

// Operand is the right-hand side of a comparison: a Literal or a Column.
type Operand interface {
	operand()
}

// Literal is a value bound as a parameter. A nil Value compares as NULL.
type Literal struct {
	Value any
}

func (Literal) operand() {}
func (Column) operand()  {}

// BoolExpr is a predicate. The set of implementations is closed.
type BoolExpr interface {
	boolExpr()
}

type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
)

var compareOpSQL = map[CompareOp]string{
	OpEq: "=",
	OpNe: "<>",
	OpLt: "<",
	OpGt: ">",
	OpLe: "<=",
	OpGe: ">=",
}

type True struct{}

type False struct{}

type Compare struct {
	Column Column
	Op     CompareOp
	Right  Operand
}

type Like struct {
	Column  Column
	Pattern string
}

type In struct {
	Column Column
	Values []any
}

// Subquery matches rows whose Column appears in TableColumn of the rows of
// Table that satisfy Filter.
type Subquery struct {
	Column      Column
	Table       string
	TableColumn string
	Filter      BoolExpr
}

// Join is an inner join condition used by SubqueryJoin.
type Join struct {
	Table string
	Left  Column
	Right Column
}

// SubqueryJoin is a Subquery whose inner select joins further tables, as
// used to traverse many-to-many association tables.
type SubqueryJoin struct {
	Column Column
	Table  string
	Target Column
	Joins  []Join
	Filter BoolExpr
}

type And struct {
	Exprs []BoolExpr
}

type Or struct {
	Exprs []BoolExpr
}

type Not struct {
	Expr BoolExpr
}

func (True) boolExpr()         {}
func (False) boolExpr()        {}
func (Compare) boolExpr()      {}
func (Like) boolExpr()         {}
func (In) boolExpr()           {}
func (Subquery) boolExpr()     {}
func (SubqueryJoin) boolExpr() {}
func (And) boolExpr()          {}
func (Or) boolExpr()           {}
func (Not) boolExpr()          {}

func Eq(column string, v any) BoolExpr { return Compare{Column: Col(column), Op: OpEq, Right: Literal{v}} }
func Ne(column string, v any) BoolExpr { return Compare{Column: Col(column), Op: OpNe, Right: Literal{v}} }
func Lt(column string, v any) BoolExpr { return Compare{Column: Col(column), Op: OpLt, Right: Literal{v}} }
func Gt(column string, v any) BoolExpr { return Compare{Column: Col(column), Op: OpGt, Right: Literal{v}} }
func Le(column string, v any) BoolExpr { return Compare{Column: Col(column), Op: OpLe, Right: Literal{v}} }
func Ge(column string, v any) BoolExpr { return Compare{Column: Col(column), Op: OpGe, Right: Literal{v}} }

func LikeOf(column, pattern string) BoolExpr {
	return Like{Column: Col(column), Pattern: pattern}
}

func InValues(column string, values ...any) BoolExpr {
	return In{Column: Col(column), Values: values}
}

func AllOf(exprs ...BoolExpr) BoolExpr { return And{Exprs: exprs} }
func AnyOf(exprs ...BoolExpr) BoolExpr { return Or{Exprs: exprs} }
func Negate(expr BoolExpr) BoolExpr    { return Not{Expr: expr} }

// HasSubqueries reports whether expr contains a Subquery or SubqueryJoin.
func HasSubqueries(expr BoolExpr) bool {
	switch e := expr.(type) {
	case Subquery, SubqueryJoin:
		return true
	case And:
		for _, x := range e.Exprs {
			if HasSubqueries(x) {
				return true
			}
		}
	case Or:
		for _, x := range e.Exprs {
			if HasSubqueries(x) {
				return true
			}
		}
	case Not:
		return HasSubqueries(e.Expr)
	}
	return false
}
