package query

import (
	"fmt"
	"strconv"
	"strings"
)

// PlaceholderStyle selects how bound parameters are written.
type PlaceholderStyle int

const (
	// QuestionMarks writes every parameter as "?".
	QuestionMarks PlaceholderStyle = iota
	// Numbered writes parameters as "$1", "$2", ... in bind order.
	Numbered
)

// valuer lets typed values such as models.Value bind as plain driver values.
type valuer interface {
	Any() any
}

// Compiler renders predicates and selects into SQL text plus an ordered
// parameter list. Values are always bound, never interpolated.
type Compiler struct {
	Placeholders PlaceholderStyle
	Idents       IdentStyle
}

func NewCompiler(placeholders PlaceholderStyle, idents IdentStyle) *Compiler {
	return &Compiler{Placeholders: placeholders, Idents: idents}
}

type sqlWriter struct {
	c    *Compiler
	sb   strings.Builder
	args []any
}

func (w *sqlWriter) bind(v any) {
	if tv, ok := v.(valuer); ok {
		v = tv.Any()
	}
	w.args = append(w.args, v)
	if w.c.Placeholders == Numbered {
		w.sb.WriteString("$" + strconv.Itoa(len(w.args)))
		return
	}
	w.sb.WriteString("?")
}

func (w *sqlWriter) column(c Column) {
	if c.Table != "" {
		w.sb.WriteString(w.c.Idents.Quote(c.Table))
		w.sb.WriteString(".")
	}
	w.sb.WriteString(w.c.Idents.Quote(c.Name))
}

// Compile renders expr as the body of a WHERE clause on table.
func (c *Compiler) Compile(table string, expr BoolExpr) (string, []any, error) {
	w := &sqlWriter{c: c}
	if err := w.expr(expr); err != nil {
		return "", nil, fmt.Errorf("failed to compile filter on %s: %w", table, err)
	}
	return w.sb.String(), w.args, nil
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if tv, ok := v.(valuer); ok {
		return tv.Any() == nil
	}
	return false
}

func (w *sqlWriter) expr(expr BoolExpr) error {
	switch e := expr.(type) {
	case nil:
		return fmt.Errorf("nil predicate")
	case True:
		w.sb.WriteString("TRUE")
	case False:
		w.sb.WriteString("FALSE")
	case Compare:
		op, ok := compareOpSQL[e.Op]
		if !ok {
			return fmt.Errorf("unknown comparison operator %d", e.Op)
		}
		w.column(e.Column)
		switch right := e.Right.(type) {
		case Literal:
			if isNull(right.Value) && (e.Op == OpEq || e.Op == OpNe) {
				if e.Op == OpEq {
					w.sb.WriteString(" IS NULL")
				} else {
					w.sb.WriteString(" IS NOT NULL")
				}
				return nil
			}
			w.sb.WriteString(" " + op + " ")
			w.bind(right.Value)
		case Column:
			w.sb.WriteString(" " + op + " ")
			w.column(right)
		default:
			return fmt.Errorf("unsupported comparison operand %T", e.Right)
		}
	case Like:
		w.column(e.Column)
		w.sb.WriteString(" LIKE ")
		w.bind(e.Pattern)
	case In:
		if len(e.Values) == 0 {
			w.sb.WriteString("FALSE")
			return nil
		}
		w.column(e.Column)
		w.sb.WriteString(" IN (")
		for i, v := range e.Values {
			if i > 0 {
				w.sb.WriteString(", ")
			}
			w.bind(v)
		}
		w.sb.WriteString(")")
	case Subquery:
		w.column(e.Column)
		w.sb.WriteString(" IN (")
		if err := w.selectStmt(Select{Table: e.Table, Columns: []Column{Col(e.TableColumn)}, Filter: e.Filter}); err != nil {
			return err
		}
		w.sb.WriteString(")")
	case SubqueryJoin:
		w.column(e.Column)
		w.sb.WriteString(" IN (")
		if err := w.selectStmt(Select{Table: e.Table, Columns: []Column{e.Target}, Joins: e.Joins, Filter: e.Filter}); err != nil {
			return err
		}
		w.sb.WriteString(")")
	case And:
		return w.compound(e.Exprs, " AND ", "TRUE")
	case Or:
		return w.compound(e.Exprs, " OR ", "FALSE")
	case Not:
		w.sb.WriteString("NOT (")
		if err := w.expr(e.Expr); err != nil {
			return err
		}
		w.sb.WriteString(")")
	default:
		return fmt.Errorf("unsupported predicate %T", expr)
	}
	return nil
}

func (w *sqlWriter) compound(exprs []BoolExpr, sep, empty string) error {
	if len(exprs) == 0 {
		w.sb.WriteString(empty)
		return nil
	}
	if len(exprs) == 1 {
		return w.expr(exprs[0])
	}
	for i, x := range exprs {
		if i > 0 {
			w.sb.WriteString(sep)
		}
		nested := needsParens(x)
		if nested {
			w.sb.WriteString("(")
		}
		if err := w.expr(x); err != nil {
			return err
		}
		if nested {
			w.sb.WriteString(")")
		}
	}
	return nil
}

func needsParens(expr BoolExpr) bool {
	switch e := expr.(type) {
	case And:
		return len(e.Exprs) > 1
	case Or:
		return len(e.Exprs) > 1
	}
	return false
}

// Order sorts a select by one column.
type Order struct {
	Column Column
	Desc   bool
}

// Select is a single-table query, optionally joined, filtered, sorted and paged.
type Select struct {
	Table   string
	Columns []Column
	Joins   []Join
	Filter  BoolExpr
	Sort    []Order
	Limit   int
	Offset  int
}

// maxLimit stands in for "no limit" when only an offset is given.
const maxLimit = "9223372036854775807"

// CompileSelect renders a full SELECT statement.
func (c *Compiler) CompileSelect(q Select) (string, []any, error) {
	w := &sqlWriter{c: c}
	if err := w.selectStmt(q); err != nil {
		return "", nil, fmt.Errorf("failed to compile select on %s: %w", q.Table, err)
	}
	return w.sb.String(), w.args, nil
}

// CompileCount renders SELECT COUNT(*) for the rows matching filter.
func (c *Compiler) CompileCount(table string, filter BoolExpr) (string, []any, error) {
	w := &sqlWriter{c: c}
	w.sb.WriteString("SELECT COUNT(*) FROM " + c.Idents.Quote(table))
	if err := w.where(filter); err != nil {
		return "", nil, fmt.Errorf("failed to compile count on %s: %w", table, err)
	}
	return w.sb.String(), w.args, nil
}

// CompileDelete renders DELETE for the rows matching filter.
func (c *Compiler) CompileDelete(table string, filter BoolExpr) (string, []any, error) {
	w := &sqlWriter{c: c}
	w.sb.WriteString("DELETE FROM " + c.Idents.Quote(table))
	if err := w.where(filter); err != nil {
		return "", nil, fmt.Errorf("failed to compile delete on %s: %w", table, err)
	}
	return w.sb.String(), w.args, nil
}

func (w *sqlWriter) where(filter BoolExpr) error {
	if filter == nil {
		return nil
	}
	if _, ok := filter.(True); ok {
		return nil
	}
	w.sb.WriteString(" WHERE ")
	return w.expr(filter)
}

func (w *sqlWriter) selectStmt(q Select) error {
	w.sb.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		w.sb.WriteString("*")
	}
	for i, c := range q.Columns {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		w.column(c)
	}
	w.sb.WriteString(" FROM " + w.c.Idents.Quote(q.Table))
	for _, j := range q.Joins {
		w.sb.WriteString(" INNER JOIN " + w.c.Idents.Quote(j.Table) + " ON ")
		w.column(j.Left)
		w.sb.WriteString(" = ")
		w.column(j.Right)
	}
	if err := w.where(q.Filter); err != nil {
		return err
	}
	for i, o := range q.Sort {
		if i == 0 {
			w.sb.WriteString(" ORDER BY ")
		} else {
			w.sb.WriteString(", ")
		}
		w.column(o.Column)
		if o.Desc {
			w.sb.WriteString(" DESC")
		}
	}
	switch {
	case q.Limit > 0:
		w.sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	case q.Offset > 0:
		w.sb.WriteString(" LIMIT " + maxLimit)
	}
	if q.Offset > 0 {
		w.sb.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}
	return nil
}
