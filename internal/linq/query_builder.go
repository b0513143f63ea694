package linq

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// Executor runs compiled queries against a connection.
type Executor interface {
	Compiler() *query.Compiler
	Find(ctx context.Context, q query.Select, dest any) error
	Count(ctx context.Context, table string, filter query.BoolExpr) (int64, error)
	Delete(ctx context.Context, table string, filter query.BoolExpr) (int64, error)
}

// LinqQuery builds a filtered select over the table of T. Filters added
// with the fluent methods are combined with AND.
type LinqQuery[T any] struct {
	exec    Executor
	sel     query.Select
	filters []query.BoolExpr
	err     error
}

// NewLinqQuery queries the table declared by T.
func NewLinqQuery[T any](exec Executor) *LinqQuery[T] {
	var zero T
	model, err := models.NewEntityModel(zero)
	if err != nil {
		return &LinqQuery[T]{exec: exec, err: err}
	}
	return From[T](exec, model.Table.Name)
}

// From queries table, scanning rows into T.
func From[T any](exec Executor, table string) *LinqQuery[T] {
	return &LinqQuery[T]{exec: exec, sel: query.Select{Table: table}}
}

// Where - filters elements based on a predicate
func (q *LinqQuery[T]) Where(expr query.BoolExpr) *LinqQuery[T] {
	if expr != nil {
		q.filters = append(q.filters, expr)
	}
	return q
}

// Or - filters elements matching any of the predicates
func (q *LinqQuery[T]) Or(exprs ...query.BoolExpr) *LinqQuery[T] {
	return q.Where(query.AnyOf(exprs...))
}

// Not - filters elements not matching the predicate
func (q *LinqQuery[T]) Not(expr query.BoolExpr) *LinqQuery[T] {
	return q.Where(query.Negate(expr))
}

// Equals - filters elements where column equals value
func (q *LinqQuery[T]) Equals(column string, value any) *LinqQuery[T] {
	return q.Where(query.Eq(column, value))
}

func (q *LinqQuery[T]) NotEqual(column string, value any) *LinqQuery[T] {
	return q.Where(query.Ne(column, value))
}

func (q *LinqQuery[T]) GreaterThan(column string, value any) *LinqQuery[T] {
	return q.Where(query.Gt(column, value))
}

func (q *LinqQuery[T]) LessThan(column string, value any) *LinqQuery[T] {
	return q.Where(query.Lt(column, value))
}

// StartsWith - filters strings that start with specified value
func (q *LinqQuery[T]) StartsWith(column, value string) *LinqQuery[T] {
	return q.Where(query.LikeOf(column, value+"%"))
}

// EndsWith - filters strings that end with specified value
func (q *LinqQuery[T]) EndsWith(column, value string) *LinqQuery[T] {
	return q.Where(query.LikeOf(column, "%"+value))
}

// StringContains - filters strings that contain specified value
func (q *LinqQuery[T]) StringContains(column, value string) *LinqQuery[T] {
	return q.Where(query.LikeOf(column, "%"+value+"%"))
}

// In - filters elements where column value is in the provided list
func (q *LinqQuery[T]) In(column string, values ...any) *LinqQuery[T] {
	return q.Where(query.InValues(column, values...))
}

// NotIn - filters elements where column value is not in the provided list
func (q *LinqQuery[T]) NotIn(column string, values ...any) *LinqQuery[T] {
	return q.Where(query.Negate(query.InValues(column, values...)))
}

// Between - filters elements where column value is between two values
func (q *LinqQuery[T]) Between(column string, start, end any) *LinqQuery[T] {
	return q.Where(query.AllOf(query.Ge(column, start), query.Le(column, end)))
}

// IsNull - filters elements where column value is null
func (q *LinqQuery[T]) IsNull(column string) *LinqQuery[T] {
	return q.Where(query.Eq(column, nil))
}

// IsNotNull - filters elements where column value is not null
func (q *LinqQuery[T]) IsNotNull(column string) *LinqQuery[T] {
	return q.Where(query.Ne(column, nil))
}

// InSubquery - filters elements whose column appears in tableColumn of the
// rows of table matching filter
func (q *LinqQuery[T]) InSubquery(column, table, tableColumn string, filter query.BoolExpr) *LinqQuery[T] {
	return q.Where(query.Subquery{Column: query.Col(column), Table: table, TableColumn: tableColumn, Filter: filter})
}

// Select - projects elements to a subset of columns
func (q *LinqQuery[T]) Select(columns ...string) *LinqQuery[T] {
	for _, c := range columns {
		q.sel.Columns = append(q.sel.Columns, query.Col(c))
	}
	return q
}

// OrderBy - sorts elements in ascending order
func (q *LinqQuery[T]) OrderBy(column string) *LinqQuery[T] {
	q.sel.Sort = []query.Order{{Column: query.Col(column)}}
	return q
}

// OrderByDescending - sorts elements in descending order
func (q *LinqQuery[T]) OrderByDescending(column string) *LinqQuery[T] {
	q.sel.Sort = []query.Order{{Column: query.Col(column), Desc: true}}
	return q
}

// ThenBy - performs a subsequent ordering in ascending order
func (q *LinqQuery[T]) ThenBy(column string) *LinqQuery[T] {
	q.sel.Sort = append(q.sel.Sort, query.Order{Column: query.Col(column)})
	return q
}

// ThenByDescending - performs a subsequent ordering in descending order
func (q *LinqQuery[T]) ThenByDescending(column string) *LinqQuery[T] {
	q.sel.Sort = append(q.sel.Sort, query.Order{Column: query.Col(column), Desc: true})
	return q
}

// Take - returns a specified number of elements
func (q *LinqQuery[T]) Take(count int) *LinqQuery[T] {
	q.sel.Limit = count
	return q
}

// Skip - bypasses a specified number of elements
func (q *LinqQuery[T]) Skip(count int) *LinqQuery[T] {
	q.sel.Offset = count
	return q
}

// Filter returns the combined predicate, or nil when nothing filters.
func (q *LinqQuery[T]) Filter() query.BoolExpr {
	switch len(q.filters) {
	case 0:
		return nil
	case 1:
		return q.filters[0]
	default:
		return query.AllOf(q.filters...)
	}
}

// Build returns the select the query runs.
func (q *LinqQuery[T]) Build() query.Select {
	sel := q.sel
	sel.Filter = q.Filter()
	return sel
}

// ToSQL compiles the query without running it.
func (q *LinqQuery[T]) ToSQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	return q.exec.Compiler().CompileSelect(q.Build())
}

// Execution Methods

// ToList - executes the query and returns all results
func (q *LinqQuery[T]) ToList(ctx context.Context) ([]T, error) {
	if q.err != nil {
		return nil, q.err
	}
	var results []T
	if err := q.exec.Find(ctx, q.Build(), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// First - returns the first element
func (q *LinqQuery[T]) First(ctx context.Context) (*T, error) {
	limit := q.sel.Limit
	q.sel.Limit = 1
	results, err := q.ToList(ctx)
	q.sel.Limit = limit
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &results[0], nil
}

// FirstOrDefault - returns the first element or nil
func (q *LinqQuery[T]) FirstOrDefault(ctx context.Context) (*T, error) {
	result, err := q.First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return result, err
}

// Single - returns the single element (fails if more than one)
func (q *LinqQuery[T]) Single(ctx context.Context) (*T, error) {
	limit := q.sel.Limit
	q.sel.Limit = 2
	results, err := q.ToList(ctx)
	q.sel.Limit = limit
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	if len(results) > 1 {
		return nil, fmt.Errorf("sequence contains more than one element")
	}
	return &results[0], nil
}

// Count - returns the number of elements
func (q *LinqQuery[T]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.exec.Count(ctx, q.sel.Table, q.Filter())
}

// Any - determines whether any element exists
func (q *LinqQuery[T]) Any(ctx context.Context) (bool, error) {
	count, err := q.Count(ctx)
	return count > 0, err
}

// All - determines whether all elements satisfy a condition (requires fetching all)
func (q *LinqQuery[T]) All(ctx context.Context, predicate func(T) bool) (bool, error) {
	results, err := q.ToList(ctx)
	if err != nil {
		return false, err
	}
	for _, item := range results {
		if !predicate(item) {
			return false, nil
		}
	}
	return true, nil
}

// Delete removes the matching rows and returns how many were deleted.
func (q *LinqQuery[T]) Delete(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.exec.Delete(ctx, q.sel.Table, q.Filter())
}
