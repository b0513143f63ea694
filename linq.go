package schemaflow

import (
	"github.com/shepherrrd/schemaflow/internal/linq"
)

type LinqQuery[T any] = linq.LinqQuery[T]

type FieldRef = linq.FieldRef

type ManyRef = linq.ManyRef

// Query starts a query over the table registered for T.
func Query[T any](ctx *DbContext) *LinqQuery[T] {
	return linq.NewLinqQuery[T](ctx)
}

// QueryTable starts a query over table, scanning rows into T.
func QueryTable[T any](ctx *DbContext, table string) *LinqQuery[T] {
	return linq.From[T](ctx, table)
}

func Field(name string) FieldRef {
	return linq.Field(name)
}

// Many starts a predicate on a many field declared by a registered entity.
func Many(a Association) ManyRef {
	return linq.Many(a)
}
