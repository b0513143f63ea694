package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/shepherrrd/schemaflow/internal/query"
)

// prepare rewrites subqueries into value lists when the backend cannot run
// them, and returns the filter to compile.
func (ctx *DbContext) prepare(c context.Context, filter query.BoolExpr) (query.BoolExpr, error) {
	if filter == nil || ctx.driver.Capabilities().Subqueries || !query.HasSubqueries(filter) {
		return filter, nil
	}
	return query.RewriteSubqueries(c, filter, ctx)
}

// RunSubquery selects the single column of q and returns its values.
func (ctx *DbContext) RunSubquery(c context.Context, q query.Select) ([]any, error) {
	sql, args, err := ctx.Compiler().CompileSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := ctx.db.WithContext(c).Raw(sql, args...).Rows()
	if err != nil {
		return nil, ctx.driver.WrapError(sql, err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, ctx.driver.WrapError(sql, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, ctx.driver.WrapError(sql, err)
	}
	return values, nil
}

// Find runs q and scans the rows into dest, a pointer to a slice.
func (ctx *DbContext) Find(c context.Context, q query.Select, dest any) error {
	filter, err := ctx.prepare(c, q.Filter)
	if err != nil {
		return err
	}
	q.Filter = filter
	sql, args, err := ctx.Compiler().CompileSelect(q)
	if err != nil {
		return err
	}
	if err := ctx.db.WithContext(c).Raw(sql, args...).Scan(dest).Error; err != nil {
		return ctx.driver.WrapError(sql, err)
	}
	return nil
}

// Count returns how many rows of table match filter.
func (ctx *DbContext) Count(c context.Context, table string, filter query.BoolExpr) (int64, error) {
	filter, err := ctx.prepare(c, filter)
	if err != nil {
		return 0, err
	}
	sql, args, err := ctx.Compiler().CompileCount(table, filter)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := ctx.db.WithContext(c).Raw(sql, args...).Scan(&count).Error; err != nil {
		return 0, ctx.driver.WrapError(sql, err)
	}
	return count, nil
}

// Delete removes the rows of table matching filter.
func (ctx *DbContext) Delete(c context.Context, table string, filter query.BoolExpr) (int64, error) {
	filter, err := ctx.prepare(c, filter)
	if err != nil {
		return 0, err
	}
	sql, args, err := ctx.Compiler().CompileDelete(table, filter)
	if err != nil {
		return 0, err
	}
	result := ctx.db.WithContext(c).Exec(sql, args...)
	if result.Error != nil {
		return 0, ctx.driver.WrapError(sql, result.Error)
	}
	ctx.logger.DebugContext(c, "rows deleted", "table", table, "rows", result.RowsAffected)
	return result.RowsAffected, nil
}

// TableIsEmpty reports whether table exists and holds no rows. Tables that do
// not exist yet count as empty.
func (ctx *DbContext) TableIsEmpty(c context.Context, table string) (bool, error) {
	// Unquoted identifiers fold to lower case on postgres.
	migrator := ctx.db.WithContext(c).Migrator()
	if !migrator.HasTable(table) && !migrator.HasTable(strings.ToLower(table)) {
		return true, nil
	}
	count, err := ctx.Count(c, table, nil)
	if err != nil {
		return false, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count == 0, nil
}
