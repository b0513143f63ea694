package query

import (
	"context"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
)

// SubqueryRunner executes a single-column select and returns its values.
type SubqueryRunner interface {
	RunSubquery(ctx context.Context, q Select) ([]any, error)
}

// RewriteSubqueries replaces every Subquery and SubqueryJoin in expr with an
// In over the values the inner query returns, running inner queries first
// (innermost first). The two round trips are not atomic: rows changing in
// between are not observed by the outer query. A failing inner query aborts
// the rewrite with a SubqueryRewriteError.
func RewriteSubqueries(ctx context.Context, expr BoolExpr, runner SubqueryRunner) (BoolExpr, error) {
	switch e := expr.(type) {
	case Subquery:
		filter, err := rewriteFilter(ctx, e.Filter, runner)
		if err != nil {
			return nil, err
		}
		values, err := runner.RunSubquery(ctx, Select{Table: e.Table, Columns: []Column{Col(e.TableColumn)}, Filter: filter})
		if err != nil {
			return nil, &dberrors.SubqueryRewriteError{Table: e.Table, Err: err}
		}
		return In{Column: e.Column, Values: values}, nil
	case SubqueryJoin:
		filter, err := rewriteFilter(ctx, e.Filter, runner)
		if err != nil {
			return nil, err
		}
		values, err := runner.RunSubquery(ctx, Select{Table: e.Table, Columns: []Column{e.Target}, Joins: e.Joins, Filter: filter})
		if err != nil {
			return nil, &dberrors.SubqueryRewriteError{Table: e.Table, Err: err}
		}
		return In{Column: e.Column, Values: values}, nil
	case And:
		exprs, err := rewriteAll(ctx, e.Exprs, runner)
		if err != nil {
			return nil, err
		}
		return And{Exprs: exprs}, nil
	case Or:
		exprs, err := rewriteAll(ctx, e.Exprs, runner)
		if err != nil {
			return nil, err
		}
		return Or{Exprs: exprs}, nil
	case Not:
		inner, err := RewriteSubqueries(ctx, e.Expr, runner)
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	default:
		return expr, nil
	}
}

func rewriteFilter(ctx context.Context, filter BoolExpr, runner SubqueryRunner) (BoolExpr, error) {
	if filter == nil {
		return nil, nil
	}
	return RewriteSubqueries(ctx, filter, runner)
}

func rewriteAll(ctx context.Context, exprs []BoolExpr, runner SubqueryRunner) ([]BoolExpr, error) {
	out := make([]BoolExpr, len(exprs))
	for i, x := range exprs {
		rewritten, err := RewriteSubqueries(ctx, x, runner)
		if err != nil {
			return nil, err
		}
		out[i] = rewritten
	}
	return out, nil
}
