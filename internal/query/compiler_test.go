package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
)

func TestCompile_AndOfEqAndLike(t *testing.T) {
	c := NewCompiler(QuestionMarks, DoubleQuotes)

	sql, args, err := c.Compile("Post", AllOf(Eq("published", true), LikeOf("title", "First%")))
	require.NoError(t, err)

	assert.Equal(t, "published = ? AND title LIKE ?", sql)
	assert.Equal(t, []any{true, "First%"}, args)
}

func TestCompile_NumberedPlaceholders(t *testing.T) {
	c := NewCompiler(Numbered, DoubleQuotes)

	sql, args, err := c.Compile("Post", AnyOf(Gt("views", 10), InValues("id", 1, 2)))
	require.NoError(t, err)

	assert.Equal(t, "views > $1 OR id IN ($2, $3)", sql)
	assert.Equal(t, []any{10, 1, 2}, args)
}

func TestCompile_Operators(t *testing.T) {
	c := NewCompiler(QuestionMarks, DoubleQuotes)

	tests := []struct {
		name string
		expr BoolExpr
		want string
		args []any
	}{
		{"eq", Eq("a", 1), "a = ?", []any{1}},
		{"ne", Ne("a", 1), "a <> ?", []any{1}},
		{"lt", Lt("a", 1), "a < ?", []any{1}},
		{"gt", Gt("a", 1), "a > ?", []any{1}},
		{"le", Le("a", 1), "a <= ?", []any{1}},
		{"ge", Ge("a", 1), "a >= ?", []any{1}},
		{"eq null", Eq("a", nil), "a IS NULL", nil},
		{"ne null", Ne("a", nil), "a IS NOT NULL", nil},
		{"true", True{}, "TRUE", nil},
		{"false", False{}, "FALSE", nil},
		{"empty in", InValues("a"), "FALSE", nil},
		{"empty and", AllOf(), "TRUE", nil},
		{"empty or", AnyOf(), "FALSE", nil},
		{"not", Negate(Eq("a", 1)), "NOT (a = ?)", []any{1}},
		{"column compare", Compare{Column: TableCol("Post", "author_id"), Op: OpEq, Right: TableCol("User", "id")}, `Post.author_id = "User".id`, nil},
		{"nested", AllOf(Eq("a", 1), AnyOf(Eq("b", 2), Eq("c", 3))), "a = ? AND (b = ? OR c = ?)", []any{1, 2, 3}},
		{"reserved column", Eq("order", 1), `"order" = ?`, []any{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := c.Compile("t", tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCompile_IsDeterministic(t *testing.T) {
	c := NewCompiler(QuestionMarks, Backticks)
	expr := AllOf(Eq("a", 1), Negate(AnyOf(LikeOf("b", "x%"), InValues("c", "p", "q"))), Ge("d", 2.5))

	sql1, args1, err := c.Compile("t", expr)
	require.NoError(t, err)
	sql2, args2, err := c.Compile("t", expr)
	require.NoError(t, err)

	assert.Equal(t, sql1, sql2)
	assert.Equal(t, args1, args2)
}

func TestCompile_NilPredicate(t *testing.T) {
	c := NewCompiler(QuestionMarks, DoubleQuotes)
	_, _, err := c.Compile("t", AllOf(Eq("a", 1), nil))
	require.Error(t, err)
}

func TestCompile_Subquery(t *testing.T) {
	c := NewCompiler(QuestionMarks, DoubleQuotes)

	sql, args, err := c.Compile("Post", Subquery{
		Column:      Col("author_id"),
		Table:       "User",
		TableColumn: "id",
		Filter:      Eq("active", true),
	})
	require.NoError(t, err)

	assert.Equal(t, `author_id IN (SELECT id FROM "User" WHERE active = ?)`, sql)
	assert.Equal(t, []any{true}, args)
}

func TestCompile_SubqueryJoin(t *testing.T) {
	c := NewCompiler(QuestionMarks, Backticks)

	sql, args, err := c.Compile("Post", SubqueryJoin{
		Column: Col("id"),
		Table:  "PostTag",
		Target: TableCol("PostTag", "post_id"),
		Joins:  []Join{{Table: "Tag", Left: TableCol("PostTag", "tag_id"), Right: TableCol("Tag", "id")}},
		Filter: Eq("name", "go"),
	})
	require.NoError(t, err)

	assert.Equal(t, "id IN (SELECT PostTag.post_id FROM PostTag INNER JOIN Tag ON PostTag.tag_id = Tag.id WHERE name = ?)", sql)
	assert.Equal(t, []any{"go"}, args)
}

func TestCompileSelect(t *testing.T) {
	c := NewCompiler(Numbered, DoubleQuotes)

	sql, args, err := c.CompileSelect(Select{
		Table:   "Post",
		Columns: []Column{Col("id"), Col("title")},
		Filter:  Eq("published", true),
		Sort:    []Order{{Column: Col("id"), Desc: true}, {Column: Col("title")}},
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, title FROM Post WHERE published = $1 ORDER BY id DESC, title LIMIT 10 OFFSET 20", sql)
	assert.Equal(t, []any{true}, args)
}

func TestCompileSelect_OffsetWithoutLimit(t *testing.T) {
	c := NewCompiler(QuestionMarks, DoubleQuotes)

	sql, _, err := c.CompileSelect(Select{Table: "Post", Offset: 5})
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM Post LIMIT 9223372036854775807 OFFSET 5", sql)
}

func TestCompileCountAndDelete(t *testing.T) {
	c := NewCompiler(QuestionMarks, Backticks)

	sql, args, err := c.CompileCount("user", Eq("id", 3))
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM `user` WHERE id = ?", sql)
	assert.Equal(t, []any{3}, args)

	sql, args, err = c.CompileDelete("Post", True{})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM Post", sql)
	assert.Empty(t, args)
}

type fakeRunner struct {
	values map[string][]any
	calls  []Select
	err    error
}

func (f *fakeRunner) RunSubquery(_ context.Context, q Select) ([]any, error) {
	f.calls = append(f.calls, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.values[q.Table], nil
}

func TestRewriteSubqueries(t *testing.T) {
	runner := &fakeRunner{values: map[string][]any{"User": {int64(1), int64(4)}}}
	expr := AllOf(
		Eq("published", true),
		Subquery{Column: Col("author_id"), Table: "User", TableColumn: "id", Filter: Eq("active", true)},
	)

	rewritten, err := RewriteSubqueries(context.Background(), expr, runner)
	require.NoError(t, err)

	assert.False(t, HasSubqueries(rewritten))
	assert.Equal(t, AllOf(Eq("published", true), In{Column: Col("author_id"), Values: []any{int64(1), int64(4)}}), rewritten)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []Column{Col("id")}, runner.calls[0].Columns)

	sql, args, err := NewCompiler(QuestionMarks, DoubleQuotes).Compile("Post", rewritten)
	require.NoError(t, err)
	assert.Equal(t, "published = ? AND author_id IN (?, ?)", sql)
	assert.Equal(t, []any{true, int64(1), int64(4)}, args)
}

func TestRewriteSubqueries_InnermostFirst(t *testing.T) {
	runner := &fakeRunner{values: map[string][]any{"Team": {"t1"}, "User": {int64(7)}}}
	expr := Subquery{
		Column:      Col("author_id"),
		Table:       "User",
		TableColumn: "id",
		Filter:      Subquery{Column: Col("team_id"), Table: "Team", TableColumn: "id"},
	}

	rewritten, err := RewriteSubqueries(context.Background(), expr, runner)
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "Team", runner.calls[0].Table)
	assert.Equal(t, In{Column: Col("team_id"), Values: []any{"t1"}}, runner.calls[1].Filter)
	assert.Equal(t, In{Column: Col("author_id"), Values: []any{int64(7)}}, rewritten)
}

func TestRewriteSubqueries_EmptyResultMatchesNothing(t *testing.T) {
	runner := &fakeRunner{}
	rewritten, err := RewriteSubqueries(context.Background(), Subquery{Column: Col("a"), Table: "T", TableColumn: "id"}, runner)
	require.NoError(t, err)

	sql, args, err := NewCompiler(QuestionMarks, DoubleQuotes).Compile("x", rewritten)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)
	assert.Empty(t, args)
}

func TestRewriteSubqueries_InnerFailure(t *testing.T) {
	boom := errors.New("boom")
	runner := &fakeRunner{err: boom}

	_, err := RewriteSubqueries(context.Background(), Negate(Subquery{Column: Col("a"), Table: "T", TableColumn: "id"}), runner)
	require.Error(t, err)
	assert.True(t, dberrors.IsSubqueryRewrite(err))
	assert.ErrorIs(t, err, boom)
}
