package linq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

type Post struct {
	ID        int64  `schemaflow:"primary_key;auto"`
	Title     string `schemaflow:"not_null"`
	Published bool   `schemaflow:"default:false"`
	Views     int32  `schemaflow:"default:0"`
}

// fakeExecutor records what the query hands it and returns canned rows.
type fakeExecutor struct {
	compiler *query.Compiler
	rows     []Post
	err      error

	lastSelect query.Select
	lastTable  string
	lastFilter query.BoolExpr
}

func newFake(rows ...Post) *fakeExecutor {
	return &fakeExecutor{compiler: query.NewCompiler(query.Numbered, query.DoubleQuotes), rows: rows}
}

func (f *fakeExecutor) Compiler() *query.Compiler { return f.compiler }

func (f *fakeExecutor) Find(_ context.Context, q query.Select, dest any) error {
	f.lastSelect = q
	if f.err != nil {
		return f.err
	}
	out := f.rows
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	*dest.(*[]Post) = append([]Post(nil), out...)
	return nil
}

func (f *fakeExecutor) Count(_ context.Context, table string, filter query.BoolExpr) (int64, error) {
	f.lastTable, f.lastFilter = table, filter
	return int64(len(f.rows)), f.err
}

func (f *fakeExecutor) Delete(_ context.Context, table string, filter query.BoolExpr) (int64, error) {
	f.lastTable, f.lastFilter = table, filter
	return int64(len(f.rows)), f.err
}

func TestToSQL(t *testing.T) {
	q := NewLinqQuery[Post](newFake()).
		Where(Field("published").Eq(true)).
		StartsWith("title", "First").
		Select("id", "title").
		OrderByDescending("views").
		ThenBy("id").
		Skip(20).
		Take(10)

	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, title FROM Post WHERE published = $1 AND title LIKE $2 ORDER BY views DESC, id LIMIT 10 OFFSET 20", sql)
	assert.Equal(t, []any{true, "First%"}, args)
}

func TestFluentFilters(t *testing.T) {
	tests := []struct {
		name string
		q    *LinqQuery[Post]
		sql  string
		args []any
	}{
		{"equals", From[Post](newFake(), "Post").Equals("views", 3), "views = $1", []any{3}},
		{"not equal", From[Post](newFake(), "Post").NotEqual("views", 3), "views <> $1", []any{3}},
		{"ends with", From[Post](newFake(), "Post").EndsWith("title", "go"), "title LIKE $1", []any{"%go"}},
		{"string contains", From[Post](newFake(), "Post").StringContains("title", "go"), "title LIKE $1", []any{"%go%"}},
		{"not in", From[Post](newFake(), "Post").NotIn("id", 1, 2), "NOT (id IN ($1, $2))", []any{1, 2}},
		{"between", From[Post](newFake(), "Post").Between("views", 10, 20), "views >= $1 AND views <= $2", []any{10, 20}},
		{"is null", From[Post](newFake(), "Post").IsNull("title"), "title IS NULL", nil},
		{"or", From[Post](newFake(), "Post").Or(Field("views").Gt(5), Field("published").Eq(true)), "views > $1 OR published = $2", []any{5, true}},
		{"not", From[Post](newFake(), "Post").Not(Field("published").Eq(true)), "NOT (published = $1)", []any{true}},
		{
			"subquery",
			From[Post](newFake(), "Post").InSubquery("author_id", "User", "id", Field("is_active").Eq(true)),
			`author_id IN (SELECT id FROM "User" WHERE is_active = $1)`,
			[]any{true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.q.ToSQL()
			require.NoError(t, err)
			assert.Equal(t, "SELECT * FROM Post WHERE "+tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestExecution(t *testing.T) {
	ctx := context.Background()
	fake := newFake(Post{ID: 1, Title: "First"}, Post{ID: 2, Title: "Second"})

	list, err := NewLinqQuery[Post](fake).ToList(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "Post", fake.lastSelect.Table)
	assert.Nil(t, fake.lastSelect.Filter)

	q := NewLinqQuery[Post](fake).Take(5)
	first, err := q.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, 1, fake.lastSelect.Limit)
	assert.Equal(t, 5, q.Build().Limit, "First restores the caller's limit")

	_, err = NewLinqQuery[Post](fake).Single(ctx)
	assert.EqualError(t, err, "sequence contains more than one element")

	q = NewLinqQuery[Post](fake).Take(5)
	_, err = q.Single(ctx)
	assert.Error(t, err)
	assert.Equal(t, 2, fake.lastSelect.Limit)
	assert.Equal(t, 5, q.Build().Limit, "Single restores the caller's limit")

	n, err := NewLinqQuery[Post](fake).Where(Field("views").Ge(1)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, Field("views").Ge(1), fake.lastFilter)

	anyRows, err := NewLinqQuery[Post](fake).Any(ctx)
	require.NoError(t, err)
	assert.True(t, anyRows)

	all, err := NewLinqQuery[Post](fake).All(ctx, func(p Post) bool { return p.ID > 0 })
	require.NoError(t, err)
	assert.True(t, all)

	deleted, err := NewLinqQuery[Post](fake).Where(Field("id").Eq(2)).Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, "Post", fake.lastTable)
}

func TestExecution_Empty(t *testing.T) {
	ctx := context.Background()
	fake := newFake()

	_, err := NewLinqQuery[Post](fake).First(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	p, err := NewLinqQuery[Post](fake).FirstOrDefault(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewLinqQuery[Post](fake).Single(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	fake.err = errors.New("connection reset")
	_, err = NewLinqQuery[Post](fake).ToList(ctx)
	assert.EqualError(t, err, "connection reset")
}

func TestNewLinqQuery_InvalidEntity(t *testing.T) {
	q := NewLinqQuery[int](newFake())

	_, _, err := q.ToSQL()
	assert.Error(t, err)
	_, err = q.Count(context.Background())
	assert.Error(t, err)
	_, err = q.Delete(context.Background())
	assert.Error(t, err)
}

func TestField(t *testing.T) {
	c := query.NewCompiler(query.QuestionMarks, query.Backticks)

	tests := []struct {
		expr query.BoolExpr
		sql  string
	}{
		{Field("views").Lt(3), "views < ?"},
		{Field("views").Le(3), "views <= ?"},
		{Field("title").IsNotNull(), "title IS NOT NULL"},
		{Field("id").In(), "FALSE"},
		{TableField("Post", "author_id").EqField(TableField("User", "id")), "Post.author_id = `User`.id"},
		{
			Field("id").InJoin("PostTag", TableField("PostTag", "post_id"),
				[]query.Join{{Table: "Tag", Left: query.TableCol("PostTag", "tag_id"), Right: query.TableCol("Tag", "id")}},
				TableField("Tag", "name").Eq("go")),
			"id IN (SELECT PostTag.post_id FROM PostTag INNER JOIN Tag ON PostTag.tag_id = Tag.id WHERE Tag.name = ?)",
		},
		{Field("author_id").InSelect("User", "id", nil), "author_id IN (SELECT id FROM `User`)"},
	}
	for _, tt := range tests {
		sql, _, err := c.Compile("Post", tt.expr)
		require.NoError(t, err)
		assert.Equal(t, tt.sql, sql)
	}
	assert.Equal(t, query.TableCol("Post", "id"), TableField("Post", "id").Column())
}

type Snippet struct {
	ID   int64   `schemaflow:"primary_key"`
	Tags []int64 `schemaflow:"many:Tag" gorm:"-"`
}

func TestMany(t *testing.T) {
	model, err := models.NewEntityModel(Snippet{})
	require.NoError(t, err)
	assoc, ok := model.Association("Tags")
	require.True(t, ok)
	tags := Many(assoc)
	c := query.NewCompiler(query.Numbered, query.DoubleQuotes)

	sql, args, err := c.Compile("Snippet", tags.Contains(Field("name").Eq("go")))
	require.NoError(t, err)
	assert.Equal(t, "id IN (SELECT Snippet_tags_Many.owner FROM Tag INNER JOIN Snippet_tags_Many ON Snippet_tags_Many.has = Tag.id WHERE name = $1)", sql)
	assert.Equal(t, []any{"go"}, args)

	sql, args, err = c.Compile("Tag", tags.Of(7))
	require.NoError(t, err)
	assert.Equal(t, "id IN (SELECT has FROM Snippet_tags_Many WHERE owner = $1)", sql)
	assert.Equal(t, []any{7}, args)

	sql, _, err = c.Compile("Snippet", tags.ContainsKey(3))
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE Tag.id = $1)")
}
