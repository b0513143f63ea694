package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
)

func blogSnapshot() *Snapshot {
	return NewSnapshot(
		NewTable("User",
			Col("id", Known(BigInt)).AsPrimaryKey().AsAutoIncrement(),
			Col("email", Known(Text)).AsUnique(),
		),
		NewTable("Post",
			Col("id", Known(BigInt)).AsPrimaryKey().AsAutoIncrement(),
			Col("title", Known(Text)),
			Col("author_id", Deferred(PK("User"))).WithReference("User", "id"),
			Col("published", Known(Bool)).WithDefault(BoolVal(false)),
			Col("body", Known(Json)).AsNullable(),
		),
	)
}

func TestSnapshot_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	s := blogSnapshot().WithType(Custom("slug"), Named("VARCHAR(80)"))

	require.NoError(t, SaveSnapshot(path, s))
	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)

	assert.True(t, s.Equal(loaded))

	sum1, err := s.Checksum()
	require.NoError(t, err)
	sum2, err := loaded.Checksum()
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
}

func TestSnapshot_ChecksumChangesWithSchema(t *testing.T) {
	a := blogSnapshot()
	b, err := a.Apply(AddColumn{Table: "Post", Column: Col("views", Known(Int)).WithDefault(IntVal(0))})
	require.NoError(t, err)

	sumA, err := a.Checksum()
	require.NoError(t, err)
	sumB, err := b.Checksum()
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumB)
}

func TestSnapshot_ApplyThenInvert(t *testing.T) {
	base := blogSnapshot()
	ops := []Operation{
		CreateTable{Table: NewTable("Tag", Col("id", Known(Int)).AsPrimaryKey())},
		AddColumn{Table: "Post", Column: Col("views", Known(Int)).WithDefault(IntVal(0))},
		ChangeColumn{Table: "Post", Old: Col("title", Known(Text)), New: Col("headline", Named("VARCHAR(200)"))},
		RemoveColumn{Table: "Post", Column: Col("body", Known(Json)).AsNullable()},
		RenameTable{From: "User", To: "Account"},
	}

	after, err := base.ApplyAll(ops)
	require.NoError(t, err)

	post, _ := after.Table("Post")
	assert.Equal(t, []string{"id", "headline", "author_id", "published", "views"}, post.ColumnNames())
	ref, _ := post.Column("author_id")
	assert.Equal(t, "Account", ref.Reference.Table)

	back, err := after.ApplyAll(InvertAll(ops))
	require.NoError(t, err)
	assert.True(t, base.Equal(back))

	// Apply never mutates its receiver.
	_, stillThere := base.Table("User")
	assert.True(t, stillThere)
}

func TestSnapshot_ApplyErrors(t *testing.T) {
	s := blogSnapshot()
	tests := []struct {
		name string
		op   Operation
	}{
		{"create existing", CreateTable{Table: NewTable("Post")}},
		{"drop missing", DropTable{Table: NewTable("Nope")}},
		{"add existing column", AddColumn{Table: "Post", Column: Col("title", Known(Text))}},
		{"remove missing column", RemoveColumn{Table: "Post", Column: Col("nope", Known(Text))}},
		{"change on missing table", ChangeColumn{Table: "Nope", Old: Col("a", Known(Text)), New: Col("a", Known(Int))}},
		{"rename missing table", RenameTable{From: "Nope", To: "Other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Apply(tt.op)
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_CreateTableIfNotExistsIsIdempotent(t *testing.T) {
	s := blogSnapshot()
	op := CreateTableIfNotExists{Table: NewTable("Post", Col("other", Known(Int)))}

	out, err := s.Apply(op)
	require.NoError(t, err)
	assert.True(t, s.Equal(out))

	_, ok := Invert(op)
	assert.False(t, ok)
	assert.Empty(t, InvertAll([]Operation{op}))
}

func TestSnapshot_Validate(t *testing.T) {
	require.NoError(t, blogSnapshot().Validate())

	dangling := NewSnapshot(NewTable("Post", Col("author_id", Known(BigInt)).WithReference("User", "id")))
	err := dangling.Validate()
	require.Error(t, err)
	assert.True(t, dberrors.IsSchemaConflict(err))

	twoPKs := NewSnapshot(NewTable("T", Col("a", Known(Int)).AsPrimaryKey(), Col("b", Known(Int)).AsPrimaryKey()))
	assert.True(t, dberrors.IsSchemaConflict(twoPKs.Validate()))
}

func TestValue_JSONRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		BoolVal(true),
		IntVal(-3),
		BigIntVal(1 << 40),
		RealVal(2.5),
		TextVal("it's"),
		BlobVal([]byte{0xde, 0xad}),
		JsonVal(`{"a":1}`),
		TimestampVal(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)),
	}
	for _, v := range values {
		t.Run(v.Kind.String(), func(t *testing.T) {
			data, err := v.MarshalJSON()
			require.NoError(t, err)
			var out Value
			require.NoError(t, out.UnmarshalJSON(data))
			assert.True(t, v.Equal(out), "got %+v", out)
		})
	}
}

func TestColumnSpec_DefaultOrZero(t *testing.T) {
	assert.Equal(t, BoolVal(false), Col("a", Known(Bool)).DefaultOrZero())
	assert.Equal(t, JsonVal("{}"), Col("a", Known(Json)).DefaultOrZero())
	assert.True(t, Col("a", Known(Int)).AsNullable().DefaultOrZero().IsNull())
	assert.True(t, Col("a", Named("UUID")).DefaultOrZero().IsNull())
	assert.Equal(t, TextVal("x"), Col("a", Known(Text)).WithDefault(TextVal("x")).DefaultOrZero())
}

func TestSnapshot_EqualIgnoresDerivedPrimaryKeyTypes(t *testing.T) {
	resolved, err := ResolveTypes(blogSnapshot())
	require.NoError(t, err)
	require.Contains(t, resolved.Types, PK("User"))

	comment := NewTable("Comment", Col("id", Known(Int)).AsPrimaryKey())
	applied, err := resolved.Apply(CreateTable{Table: comment})
	require.NoError(t, err)
	withComment := resolved.Clone()
	withComment.Tables["Comment"] = comment.Clone()
	target, err := ResolveTypes(withComment)
	require.NoError(t, err)
	require.Contains(t, target.Types, PK("Comment"))

	assert.True(t, applied.Equal(target))
	sum, err := applied.Checksum()
	require.NoError(t, err)
	targetSum, err := target.Checksum()
	require.NoError(t, err)
	assert.Equal(t, targetSum, sum)

	// Custom types still count.
	assert.False(t, applied.Equal(target.WithType(Custom("Money"), Known(BigInt))))
}
