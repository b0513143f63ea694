package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type author struct {
	ID    int64  `schemaflow:"primary_key;auto"`
	Email string `schemaflow:"unique"`
}

func (author) TableName() string { return "User" }

type article struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	Title       string          `schemaflow:"type:VARCHAR(200)"`
	AuthorID    int64           `schemaflow:"references:User"`
	Published   bool            `schemaflow:"default:false"`
	Views       int32           `schemaflow:"default:0"`
	Summary     *string         `schemaflow:"old_name:abstract"`
	Meta        json.RawMessage `schemaflow:"nullable"`
	Slug        string          `schemaflow:"custom:slug;column:url_slug"`
	PublishedAt time.Time
	Ignored     string `schemaflow:"-"`
	internal    string
}

func TestNewEntityModel(t *testing.T) {
	model, err := NewEntityModel(&article{})
	require.NoError(t, err)

	table := model.Table
	assert.Equal(t, "article", table.Name)
	assert.Equal(t, []string{"id", "title", "author_id", "published", "views", "summary", "meta", "url_slug", "published_at"}, table.ColumnNames())

	id, _ := table.Column("id")
	assert.True(t, id.PK)
	assert.True(t, id.Auto)
	assert.False(t, id.Nullable)

	title, _ := table.Column("title")
	assert.Equal(t, Named("VARCHAR(200)"), title.Type)

	ref, _ := table.Column("author_id")
	assert.Equal(t, Deferred(PK("User")), ref.Type)
	assert.Equal(t, &ForeignKeyRef{Table: "User", Column: "id"}, ref.Reference)

	published, _ := table.Column("published")
	require.NotNil(t, published.Default)
	assert.Equal(t, BoolVal(false), *published.Default)

	views, _ := table.Column("views")
	assert.Equal(t, Known(Int), views.Type)
	assert.Equal(t, IntVal(0), *views.Default)

	summary, _ := table.Column("summary")
	assert.True(t, summary.Nullable)
	assert.Equal(t, map[string]string{"abstract": "summary"}, model.Renames)

	meta, _ := table.Column("meta")
	assert.Equal(t, Known(Json), meta.Type)
	assert.True(t, meta.Nullable)

	slug, _ := table.Column("url_slug")
	assert.Equal(t, Deferred(Custom("slug")), slug.Type)

	at, _ := table.Column("published_at")
	assert.Equal(t, Known(Timestamp), at.Type)
}

func TestSnapshotFromEntities(t *testing.T) {
	s, renames, err := SnapshotFromEntities(author{}, article{})
	require.NoError(t, err)

	assert.Equal(t, []string{"User", "article"}, s.TableNames())
	assert.Equal(t, map[string]map[string]string{"article": {"abstract": "summary"}}, renames)

	resolved, err := ResolveTypes(s.WithType(Custom("slug"), Known(Text)))
	require.NoError(t, err)
	a, _ := resolved.Table("article")
	ref, _ := a.Column("author_id")
	assert.Equal(t, Known(BigInt), ref.Type)

	_, _, err = SnapshotFromEntities(author{}, &author{})
	assert.Error(t, err)
}

func TestNewEntityModel_Errors(t *testing.T) {
	_, err := NewEntityModel(42)
	assert.Error(t, err)

	type badDefault struct {
		N int32 `schemaflow:"default:many"`
	}
	_, err = NewEntityModel(badDefault{})
	assert.Error(t, err)

	type badType struct {
		C chan int
	}
	_, err = NewEntityModel(badType{})
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(Timestamp, "2024-01-02 03:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), v.Time)

	v, err = ParseValue(Text, "'hello'")
	require.NoError(t, err)
	assert.Equal(t, TextVal("hello"), v)

	v, err = ParseValue(Int, "NULL")
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	_, err = ParseValue(Json, "{nope")
	assert.Error(t, err)
}

type label struct {
	Code string `schemaflow:"primary_key"`
}

type taggedArticle struct {
	ID      int64    `schemaflow:"primary_key;auto"`
	Labels  []string `schemaflow:"many:label.code" gorm:"-"`
	Readers []int64  `schemaflow:"many:User;column:readers" gorm:"-"`
}

func TestNewEntityModel_ManyDeclaresAssociationTable(t *testing.T) {
	model, err := NewEntityModel(taggedArticle{})
	require.NoError(t, err)

	assert.Equal(t, []string{"id"}, columnNames(model.Table))
	require.Len(t, model.Associations, 2)

	labels, ok := model.Association("Labels")
	require.True(t, ok)
	assert.Equal(t, "taggedArticle", labels.Owner)
	assert.Equal(t, "id", labels.OwnerKey)
	assert.Equal(t, "label", labels.Target)
	assert.Equal(t, "code", labels.TargetKey)
	assert.Equal(t, "taggedArticle_labels_Many", labels.Table.Name)

	owner, _ := labels.Table.Column("owner")
	assert.Equal(t, Deferred(PK("taggedArticle")), owner.Type)
	assert.False(t, owner.Nullable)
	has, _ := labels.Table.Column("has")
	assert.Equal(t, Deferred(PK("label")), has.Type)
	for _, c := range labels.Table.Columns {
		assert.False(t, c.PK, "association tables have no primary key")
	}

	readers, ok := model.Association("readers")
	require.True(t, ok)
	assert.Equal(t, "User", readers.Target)
	assert.Equal(t, "id", readers.TargetKey)

	_, ok = model.Association("Missing")
	assert.False(t, ok)
}

func TestSnapshotFromEntities_ResolvesAssociationTypes(t *testing.T) {
	s, _, err := SnapshotFromEntities(author{}, label{}, taggedArticle{})
	require.NoError(t, err)
	assert.Equal(t, []string{"User", "label", "taggedArticle", "taggedArticle_labels_Many", "taggedArticle_readers_Many"}, s.TableNames())

	resolved, err := ResolveTypes(s)
	require.NoError(t, err)
	assoc, _ := resolved.Table("taggedArticle_labels_Many")
	owner, _ := assoc.Column("owner")
	assert.Equal(t, Known(BigInt), owner.Type)
	has, _ := assoc.Column("has")
	assert.Equal(t, Known(Text), has.Type)

	// The target must be declared too.
	s, _, err = SnapshotFromEntities(taggedArticle{})
	require.NoError(t, err)
	_, err = ResolveTypes(s)
	assert.Error(t, err)
}

func TestNewEntityModel_ManyRequiresOwnerKey(t *testing.T) {
	type keyless struct {
		Name   string
		Labels []string `schemaflow:"many:label" gorm:"-"`
	}
	_, err := NewEntityModel(keyless{})
	assert.ErrorContains(t, err, "many requires a primary key on keyless")
}

func columnNames(t *TableSpec) []string {
	var out []string
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}
