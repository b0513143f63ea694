package drivers

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
)

func userTable() *models.TableSpec {
	return models.NewTable("User",
		models.Col("id", models.Known(models.Int)).AsPrimaryKey().AsAutoIncrement(),
		models.Col("username", models.Known(models.Text)).AsUnique(),
		models.Col("is_active", models.Known(models.Bool)).WithDefault(models.BoolVal(true)),
	)
}

func postTable(extra ...models.ColumnSpec) *models.TableSpec {
	cols := []models.ColumnSpec{
		models.Col("id", models.Known(models.Int)).AsPrimaryKey().AsAutoIncrement(),
		models.Col("title", models.Known(models.Text)),
	}
	return models.NewTable("Post", append(cols, extra...)...)
}

var (
	authorCol = models.Col("author_id", models.Known(models.Int)).WithReference("User", "id")
	viewsCol  = models.Col("views", models.Known(models.Int))
)

type renderCase struct {
	name    string
	current *models.Snapshot
	ops     []models.Operation
}

func renderCases() []renderCase {
	blog := models.NewSnapshot(userTable(), postTable(authorCol))
	withViews := models.NewSnapshot(postTable(viewsCol))
	nullableTitle := models.NewSnapshot(models.NewTable("Post",
		models.Col("id", models.Known(models.Int)).AsPrimaryKey().AsAutoIncrement(),
		models.Col("title", models.Known(models.Text)).AsNullable(),
	))

	return []renderCase{
		{
			name: "create_blog",
			ops: []models.Operation{
				models.CreateTable{Table: userTable()},
				models.CreateTable{Table: postTable(authorCol)},
				models.AddTableConstraints{Table: postTable(authorCol)},
			},
		},
		{
			name:    "add_published",
			current: models.NewSnapshot(postTable()),
			ops: []models.Operation{
				models.AddColumn{Table: "Post", Column: models.Col("published", models.Known(models.Bool)).WithDefault(models.BoolVal(false))},
			},
		},
		{
			name:    "rename_title",
			current: nullableTitle,
			ops: []models.Operation{
				models.ChangeColumn{
					Table: "Post",
					Old:   models.Col("title", models.Known(models.Text)).AsNullable(),
					New:   models.Col("headline", models.Known(models.Text)).WithDefault(models.TextVal("untitled")),
				},
			},
		},
		{
			name:    "retype_views",
			current: withViews,
			ops: []models.Operation{
				models.ChangeColumn{Table: "Post", Old: viewsCol, New: models.Col("views", models.Known(models.BigInt))},
			},
		},
		{
			name:    "remove_views",
			current: withViews,
			ops: []models.Operation{
				models.RemoveColumn{Table: "Post", Column: viewsCol},
			},
		},
		{
			name:    "rename_table",
			current: blog,
			ops: []models.Operation{
				models.RenameTable{From: "Post", To: "Article"},
			},
		},
		{
			name:    "drop_blog",
			current: blog,
			ops: []models.Operation{
				models.RemoveTableConstraints{Table: postTable(authorCol)},
				models.DropTable{Table: postTable(authorCol)},
				models.DropTable{Table: userTable()},
			},
		},
	}
}

func TestRenderOperations_Golden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))

	for _, backend := range Names() {
		driver, err := NewDriver(backend)
		require.NoError(t, err)

		for _, tc := range renderCases() {
			t.Run(backend+"/"+tc.name, func(t *testing.T) {
				sql, err := driver.RenderOperations(tc.current, tc.ops)
				require.NoError(t, err)
				g.Assert(t, backend+"_"+tc.name, []byte(sql+"\n"))
			})
		}
	}
}

func TestPostgres_AddColumnWithDefault(t *testing.T) {
	sql, err := NewPostgreSQLDriver().RenderOperations(models.NewSnapshot(postTable()), []models.Operation{
		models.AddColumn{Table: "Post", Column: models.Col("published", models.Known(models.Bool)).WithDefault(models.BoolVal(false))},
	})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE Post ADD COLUMN published BOOLEAN NOT NULL DEFAULT false;", sql)
}

func TestRender_NotNullColumnBackfillsZero(t *testing.T) {
	op := models.AddColumn{Table: "Post", Column: viewsCol}

	sql, err := NewPostgreSQLDriver().RenderOperations(models.NewSnapshot(postTable()), []models.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE Post ADD COLUMN views INTEGER NOT NULL DEFAULT 0;\nALTER TABLE Post ALTER COLUMN views DROP DEFAULT;", sql)

	sql, err = NewMySQLDriver().RenderOperations(models.NewSnapshot(postTable()), []models.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE Post ADD COLUMN views INT NOT NULL DEFAULT 0;\nALTER TABLE Post ALTER COLUMN views DROP DEFAULT;", sql)

	// SQLite cannot drop a default in place, so the table is rebuilt.
	sql, err = NewSQLiteDriver().RenderOperations(models.NewSnapshot(postTable()), []models.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE Post__schemaflow_tmp (
  id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  views INTEGER NOT NULL
);
INSERT INTO Post__schemaflow_tmp (id, title, views) SELECT id, title, 0 FROM Post;
DROP TABLE Post;
ALTER TABLE Post__schemaflow_tmp RENAME TO Post;`, sql)
}

func TestSQLite_UniqueColumnRebuilds(t *testing.T) {
	op := models.AddColumn{Table: "Post", Column: models.Col("slug", models.Known(models.Text)).AsUnique().AsNullable()}

	sql, err := NewSQLiteDriver().RenderOperations(models.NewSnapshot(postTable()), []models.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE Post__schemaflow_tmp (
  id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  slug TEXT UNIQUE
);
INSERT INTO Post__schemaflow_tmp (id, title) SELECT id, title FROM Post;
DROP TABLE Post;
ALTER TABLE Post__schemaflow_tmp RENAME TO Post;`, sql)
}

func TestRender_UnresolvedType(t *testing.T) {
	deferred := models.Col("author_id", models.Deferred(models.PK("User")))
	ops := []models.Operation{models.CreateTable{Table: postTable(deferred)}}

	for _, backend := range Names() {
		driver, err := NewDriver(backend)
		require.NoError(t, err)

		_, err = driver.RenderOperations(nil, ops)
		require.Error(t, err, backend)
		var unresolved *dberrors.UnresolvedTypeError
		require.ErrorAs(t, err, &unresolved, backend)
		assert.Equal(t, "Post", unresolved.Table)
		assert.Equal(t, "author_id", unresolved.Column)
	}
}

func TestRender_UnsupportedOperations(t *testing.T) {
	autoText := models.Col("code", models.Known(models.Text)).AsPrimaryKey().AsAutoIncrement()

	tests := []struct {
		name   string
		driver DatabaseDriver
		ops    []models.Operation
		cur    *models.Snapshot
	}{
		{
			name:   "postgres auto-increment text",
			driver: NewPostgreSQLDriver(),
			ops:    []models.Operation{models.CreateTable{Table: models.NewTable("Tag", autoText)}},
		},
		{
			name:   "mysql auto-increment text",
			driver: NewMySQLDriver(),
			ops:    []models.Operation{models.CreateTable{Table: models.NewTable("Tag", autoText)}},
		},
		{
			name:   "sqlite auto-increment outside primary key",
			driver: NewSQLiteDriver(),
			ops: []models.Operation{models.CreateTable{Table: models.NewTable("Tag",
				models.Col("seq", models.Known(models.Int)).AsAutoIncrement())}},
		},
		{
			name:   "postgres toggles auto-increment",
			driver: NewPostgreSQLDriver(),
			cur:    models.NewSnapshot(postTable(viewsCol)),
			ops: []models.Operation{models.ChangeColumn{
				Table: "Post", Old: viewsCol, New: viewsCol.AsAutoIncrement(),
			}},
		},
		{
			name:   "mysql toggles auto-increment",
			driver: NewMySQLDriver(),
			cur:    models.NewSnapshot(postTable(viewsCol)),
			ops: []models.Operation{models.ChangeColumn{
				Table: "Post", Old: viewsCol, New: viewsCol.AsAutoIncrement(),
			}},
		},
		{
			name:   "sqlite rebuild of missing table",
			driver: NewSQLiteDriver(),
			ops:    []models.Operation{models.RemoveColumn{Table: "Post", Column: viewsCol}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.driver.RenderOperations(tt.cur, tt.ops)
			require.Error(t, err)
			var unsupported *dberrors.UnsupportedOperationError
			require.ErrorAs(t, err, &unsupported)
			assert.Equal(t, tt.driver.Name(), unsupported.Backend)
		})
	}
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		col                     models.ColumnSpec
		postgres, mysql, sqlite string
	}{
		{models.Col("a", models.Known(models.Bool)), "BOOLEAN", "BOOLEAN", "INTEGER"},
		{models.Col("a", models.Known(models.BigInt)), "BIGINT", "BIGINT", "INTEGER"},
		{models.Col("a", models.Known(models.Real)), "DOUBLE PRECISION", "DOUBLE", "REAL"},
		{models.Col("a", models.Known(models.Text)), "TEXT", "TEXT", "TEXT"},
		{models.Col("a", models.Known(models.Text)).AsUnique(), "TEXT", "VARCHAR(255)", "TEXT"},
		{models.Col("a", models.Known(models.Blob)), "BYTEA", "BLOB", "BLOB"},
		{models.Col("a", models.Known(models.Json)), "JSONB", "JSON", "TEXT"},
		{models.Col("a", models.Known(models.Timestamp)), "TIMESTAMP", "DATETIME", "TEXT"},
		{models.Col("a", models.Named("CITEXT")), "CITEXT", "CITEXT", "CITEXT"},
		{models.Col("a", models.Known(models.BigInt)).AsPrimaryKey().AsAutoIncrement(), "BIGSERIAL", "BIGINT", "INTEGER"},
	}

	pg, my, lite := NewPostgreSQLDriver(), NewMySQLDriver(), NewSQLiteDriver()
	for _, tt := range tests {
		got, err := pg.ColumnType(tt.col)
		require.NoError(t, err)
		assert.Equal(t, tt.postgres, got, "postgres %s", tt.col.Type)

		got, err = my.ColumnType(tt.col)
		require.NoError(t, err)
		assert.Equal(t, tt.mysql, got, "mysql %s", tt.col.Type)

		got, err = lite.ColumnType(tt.col)
		require.NoError(t, err)
		assert.Equal(t, tt.sqlite, got, "sqlite %s", tt.col.Type)
	}
}

func TestLiteralStyle(t *testing.T) {
	pg := NewPostgreSQLDriver().literals
	my := NewMySQLDriver().literals

	assert.Equal(t, `'it''s \ ok'`, pg.render(models.TextVal(`it's \ ok`)))
	assert.Equal(t, `'it''s \\ ok'`, my.render(models.TextVal(`it's \ ok`)))
	assert.Equal(t, `'\x01ff'::bytea`, pg.render(models.BlobVal([]byte{0x01, 0xff})))
	assert.Equal(t, `x'01ff'`, my.render(models.BlobVal([]byte{0x01, 0xff})))
	assert.Equal(t, "NULL", pg.render(models.Null()))
	assert.Equal(t, "2.5", pg.render(models.RealVal(2.5)))
	assert.Equal(t, "-7", pg.render(models.BigIntVal(-7)))
}

func TestMySQL_ExpressionDefaults(t *testing.T) {
	col := models.Col("bio", models.Known(models.Text)).WithDefault(models.TextVal(""))
	sql, err := NewMySQLDriver().RenderOperations(models.NewSnapshot(postTable()), []models.Operation{
		models.AddColumn{Table: "Post", Column: col},
	})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE Post ADD COLUMN bio TEXT NOT NULL DEFAULT ('');", sql)
}
