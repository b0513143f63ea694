package migrations

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/models"
)

func TestFsStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, written := newBlogLedger(t, NewFsStore(dir))

	reopened := NewLedger(NewFsStore(dir))
	got, err := reopened.AllMigrations()
	require.NoError(t, err)
	want, err := written.AllMigrations()
	require.NoError(t, err)

	require.Equal(t, migrationNames(want), migrationNames(got))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].From, got[i].From)
		assert.Equal(t, want[i].Up, got[i].Up)
		assert.Equal(t, want[i].Down, got[i].Down)
		assert.Equal(t, want[i].Checksum, got[i].Checksum)
		assert.True(t, want[i].Schema.Equal(got[i].Schema), want[i].Name)
	}

	for _, f := range []string{"state.json", "init/info.json", "init/postgres_up.sql", "init/sqlite_down.sql", "add_published/mysql_up.sql"} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
}

func TestFsStore_SharesUnchangedTables(t *testing.T) {
	dir := t.TempDir()
	newBlogLedger(t, NewFsStore(dir))

	var info migrationInfo
	require.NoError(t, readJSON(filepath.Join(dir, "add_published", infoFile), &info))
	assert.Equal(t, map[string]string{"Post": "add_published", "User": "init"}, info.TableBases)
	assert.Equal(t, []string{"mysql", "postgres", "sqlite"}, info.Backends)

	assert.NoFileExists(t, filepath.Join(dir, "add_published", "User"+tableExt))
	assert.FileExists(t, filepath.Join(dir, "add_published", "Post"+tableExt))
}

func TestFsStore_PersistsRenameHints(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mm := NewMigrationManager(NewLedger(NewFsStore(dir)), drivers.NewSQLiteDriver())

	before := models.NewSnapshot(models.NewTable("Article",
		models.Col("id", models.Known(models.Int)).AsPrimaryKey(),
		models.Col("headline", models.Known(models.Text)),
	))
	after := models.NewSnapshot(models.NewTable("Post",
		models.Col("id", models.Known(models.Int)).AsPrimaryKey(),
		models.Col("title", models.Known(models.Text)),
	))
	hints := DiffOptions{
		TableRenames:  map[string]string{"Article": "Post"},
		ColumnRenames: map[string]map[string]string{"Post": {"headline": "title"}},
	}

	_, err := mm.AddMigration(ctx, "init", before, DiffOptions{})
	require.NoError(t, err)
	_, err = mm.AddMigration(ctx, "rename_article", after, hints)
	require.NoError(t, err)

	m, err := NewFsStore(dir).Get("rename_article")
	require.NoError(t, err)
	assert.Equal(t, hints.TableRenames, m.TableRenames)
	assert.Equal(t, hints.ColumnRenames, m.ColumnRenames)

	// SQL rendered later for another backend still renames instead of
	// dropping the table.
	ledger := NewLedger(NewFsStore(dir))
	require.NoError(t, ledger.AddBackend(drivers.NewPostgreSQLDriver()))
	m, err = ledger.Store().Get("rename_article")
	require.NoError(t, err)
	up, err := m.UpSQL("postgres")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(up, "ALTER TABLE Article RENAME TO Post;"), up)
	assert.Contains(t, up, "ALTER TABLE Post RENAME COLUMN headline TO title;")
}

func TestFsStore_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	newBlogLedger(t, NewFsStore(dir))

	path := filepath.Join(dir, "add_published", "Post"+tableExt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"name": "title"`, `"name": "body"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = NewFsStore(dir).Get("add_published")
	assert.ErrorIs(t, err, dberrors.ErrChecksumMismatch)
}

func TestFsStore_DeleteAndNames(t *testing.T) {
	dir := t.TempDir()
	store := NewFsStore(dir)
	newBlogLedger(t, store)

	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"add_published", "init"}, names)

	require.NoError(t, store.Delete("add_published"))
	assert.NoDirExists(t, filepath.Join(dir, "add_published"))

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = store.Get("add_published")
	assert.ErrorIs(t, err, dberrors.ErrUnknownMigration)
	assert.ErrorIs(t, store.Delete("add_published"), dberrors.ErrUnknownMigration)
	assert.ErrorIs(t, store.SetLatest("add_published"), dberrors.ErrUnknownMigration)

	require.NoError(t, store.SetLatest("init"))
	latest, err = store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "init", latest.Name)
}

func TestFsStore_EmptyDirectory(t *testing.T) {
	store := NewFsStore(filepath.Join(t.TempDir(), "missing"))

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	names, err := store.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}
