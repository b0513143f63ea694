package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shepherrrd/schemaflow"
)

type User struct {
	ID        int64     `schemaflow:"primary_key;auto"`
	Username  string    `schemaflow:"unique"`
	Email     string    `schemaflow:"unique"`
	IsActive  bool      `schemaflow:"default:true"`
	CreatedAt time.Time `schemaflow:"not_null"`
}

type Post struct {
	ID        int64     `schemaflow:"primary_key;auto"`
	Title     string    `schemaflow:"not_null"`
	Content   string    `schemaflow:"not_null"`
	AuthorID  int64     `schemaflow:"references:User"`
	Published bool      `schemaflow:"default:false"`
	Views     int32     `schemaflow:"default:0"`
	CreatedAt time.Time `schemaflow:"not_null"`
}

func main() {
	ctx := context.Background()

	workDir, err := os.MkdirTemp("", "schemaflow-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(workDir)

	db, err := schemaflow.NewDbContext(filepath.Join(workDir, "blog.db"), "sqlite")
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	users, err := schemaflow.RegisterEntity[User](db)
	if err != nil {
		log.Fatal(err)
	}
	posts, err := schemaflow.RegisterEntity[Post](db)
	if err != nil {
		log.Fatal(err)
	}

	// Record the declared schema as a migration for every backend, then
	// apply the sqlite rendering.
	mm, err := schemaflow.NewMigrationManager(filepath.Join(workDir, "migrations"), nil, "sqlite", "postgres", "mysql")
	if err != nil {
		log.Fatal(err)
	}
	snapshot, renames := db.Snapshot()
	m, err := mm.AddMigration(ctx, "init", snapshot, schemaflow.DiffOptions{ColumnRenames: renames})
	if err != nil {
		log.Fatalf("Failed to create migration: %v", err)
	}
	pgSQL, _ := m.UpSQL("postgres")
	fmt.Printf("postgres up SQL for %s:\n%s\n\n", m.Name, pgSQL)

	if _, err := mm.UpdateDatabase(ctx, db); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	author := &User{Username: "ada", Email: "ada@example.com", IsActive: true, CreatedAt: time.Now()}
	if err := users.Create(ctx, author); err != nil {
		log.Fatal(err)
	}
	for _, title := range []string{"First steps", "First principles", "Second thoughts"} {
		post := &Post{Title: title, Content: "...", AuthorID: author.ID, Published: title != "First principles", CreatedAt: time.Now()}
		if err := posts.Create(ctx, post); err != nil {
			log.Fatal(err)
		}
	}

	q := schemaflow.Query[Post](db).
		Where(schemaflow.Field("published").Eq(true)).
		Where(schemaflow.Field("title").Like("First%")).
		OrderBy("id")
	text, args, err := q.ToSQL()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s %v\n", text, args)

	found, err := q.ToList(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range found {
		fmt.Printf("  #%d %s\n", p.ID, p.Title)
	}

	// Posts by active users, through a subquery.
	active, err := schemaflow.Query[Post](db).
		Where(schemaflow.Field("author_id").InSelect("User", "id", schemaflow.Field("is_active").Eq(true))).
		Count(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("posts by active users: %d\n", active)
}
