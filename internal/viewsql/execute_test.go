package viewsql_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/groundb/groundb/internal/viewsql"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`CREATE TABLE documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		path TEXT NOT NULL,
		data_json TEXT NOT NULL,
		content_text TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		modified_at DATETIME NOT NULL
	)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	return db
}

func Test_Execute_ReturnsRows_ForRewrittenViewSQL(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, path, data_json, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"posts", "hello-world", "posts/hello-world.md", `{"title":"Hello"}`, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sqlText := "WITH posts AS (\n  SELECT id, created_at, modified_at, json_extract(data_json, '$.title') AS title\n  FROM documents\n  WHERE collection = 'posts'\n)\nSELECT id, title FROM posts"

	rows, err := viewsql.Execute(ctx, db, sqlText, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("rows = %+v, want 1", rows)
	}

	if rows[0]["id"] != "hello-world" || rows[0]["title"] != "Hello" {
		t.Fatalf("rows[0] = %+v", rows[0])
	}
}

func Test_Execute_BindsNamedParams(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO documents (collection, id, path, data_json, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?)`,
			"posts", id, "posts/"+id+".md", `{}`, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
		); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	sqlText := "WITH posts AS (\n  SELECT id FROM documents WHERE collection = 'posts'\n)\nSELECT id FROM posts WHERE id = :target"

	rows, err := viewsql.Execute(ctx, db, sqlText, map[string]any{"target": "b"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(rows) != 1 || rows[0]["id"] != "b" {
		t.Fatalf("rows = %+v, want single row id=b", rows)
	}
}

func Test_Execute_NormalizesByteSlicesToStrings(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, path, data_json, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"posts", "a", "posts/a.md", `{"title":"A"}`, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sqlText := "WITH posts AS (\n  SELECT id, json_extract(data_json, '$.title') AS title FROM documents WHERE collection = 'posts'\n)\nSELECT title FROM posts"

	rows, err := viewsql.Execute(ctx, db, sqlText, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if _, isBytes := rows[0]["title"].([]byte); isBytes {
		t.Fatalf("title should be normalized to string, got []byte: %+v", rows[0])
	}

	if rows[0]["title"] != "A" {
		t.Fatalf("title = %v, want A", rows[0]["title"])
	}
}

func Test_Execute_ReturnsError_When_SQLInvalid(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	if _, err := viewsql.Execute(context.Background(), db, "SELECT * FROM nonexistent_table", nil); err == nil {
		t.Fatal("want error for invalid SQL")
	}
}
