package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/groundb/groundb/internal/engine"
)

func openTestStore(t *testing.T, schemaYAML string) (*engine.Store, string) {
	t.Helper()

	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "schema.yaml"), []byte(schemaYAML), 0o644); err != nil {
		t.Fatalf("write schema.yaml: %v", err)
	}

	s, err := engine.Open(context.Background(), root, engine.Options{InMemoryIndex: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s, root
}

const postsCommentsSchema = `
collections:
  posts:
    path: posts/{id}.md
    content: true
    fields:
      title:
        type: string
        required: true
      status:
        type: string
        default: draft
  comments:
    path: comments/{id}.md
    fields:
      post:
        type: ref
        target: posts
`

func Test_Open_ReturnsError_When_SchemaFileMissing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	if _, err := engine.Open(context.Background(), root, engine.Options{InMemoryIndex: true}); err == nil {
		t.Fatal("want error when schema.yaml is absent")
	}
}

func Test_Open_FullScan_PicksUpPreExistingFilesOnDisk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "schema.yaml"), []byte(postsCommentsSchema), 0o644); err != nil {
		t.Fatalf("write schema.yaml: %v", err)
	}

	postsDir := filepath.Join(root, "posts")
	if err := os.MkdirAll(postsDir, 0o755); err != nil {
		t.Fatalf("mkdir posts: %v", err)
	}

	raw := "---\ntitle: Hello World\nstatus: draft\n---\n\nBody text.\n"
	if err := os.WriteFile(filepath.Join(postsDir, "hello-world.md"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write post: %v", err)
	}

	s, err := engine.Open(context.Background(), root, engine.Options{InMemoryIndex: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	doc, err := s.Get(context.Background(), "posts", "hello-world")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if doc.Data["title"] != "Hello World" {
		t.Fatalf("title = %v, want %q", doc.Data["title"], "Hello World")
	}
}

func Test_Open_Reopen_PreservesIndexedDocuments_ViaIncrementalScan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "schema.yaml"), []byte(postsCommentsSchema), 0o644); err != nil {
		t.Fatalf("write schema.yaml: %v", err)
	}

	ctx := context.Background()

	s1, err := engine.Open(ctx, root, engine.Options{})
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}

	if _, err := s1.Insert(ctx, "posts", map[string]any{"title": "Hello", "id": "hello-world"}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := engine.Open(ctx, root, engine.Options{})
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	defer s2.Close()

	doc, err := s2.Get(ctx, "posts", "hello-world")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}

	if doc.Data["title"] != "Hello" {
		t.Fatalf("title = %v, want Hello", doc.Data["title"])
	}
}

func Test_Open_RejectsBlockingMigration_RequiredFieldWithoutDefault(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	v1 := `
collections:
  posts:
    path: posts/{id}.md
`
	if err := os.WriteFile(filepath.Join(root, "schema.yaml"), []byte(v1), 0o644); err != nil {
		t.Fatalf("write v1 schema: %v", err)
	}

	ctx := context.Background()

	s1, err := engine.Open(ctx, root, engine.Options{})
	if err != nil {
		t.Fatalf("open v1: %v", err)
	}

	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	v2 := `
collections:
  posts:
    path: posts/{id}.md
    fields:
      title:
        type: string
        required: true
`
	if err := os.WriteFile(filepath.Join(root, "schema.yaml"), []byte(v2), 0o644); err != nil {
		t.Fatalf("write v2 schema: %v", err)
	}

	if _, err := engine.Open(ctx, root, engine.Options{}); err == nil {
		t.Fatal("want error: required field without default is a blocking migration")
	}
}
