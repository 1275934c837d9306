package groundb_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/groundb/groundb"
)

const groundbTestSchema = `
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

func openTestGroundb(t *testing.T) *groundb.Store {
	t.Helper()

	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "schema.yaml"), []byte(groundbTestSchema), 0o644); err != nil {
		t.Fatalf("write schema.yaml: %v", err)
	}

	s, err := groundb.Open(context.Background(), root, groundb.Options{InMemoryIndex: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func Test_Open_Insert_Get_Delete_EndToEnd(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)
	ctx := context.Background()

	posts := s.Collection("posts")

	doc, err := posts.Insert(ctx, map[string]any{"id": "hello-world", "title": "Hello World"}, "body text")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if doc.Data["status"] != "draft" {
		t.Fatalf("status = %v, want draft default", doc.Data["status"])
	}

	got, err := posts.Get(ctx, "hello-world")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Content != "body text" {
		t.Fatalf("content = %q, want body text", got.Content)
	}

	if err := posts.Delete(ctx, "hello-world"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := posts.Get(ctx, "hello-world"); err == nil {
		t.Fatal("want not found after delete")
	}
}

func Test_Get_ReturnsGroundbError_With_KindNotFound(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)

	_, err := s.Collection("posts").Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("want error for missing document")
	}

	var gerr *groundb.Error
	if !errors.As(err, &gerr) {
		t.Fatalf("err = %v (%T), want *groundb.Error", err, err)
	}

	if gerr.Kind != groundb.KindNotFound {
		t.Fatalf("Kind = %v, want KindNotFound", gerr.Kind)
	}

	if gerr.Collection != "posts" || gerr.ID != "missing" {
		t.Fatalf("gerr = %+v, want collection/id context populated", gerr)
	}
}

func Test_Insert_ReturnsPathConflictError_OnDuplicateID(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)
	ctx := context.Background()

	posts := s.Collection("posts")

	if _, err := posts.Insert(ctx, map[string]any{"id": "dup", "title": "First"}, ""); err != nil {
		t.Fatalf("insert 1: %v", err)
	}

	_, err := posts.Insert(ctx, map[string]any{"id": "dup", "title": "Second"}, "")
	if err == nil {
		t.Fatal("want path conflict error")
	}

	var gerr *groundb.Error
	if !errors.As(err, &gerr) {
		t.Fatalf("err = %v (%T), want *groundb.Error", err, err)
	}

	if gerr.Kind != groundb.KindPathConflict {
		t.Fatalf("Kind = %v, want KindPathConflict", gerr.Kind)
	}
}

func Test_Delete_ReturnsReferentialIntegrityError_When_Referenced(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)
	ctx := context.Background()

	if _, err := s.Collection("posts").Insert(ctx, map[string]any{"id": "hello-world", "title": "Hello"}, ""); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	if _, err := s.Collection("comments").Insert(ctx, map[string]any{"id": "c1", "post": "hello-world"}, ""); err != nil {
		t.Fatalf("insert comment: %v", err)
	}

	err := s.Collection("posts").Delete(ctx, "hello-world")
	if err == nil {
		t.Fatal("want referential integrity error")
	}

	var gerr *groundb.Error
	if !errors.As(err, &gerr) {
		t.Fatalf("err = %v (%T), want *groundb.Error", err, err)
	}

	if gerr.Kind != groundb.KindReferentialIntegrity {
		t.Fatalf("Kind = %v, want KindReferentialIntegrity", gerr.Kind)
	}
}

func Test_Batch_Execute_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)
	ctx := context.Background()

	_, err := s.Batch().
		Insert("posts", map[string]any{"id": "a", "title": "A"}, "").
		Insert("posts", map[string]any{"title": "No explicit id"}, "").
		Execute(ctx)
	if err == nil {
		t.Fatal("want batch failure")
	}

	if _, getErr := s.Collection("posts").Get(ctx, "a"); getErr == nil {
		t.Fatal("want first insert rolled back")
	}
}

func Test_OnCollectionChange_DeliversEventsThroughFacade(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)
	ctx := context.Background()

	var got groundb.ChangeEvent

	s.OnCollectionChange("posts", func(ev groundb.ChangeEvent) {
		got = ev
	})

	if _, err := s.Collection("posts").Insert(ctx, map[string]any{"id": "a", "title": "A"}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got.Type != "Inserted" || got.ID != "a" {
		t.Fatalf("got = %+v, want Inserted event for id a", got)
	}
}

func Test_Status_ReportsNonEmptySchemaHash(t *testing.T) {
	t.Parallel()

	s := openTestGroundb(t)

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.SchemaHash == "" {
		t.Fatal("want non-empty schema hash")
	}
}
