package engine_test

import (
	"context"
	"testing"
)

func Test_Insert_Then_Get_RoundTrips(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	doc, err := s.Insert(ctx, "posts", map[string]any{"id": "hello-world", "title": "Hello World"}, "body text")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if doc.ID != "hello-world" || doc.Data["status"] != "draft" {
		t.Fatalf("doc = %+v, want default status applied", doc)
	}

	got, err := s.Get(ctx, "posts", "hello-world")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Content != "body text" {
		t.Fatalf("content = %q, want %q", got.Content, "body text")
	}
}

const strictPostsSchema = `
collections:
  posts:
    path: posts/{id}.md
    strict: true
    fields:
      title:
        type: string
        required: true
`

func Test_Insert_ReturnsValidationError_When_RequiredFieldMissing_AndStrict(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, strictPostsSchema)

	if _, err := s.Insert(context.Background(), "posts", map[string]any{"id": "no-title"}, ""); err == nil {
		t.Fatal("want validation error for missing required title")
	}
}

func Test_Insert_Succeeds_With_MissingRequiredField_When_NotStrict(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)

	doc, err := s.Insert(context.Background(), "posts", map[string]any{"id": "no-title"}, "")
	if err != nil {
		t.Fatalf("insert: %v, want non-strict collection to only warn on missing required field", err)
	}

	if doc.ID != "no-title" {
		t.Fatalf("doc.ID = %q, want no-title", doc.ID)
	}
}

func Test_Insert_ReturnsError_When_CollectionUnknown(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)

	if _, err := s.Insert(context.Background(), "ghosts", map[string]any{}, ""); err == nil {
		t.Fatal("want error for unknown collection")
	}
}

func Test_Insert_ResolvesPathConflict_BySuffix(t *testing.T) {
	t.Parallel()

	schemaYAML := `
collections:
  posts:
    path: posts/{id}.md
    id:
      on_conflict: suffix
    fields:
      title:
        type: string
        required: true
`
	s, _ := openTestStore(t, schemaYAML)
	ctx := context.Background()

	first, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "First"}, "")
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}

	second, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "Second"}, "")
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	if first.ID != "hello" {
		t.Fatalf("first.ID = %q, want hello", first.ID)
	}

	if second.ID == "hello" {
		t.Fatal("want second insert's id to differ after conflict resolution")
	}
}

func Test_Insert_ReturnsError_When_PathConflicts_AndOnConflictIsError(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "First"}, ""); err != nil {
		t.Fatalf("insert 1: %v", err)
	}

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "Second"}, ""); err == nil {
		t.Fatal("want path conflict error with default on_conflict=error")
	}
}

func Test_Insert_GeneratesAutoID_When_CollectionDeclaresAutoStrategy(t *testing.T) {
	t.Parallel()

	schemaYAML := `
collections:
  posts:
    path: posts/{id}.md
    id:
      auto: uuid
    fields:
      title:
        type: string
`
	s, _ := openTestStore(t, schemaYAML)

	doc, err := s.Insert(context.Background(), "posts", map[string]any{"title": "Auto"}, "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if doc.ID == "" {
		t.Fatal("want a generated id")
	}
}

func Test_Insert_ReturnsError_When_NoAutoIDAndNoExplicitID(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)

	if _, err := s.Insert(context.Background(), "posts", map[string]any{"title": "No ID"}, ""); err == nil {
		t.Fatal("want error: collection requires explicit id")
	}
}

func Test_Update_ReplacesDataAndContent(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "Original"}, "v1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := s.Update(ctx, "posts", "hello", map[string]any{"title": "Changed", "status": "published"}, "v2")
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Data["title"] != "Changed" || updated.Content != "v2" {
		t.Fatalf("updated = %+v", updated)
	}
}

func Test_Update_ReturnsError_When_DocumentMissing(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)

	if _, err := s.Update(context.Background(), "posts", "missing", map[string]any{"title": "x"}, ""); err == nil {
		t.Fatal("want not found error")
	}
}

func Test_UpdatePartial_MergesPatchOntoCurrent_LeavingOtherFieldsUntouched(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "Original", "status": "draft"}, "body"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := s.UpdatePartial(ctx, "posts", "hello", map[string]any{"status": "published"})
	if err != nil {
		t.Fatalf("update partial: %v", err)
	}

	if updated.Data["title"] != "Original" || updated.Data["status"] != "published" {
		t.Fatalf("updated.Data = %+v", updated.Data)
	}

	if updated.Content != "body" {
		t.Fatalf("content = %q, want preserved body", updated.Content)
	}
}

func Test_Delete_RemovesDocument(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "hello", "title": "Gone Soon"}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.Delete(ctx, "posts", "hello"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get(ctx, "posts", "hello"); err == nil {
		t.Fatal("want not found after delete")
	}
}

func Test_Insert_ReturnsError_When_CollectionIsReadonly(t *testing.T) {
	t.Parallel()

	schemaYAML := `
collections:
  posts:
    path: posts/{id}.md
    readonly: true
    fields:
      title:
        type: string
`
	s, _ := openTestStore(t, schemaYAML)

	if _, err := s.Insert(context.Background(), "posts", map[string]any{"id": "hello", "title": "x"}, ""); err == nil {
		t.Fatal("want error inserting into a readonly collection")
	}
}

func Test_List_ReturnsAllDocuments(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Insert(ctx, "posts", map[string]any{"id": id, "title": id}, ""); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	docs, err := s.List(ctx, "posts")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(docs) != 3 {
		t.Fatalf("len(docs) = %d, want 3", len(docs))
	}
}
