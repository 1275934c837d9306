package pathtemplate_test

import (
	"testing"
	"time"

	"github.com/groundb/groundb/internal/pathtemplate"
)

func Test_Parse_ReturnsError_When_BraceUnclosed(t *testing.T) {
	t.Parallel()

	if _, err := pathtemplate.Parse("posts/{slug"); err == nil {
		t.Fatal("want error for unclosed brace")
	}
}

func Test_Parse_ReturnsError_When_SegmentEmpty(t *testing.T) {
	t.Parallel()

	if _, err := pathtemplate.Parse("posts/{}/x"); err == nil {
		t.Fatal("want error for empty segment")
	}
}

func Test_Render_SlugifiesFieldValues(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{title}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, err := pathtemplate.Render(tmpl, map[string]any{"title": "Hello, World!"}, "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if want := "posts/hello-world.md"; got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func Test_Render_PrefersExplicitID_Over_FieldsID(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{id}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, err := pathtemplate.Render(tmpl, map[string]any{"id": "from-fields"}, "from-id")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if want := "posts/from-id.md"; got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func Test_Render_ReturnsError_When_RequiredFieldMissing(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{title}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, err := pathtemplate.Render(tmpl, map[string]any{}, ""); err == nil {
		t.Fatal("want error for missing field")
	}
}

func Test_Render_FormatsDateSegment(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{published_at:YYYY-MM-DD}/{title}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	published := time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)

	got, err := pathtemplate.Render(tmpl, map[string]any{
		"published_at": published,
		"title":        "My Post",
	}, "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if want := "posts/2024-03-07/my-post.md"; got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func Test_Render_DisambiguatesSecondMM_AsMinute(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("log/{at:YYYY-MM-DDTHH-MM-SS}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	at := time.Date(2024, time.March, 7, 13, 45, 9, 0, time.UTC)

	got, err := pathtemplate.Render(tmpl, map[string]any{"at": at}, "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if want := "log/2024-03-07T13-45-09.md"; got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func Test_Render_ResolvesNestedRefField(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("comments/{post:id}/{id}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, err := pathtemplate.Render(tmpl, map[string]any{
		"post": map[string]any{"type": "post", "id": "hello-world"},
	}, "c1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if want := "comments/hello-world/c1.md"; got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func Test_Extract_IsInverseOfRender_ForSimpleAndDateSegments(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{published_at:YYYY-MM-DD}/{slug}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, ok := pathtemplate.Extract(tmpl, "posts/2024-03-07/hello-world.md")
	if !ok {
		t.Fatal("extract: want ok")
	}

	if got["published_at"] != "2024-03-07" {
		t.Fatalf("published_at = %q", got["published_at"])
	}

	if got["slug"] != "hello-world" {
		t.Fatalf("slug = %q", got["slug"])
	}
}

func Test_Extract_ReturnsFalse_When_LiteralPrefixMismatches(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{slug}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, ok := pathtemplate.Extract(tmpl, "drafts/hello.md"); ok {
		t.Fatal("extract: want not ok")
	}
}

func Test_ReferencedFields_DedupesInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/{category}/{category}-{slug}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := tmpl.ReferencedFields()
	want := []string{"category", "slug"}

	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ReferencedFields = %v, want %v", got, want)
	}
}

func Test_BaseDirectory_ReturnsLiteralPrefixBeforeFirstField(t *testing.T) {
	t.Parallel()

	tmpl, err := pathtemplate.Parse("posts/drafts/{slug}.md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got, want := tmpl.BaseDirectory(), "posts/drafts"; got != want {
		t.Fatalf("BaseDirectory = %q, want %q", got, want)
	}
}

func Test_Slugify_CollapsesNonAlphanumericRuns(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Hello, World!": "hello-world",
		"  leading":     "leading",
		"trailing  ":    "trailing",
		"a---b":         "a-b",
		"":              "",
	}

	for in, want := range cases {
		if got := pathtemplate.Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
