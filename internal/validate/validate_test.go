package validate_test

import (
	"strings"
	"testing"

	"github.com/groundb/groundb/internal/schema"
	"github.com/groundb/groundb/internal/validate"
)

func mustParseSchema(t *testing.T, raw string) *schema.Schema {
	t.Helper()

	sch, err := schema.ParseYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}

	return sch
}

func Test_Prepare_AppliesDefault_When_FieldAbsent(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    strict: true",
		"    path: posts/{id}.md",
		"    fields:",
		"      status:",
		"        type: string",
		"        default: draft",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["posts"], map[string]any{})

	if !res.OK() {
		t.Fatalf("want OK, got errors %v", res.Errors)
	}

	if res.Data["status"] != "draft" {
		t.Fatalf("status = %v, want draft", res.Data["status"])
	}
}

func Test_Prepare_RoutesIssues_ToErrors_When_Strict(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    strict: true",
		"    path: posts/{id}.md",
		"    fields:",
		"      title:",
		"        type: string",
		"        required: true",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["posts"], map[string]any{})

	if res.OK() {
		t.Fatal("want not OK for missing required field")
	}

	if len(res.Warnings) != 0 {
		t.Fatalf("want issues routed to Errors, got Warnings=%v", res.Warnings)
	}
}

func Test_Prepare_RoutesIssues_ToWarnings_When_NotStrict(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    path: posts/{id}.md",
		"    fields:",
		"      title:",
		"        type: string",
		"        required: true",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["posts"], map[string]any{})

	if !res.OK() {
		t.Fatalf("non-strict collection should never produce Errors, got %v", res.Errors)
	}

	if len(res.Warnings) != 1 {
		t.Fatalf("want one warning, got %v", res.Warnings)
	}
}

func Test_Prepare_RejectsUndeclaredField_When_AdditionalPropertiesFalse(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    strict: true",
		"    path: posts/{id}.md",
		"    additional_properties: false",
		"    fields:",
		"      title:",
		"        type: string",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["posts"], map[string]any{
		"title": "Hello",
		"extra": "nope",
	})

	if res.OK() {
		t.Fatal("want error for undeclared field")
	}
}

func Test_Prepare_ChecksEnumMembership(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    strict: true",
		"    path: posts/{id}.md",
		"    fields:",
		"      status:",
		"        type: string",
		"        enum: [draft, published]",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["posts"], map[string]any{"status": "archived"})

	if res.OK() {
		t.Fatal("want error for value not in enum")
	}
}

func Test_Prepare_ChecksRefField_AcceptsStringID_ForSingleTarget(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    path: posts/{id}.md",
		"  comments:",
		"    strict: true",
		"    path: comments/{id}.md",
		"    fields:",
		"      post:",
		"        type: ref",
		"        target: posts",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["comments"], map[string]any{"post": "hello-world"})

	if !res.OK() {
		t.Fatalf("want OK, got %v", res.Errors)
	}
}

func Test_Prepare_ChecksPolymorphicRef_RequiresTypeAndID(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    path: posts/{id}.md",
		"  pages:",
		"    path: pages/{id}.md",
		"  comments:",
		"    strict: true",
		"    path: comments/{id}.md",
		"    fields:",
		"      subject:",
		"        type: ref",
		"        target: [posts, pages]",
	}, "\n"))

	col := sch.Collections["comments"]

	bad := validate.Prepare(sch, col, map[string]any{"subject": map[string]any{"type": "posts"}})
	if bad.OK() {
		t.Fatal("want error: polymorphic ref mapping without an id")
	}

	good := validate.Prepare(sch, col, map[string]any{
		"subject": map[string]any{"type": "posts", "id": "hello-world"},
	})
	if !good.OK() {
		t.Fatalf("want OK, got %v", good.Errors)
	}
}

func Test_Prepare_RecursesIntoListItems(t *testing.T) {
	t.Parallel()

	sch := mustParseSchema(t, strings.Join([]string{
		"collections:",
		"  posts:",
		"    strict: true",
		"    path: posts/{id}.md",
		"    fields:",
		"      tags:",
		"        type: list",
		"        items:",
		"          type: string",
	}, "\n"))

	res := validate.Prepare(sch, sch.Collections["posts"], map[string]any{
		"tags": []any{"a", 5},
	})

	if res.OK() {
		t.Fatal("want error for non-string list item")
	}
}
