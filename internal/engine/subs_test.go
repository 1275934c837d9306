package engine_test

import (
	"context"
	"testing"

	"github.com/groundb/groundb/internal/engine"
)

func Test_OnCollectionChange_DeliversInsertedEvent(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	var got engine.ChangeEvent

	s.OnCollectionChange("posts", func(ev engine.ChangeEvent) {
		got = ev
	})

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "a", "title": "A"}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got.Type != "Inserted" || got.ID != "a" {
		t.Fatalf("got = %+v, want Inserted event for id a", got)
	}
}

func Test_Unsubscribe_StopsDeliveringCollectionEvents(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, postsCommentsSchema)
	ctx := context.Background()

	count := 0

	id := s.OnCollectionChange("posts", func(engine.ChangeEvent) {
		count++
	})

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "a", "title": "A"}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s.Unsubscribe(id)

	if _, err := s.Insert(ctx, "posts", map[string]any{"id": "b", "title": "B"}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if count != 1 {
		t.Fatalf("count = %d, want 1 (no delivery after unsubscribe)", count)
	}
}
