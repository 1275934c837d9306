package engine

import "github.com/groundb/groundb/internal/subscribe"

// ChangeEvent re-exports subscribe.ChangeEvent at the engine boundary.
type ChangeEvent = subscribe.ChangeEvent

// OnCollectionChange registers cb for every write to collection.
func (s *Store) OnCollectionChange(collection string, cb func(ChangeEvent)) uint64 {
	return s.subs.OnCollectionChange(collection, cb)
}

// OnViewChange registers cb for every rebuild of view, delivered as its
// trimmed (unbuffered) row set.
func (s *Store) OnViewChange(view string, cb func(rows []map[string]any)) uint64 {
	return s.subs.OnViewChange(view, func(ev subscribe.ViewEvent) {
		cb(ev.Rows)
	})
}

// Unsubscribe removes a subscription by id. Idempotent.
func (s *Store) Unsubscribe(id uint64) {
	s.subs.Unsubscribe(id)
}
