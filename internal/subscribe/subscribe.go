// Package subscribe implements the subscription bus: a thread-safe registry
// of view and collection callbacks, notified synchronously from the
// Store's post-write pipeline.
package subscribe

import (
	"sync"
	"sync/atomic"
)

// Kind distinguishes what a subscription is keyed by.
type Kind uint8

const (
	KindCollection Kind = iota
	KindView
)

// ChangeEvent is delivered to collection subscribers.
type ChangeEvent struct {
	Type string // "Inserted", "Updated", or "Deleted"
	ID   string
	Data map[string]any // nil for Deleted
}

// ViewEvent is delivered to view subscribers: a full current-result snapshot.
type ViewEvent struct {
	Rows []map[string]any
}

type collectionSub struct {
	id   uint64
	name string
	cb   func(ChangeEvent)
}

type viewSub struct {
	id   uint64
	name string
	cb   func(ViewEvent)
}

// Manager is the subscription registry. Zero value is not usable; use [New].
type Manager struct {
	mu  sync.RWMutex
	seq atomic.Uint64

	collectionSubs []collectionSub
	viewSubs       []viewSub
}

// New returns an empty subscription registry.
func New() *Manager {
	return &Manager{}
}

// OnCollectionChange registers cb for every change to collection. Returns a
// stable, monotonically increasing subscription id.
func (m *Manager) OnCollectionChange(collection string, cb func(ChangeEvent)) uint64 {
	id := m.seq.Add(1)

	m.mu.Lock()
	m.collectionSubs = append(m.collectionSubs, collectionSub{id: id, name: collection, cb: cb})
	m.mu.Unlock()

	return id
}

// OnViewChange registers cb for every rebuild of view. Returns a stable,
// monotonically increasing subscription id.
func (m *Manager) OnViewChange(view string, cb func(ViewEvent)) uint64 {
	id := m.seq.Add(1)

	m.mu.Lock()
	m.viewSubs = append(m.viewSubs, viewSub{id: id, name: view, cb: cb})
	m.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription by id. Idempotent: unsubscribing an
// unknown or already-removed id is a no-op.
func (m *Manager) Unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.collectionSubs {
		if s.id == id {
			m.collectionSubs = append(m.collectionSubs[:i], m.collectionSubs[i+1:]...)

			return
		}
	}

	for i, s := range m.viewSubs {
		if s.id == id {
			m.viewSubs = append(m.viewSubs[:i], m.viewSubs[i+1:]...)

			return
		}
	}
}

// NotifyCollection synchronously invokes every subscriber registered for
// collection. Callbacks must be non-blocking and cheap; this call does not
// recover callback panics, matching the spec's "operations are short and
// synchronous, no cancellation" model.
func (m *Manager) NotifyCollection(collection string, ev ChangeEvent) {
	m.mu.RLock()
	subs := make([]collectionSub, 0, len(m.collectionSubs))

	for _, s := range m.collectionSubs {
		if s.name == collection {
			subs = append(subs, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range subs {
		s.cb(ev)
	}
}

// NotifyView synchronously invokes every subscriber registered for view.
func (m *Manager) NotifyView(view string, ev ViewEvent) {
	m.mu.RLock()
	subs := make([]viewSub, 0, len(m.viewSubs))

	for _, s := range m.viewSubs {
		if s.name == view {
			subs = append(subs, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range subs {
		s.cb(ev)
	}
}
