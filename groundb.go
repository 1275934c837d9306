// Package groundb is a schema-driven, file-first data engine: documents
// live as YAML-front-matter files under a root directory, a SQLite system
// index keeps them queryable, and declared SQL views project collections
// into derived shapes kept in sync as documents change.
//
// Open a root with [Open]; every subsequent operation goes through the
// returned *Store.
package groundb

import (
	"context"
	"errors"
	"fmt"

	"github.com/groundb/groundb/internal/engine"
)

// Store is the handle returned by Open. It wraps the internal engine and
// translates its errors into the package's [Error] taxonomy.
type Store struct {
	eng *engine.Store
}

// Document is one schema-validated document: its id, collection, rendered
// path, timestamps, field data, and optional body content.
type Document = engine.Document

// Status is the result of Store.Status.
type Status = engine.Status

// ValidateReport is one document's outcome from Store.ValidateAll.
type ValidateReport = engine.ValidateReport

// ChangeEvent is delivered to collection subscribers.
type ChangeEvent = engine.ChangeEvent

// Options configures Open.
type Options struct {
	InMemoryIndex bool
}

// Open loads root/schema.yaml, opens (or creates) root/_system.db, boots
// the store — full or incremental scan, migration check, view rebuild —
// and returns a ready-to-use Store.
func Open(ctx context.Context, root string, opts Options) (*Store, error) {
	eng, err := engine.Open(ctx, root, engine.Options{InMemoryIndex: opts.InMemoryIndex})
	if err != nil {
		return nil, translate("", "", "", err)
	}

	return &Store{eng: eng}, nil
}

// Close releases the store's index and watcher handles.
func (s *Store) Close() error {
	return s.eng.Close()
}

// Collection returns a handle scoped to one collection's operations.
func (s *Store) Collection(name string) *CollectionHandle {
	return &CollectionHandle{store: s, name: name}
}

// CollectionHandle groups every operation scoped to one collection.
type CollectionHandle struct {
	store *Store
	name  string
}

// Get returns one document by id.
func (c *CollectionHandle) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := c.store.eng.Get(ctx, c.name, id)

	return doc, translate(c.name, id, "", err)
}

// List returns every document in the collection, ordered by id.
func (c *CollectionHandle) List(ctx context.Context) ([]*Document, error) {
	docs, err := c.store.eng.List(ctx, c.name)

	return docs, translate(c.name, "", "", err)
}

// Insert validates and writes a new document, returning it with its
// assigned id and rendered path.
func (c *CollectionHandle) Insert(ctx context.Context, data map[string]any, content string) (*Document, error) {
	doc, err := c.store.eng.Insert(ctx, c.name, data, content)

	return doc, translate(c.name, "", "", err)
}

// Update fully replaces a document's data and content.
func (c *CollectionHandle) Update(ctx context.Context, id string, data map[string]any, content string) (*Document, error) {
	doc, err := c.store.eng.Update(ctx, c.name, id, data, content)

	return doc, translate(c.name, id, "", err)
}

// UpdatePartial merges patch onto a document's existing data.
func (c *CollectionHandle) UpdatePartial(ctx context.Context, id string, patch map[string]any) (*Document, error) {
	doc, err := c.store.eng.UpdatePartial(ctx, c.name, id, patch)

	return doc, translate(c.name, id, "", err)
}

// Delete removes a document, enforcing referential integrity against any
// referrer first.
func (c *CollectionHandle) Delete(ctx context.Context, id string) error {
	return translate(c.name, id, "", c.store.eng.Delete(ctx, c.name, id))
}

// ResolveID finds the single document whose id begins with prefix.
func (c *CollectionHandle) ResolveID(ctx context.Context, prefix string) (*Document, error) {
	doc, err := c.store.eng.ResolveID(ctx, c.name, prefix)

	return doc, translate(c.name, "", "", err)
}

// Batch returns a new batch of operations to apply together.
func (s *Store) Batch() *Batch {
	return &Batch{b: s.eng.NewBatch()}
}

// Batch collects a sequence of writes applied together; if any operation
// fails, every prior operation in the batch is unwound before the error is
// returned.
type Batch struct {
	b *engine.Batch
}

// Insert queues an insert.
func (b *Batch) Insert(collection string, data map[string]any, content string) *Batch {
	b.b.Insert(collection, data, content)

	return b
}

// Update queues a full update.
func (b *Batch) Update(collection, id string, data map[string]any, content string) *Batch {
	b.b.Update(collection, id, data, content)

	return b
}

// UpdatePartial queues a partial update.
func (b *Batch) UpdatePartial(collection, id string, patch map[string]any) *Batch {
	b.b.UpdatePartial(collection, id, patch)

	return b
}

// Delete queues a delete.
func (b *Batch) Delete(collection, id string) *Batch {
	b.b.Delete(collection, id)

	return b
}

// Execute applies every queued operation, rolling back on the first failure.
func (b *Batch) Execute(ctx context.Context) ([]*Document, error) {
	docs, err := b.b.Execute(ctx)

	return docs, translate("", "", "", err)
}

// ViewRows returns the current cached rows for a materialized view.
func (s *Store) ViewRows(name string) ([]map[string]any, bool) {
	return s.eng.ViewRows(name)
}

// QueryDynamic executes a declared query-type view with params.
func (s *Store) QueryDynamic(ctx context.Context, name string, params map[string]any) ([]map[string]any, error) {
	rows, err := s.eng.QueryDynamic(ctx, name, params)

	return rows, translate("", "", "", err)
}

// ViewDynamic executes ad hoc SQL against the current schema's collections.
func (s *Store) ViewDynamic(ctx context.Context, sqlText string, params map[string]any) ([]map[string]any, error) {
	rows, err := s.eng.ViewDynamic(ctx, sqlText, params)

	return rows, translate("", "", "", err)
}

// ExplainView returns the rewritten SQL the engine executes for a declared
// view.
func (s *Store) ExplainView(name string) (string, error) {
	sqlText, err := s.eng.ExplainView(name)

	return sqlText, translate("", "", "", err)
}

// OnCollectionChange registers cb for every write to collection, returning
// a subscription id to pass to Unsubscribe.
func (s *Store) OnCollectionChange(collection string, cb func(ChangeEvent)) uint64 {
	return s.eng.OnCollectionChange(collection, cb)
}

// OnViewChange registers cb for every rebuild of view.
func (s *Store) OnViewChange(view string, cb func(rows []map[string]any)) uint64 {
	return s.eng.OnViewChange(view, cb)
}

// Unsubscribe removes a subscription registered with OnCollectionChange or
// OnViewChange. Idempotent.
func (s *Store) Unsubscribe(id uint64) {
	s.eng.Unsubscribe(id)
}

// Watch starts the file watcher over every collection's directory.
func (s *Store) Watch() error {
	return translate("", "", "", s.eng.Watch())
}

// StopWatching stops the file watcher, if running.
func (s *Store) StopWatching() error {
	return translate("", "", "", s.eng.StopWatching())
}

// ProcessWatcherEvents reconciles debounce-settled filesystem events into
// the index, returning how many events were processed.
func (s *Store) ProcessWatcherEvents(ctx context.Context) (int, error) {
	n, err := s.eng.ProcessWatcherEvents(ctx)

	return n, translate("", "", "", err)
}

// Status reports a point-in-time health summary across every collection and
// view.
func (s *Store) Status(ctx context.Context) (Status, error) {
	st, err := s.eng.Status(ctx)

	return st, translate("", "", "", err)
}

// ValidateAll re-runs validate_and_prepare over every document without
// writing anything back.
func (s *Store) ValidateAll(ctx context.Context) ([]ValidateReport, error) {
	reports, err := s.eng.ValidateAll(ctx)

	return reports, translate("", "", "", err)
}

// Rebuild forces a full rescan of every collection and rebuilds every view.
func (s *Store) Rebuild(ctx context.Context) error {
	return translate("", "", "", s.eng.Rebuild(ctx))
}

// translate maps an internal engine error to the public [Error] taxonomy,
// attaching whatever collection/id/path context the caller already knows.
// nil passes through unchanged.
func translate(collection, id, path string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, engine.ErrNotFound):
		return newErr(KindNotFound, collection, id, path, err)
	case errors.Is(err, engine.ErrPathConflict):
		return newErr(KindPathConflict, collection, id, path, err)
	case errors.Is(err, engine.ErrReferentialIntegrity):
		return newErr(KindReferentialIntegrity, collection, id, path, err)
	case errors.Is(err, engine.ErrValidation):
		return newErr(KindValidation, collection, id, path, err)
	case errors.Is(err, engine.ErrMigration):
		return newErr(KindMigration, collection, id, path, err)
	case errors.Is(err, engine.ErrReadonly):
		return newErr(KindValidation, collection, id, path, err)
	case errors.Is(err, engine.ErrClosed):
		return newErr(KindIO, collection, id, path, err)
	default:
		return newErr(KindOther, collection, id, path, fmt.Errorf("%w", err))
	}
}
