package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/groundb/groundb/internal/docfile"
	"github.com/groundb/groundb/internal/index"
	"github.com/groundb/groundb/internal/schema"
	"github.com/groundb/groundb/internal/subscribe"
	"github.com/groundb/groundb/internal/watch"
)

// Watch starts the file watcher over every collection's base directory.
// Events are queued internally; call ProcessWatcherEvents to reconcile them
// into the index. Calling Watch twice is a no-op.
func (s *Store) Watch() error {
	if s.watcher != nil {
		return nil
	}

	w, err := watch.New(s.cfg.WatcherDebounce())
	if err != nil {
		return fmt.Errorf("engine: watch: %w", err)
	}

	for _, name := range s.sch.SortedCollectionNames() {
		col := s.sch.Collections[name]

		dir := s.collectionDir(col)
		if err := s.fsys.MkdirAll(dir, 0o755); err != nil {
			_ = w.Close()

			return fmt.Errorf("engine: watch: %w", err)
		}

		if err := w.AddCollection(name, dir); err != nil {
			_ = w.Close()

			return fmt.Errorf("engine: watch: add %q: %w", name, err)
		}
	}

	s.watcher = w

	return nil
}

// StopWatching closes the file watcher, if one is running.
func (s *Store) StopWatching() error {
	if s.watcher == nil {
		return nil
	}

	err := s.watcher.Close()
	s.watcher = nil

	return err
}

// ProcessWatcherEvents drains debounce-settled filesystem events and
// reconciles each against the index: created/modified files are re-read and
// upserted, removed files are dropped from the index. Affected collections'
// directory hashes and referencing views are refreshed once at the end.
func (s *Store) ProcessWatcherEvents(ctx context.Context) (int, error) {
	if s.watcher == nil {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	events := s.watcher.Drain()
	if len(events) == 0 {
		return 0, nil
	}

	touched := map[string]bool{}

	for _, ev := range events {
		col, ok := s.sch.Collections[ev.Collection]
		if !ok {
			continue
		}

		if !strings.HasSuffix(ev.AbsPath, col.Extension) {
			continue
		}

		touched[ev.Collection] = true

		relPath, err := filepath.Rel(s.root, ev.AbsPath)
		if err != nil {
			continue
		}

		relPath = filepath.ToSlash(relPath)

		if err := s.reconcileFile(ctx, col, ev, relPath); err != nil {
			s.log.Warn("watcher: failed to reconcile file", "collection", ev.Collection, "path", relPath, "error", err)
		}
	}

	for collection := range touched {
		col := s.sch.Collections[collection]
		if err := s.refreshAfterWrite(ctx, col); err != nil {
			return len(events), err
		}
	}

	return len(events), nil
}

func (s *Store) reconcileFile(ctx context.Context, col schema.CollectionDef, ev watch.Event, relPath string) error {
	if ev.Kind == watch.KindRemoved {
		return s.reconcileRemoval(ctx, col, relPath)
	}

	exists, err := s.fsys.Exists(ev.AbsPath)
	if err != nil {
		return err
	}

	if !exists {
		return s.reconcileRemoval(ctx, col, relPath)
	}

	doc, err := docfile.Read(s.fsys, ev.AbsPath)
	if err != nil {
		return err
	}

	dataJSON, err := toJSON(doc.Data)
	if err != nil {
		return err
	}

	_, existed, err := s.idx.GetDocument(ctx, col.Name, doc.ID)
	if err != nil {
		return err
	}

	row := index.Row{
		Collection: col.Name, ID: doc.ID, Path: relPath, DataJSON: dataJSON,
		ContentText: doc.Content, CreatedAt: doc.CreatedAt, ModifiedAt: doc.ModifiedAt,
	}

	if err := s.idx.UpsertDocument(ctx, row); err != nil {
		return err
	}

	evType := "Updated"
	if !existed {
		evType = "Inserted"
	}

	s.subs.NotifyCollection(col.Name, subscribe.ChangeEvent{Type: evType, ID: doc.ID, Data: doc.Data})

	return nil
}

// reconcileRemoval drops the index row whose stored path matches relPath,
// since the watcher only knows the path, not which id previously lived
// there.
func (s *Store) reconcileRemoval(ctx context.Context, col schema.CollectionDef, relPath string) error {
	rows, err := s.idx.ListDocuments(ctx, col.Name)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Path != relPath {
			continue
		}

		if err := s.idx.DeleteDocument(ctx, col.Name, row.ID); err != nil {
			return err
		}

		s.subs.NotifyCollection(col.Name, subscribe.ChangeEvent{Type: "Deleted", ID: row.ID, Data: nil})

		return nil
	}

	return nil
}
