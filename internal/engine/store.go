// Package engine is the Store orchestrator: boot, the write state machine,
// referential integrity, the subscription bus, and file-watcher
// reconciliation. Every write to a GroundDB root flows through a *Store.
//
// Grounded on the teacher's internal/store package (its own domain
// orchestrator wiring a generic document+index engine onto the ticket
// domain): Store.Open's schema-hash-then-scan boot sequence and the
// Get/Insert/Update/Delete state machine follow that package's store.go/
// tx.go shape, generalized from one fixed ticket schema to GroundDB's
// runtime-declared multi-collection schema.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/groundb/groundb/internal/docfile"
	"github.com/groundb/groundb/internal/index"
	"github.com/groundb/groundb/internal/pathtemplate"
	"github.com/groundb/groundb/internal/runtimeconfig"
	"github.com/groundb/groundb/internal/schema"
	"github.com/groundb/groundb/internal/subscribe"
	"github.com/groundb/groundb/internal/watch"
	groundfs "github.com/groundb/groundb/pkg/fs"
)

// Document is one schema-validated document as returned by Get/List/Insert/
// Update: the dynamic-JSON boundary type callers interact with.
type Document struct {
	ID         string
	Collection string
	Path       string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Data       map[string]any
	Content    string
}

// Options configures Open.
type Options struct {
	// InMemoryIndex opens the system index at ":memory:" instead of
	// root/_system.db. Used by tests.
	InMemoryIndex bool
	Logger        *slog.Logger
}

// Store is the write/read orchestrator for one GroundDB root.
type Store struct {
	root   string
	sch    *schema.Schema
	schRaw []byte
	idx    *index.Index
	fsys   groundfs.FS
	subs   *subscribe.Manager
	cfg    runtimeconfig.Config
	log    *slog.Logger

	watcher *watch.Watcher

	viewCacheMu sync.RWMutex
	viewCache   map[string][]map[string]any

	writeMu sync.Mutex
}

// Open resolves root, loads schema.yaml, opens the system index, and boots:
// full or incremental scan, migration diff, view rebuild, view cache load.
func Open(ctx context.Context, root string, opts Options) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("engine: open: %w", err)
	}

	schemaPath := filepath.Join(absRoot, "schema.yaml")

	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open: read schema: %w", err)
	}

	sch, err := schema.ParseYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("engine: open: %w", err)
	}

	indexPath := filepath.Join(absRoot, "_system.db")
	if opts.InMemoryIndex {
		indexPath = ":memory:"
	}

	idx, err := index.Open(ctx, indexPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open: %w", err)
	}

	cfg, err := runtimeconfig.Load(absRoot)
	if err != nil {
		_ = idx.Close()

		return nil, fmt.Errorf("engine: open: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		root:      absRoot,
		sch:       sch,
		schRaw:    raw,
		idx:       idx,
		fsys:      groundfs.NewReal(),
		subs:      subscribe.New(),
		cfg:       cfg,
		log:       logger,
		viewCache: map[string][]map[string]any{},
	}

	if err := s.boot(ctx); err != nil {
		_ = idx.Close()

		return nil, err
	}

	if cfg.AutoStartWatcher {
		if err := s.Watch(); err != nil {
			s.log.Warn("auto-start watcher failed", "error", err)
		}
	}

	return s, nil
}

// Close releases the index and watcher handles. Safe on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	if s.watcher != nil {
		_ = s.watcher.Close()
	}

	return s.idx.Close()
}

func (s *Store) boot(ctx context.Context) error {
	prevHash, prevYAML, hadPrev, err := s.idx.LatestSchema(ctx)
	if err != nil {
		return fmt.Errorf("engine: boot: %w", err)
	}

	if !hadPrev || prevHash != s.sch.Hash {
		if err := s.idx.RecordSchema(ctx, s.sch.Hash, s.sch.Raw); err != nil {
			return fmt.Errorf("engine: boot: %w", err)
		}

		if hadPrev {
			oldSchema, err := schema.ParseYAML([]byte(prevYAML))
			if err != nil {
				return fmt.Errorf("engine: boot: parse previous schema: %w", err)
			}

			changes := schema.Diff(oldSchema, s.sch)

			if blocking := schema.Blocking(changes); len(blocking) > 0 {
				return fmt.Errorf("engine: boot: %w: %s", ErrMigration, blocking[0].Description)
			}

			if err := s.applyMigration(ctx, oldSchema, changes); err != nil {
				return fmt.Errorf("engine: boot: %w", err)
			}
		}

		if err := s.fullScanAll(ctx); err != nil {
			return fmt.Errorf("engine: boot: %w", err)
		}
	} else {
		if err := s.incrementalScanAll(ctx); err != nil {
			return fmt.Errorf("engine: boot: %w", err)
		}
	}

	for _, name := range s.sch.SortedViewNames() {
		v := s.sch.Views[name]
		if v.Kind == "query" {
			continue
		}

		if err := s.rebuildView(ctx, name); err != nil {
			return fmt.Errorf("engine: boot: rebuild view %q: %w", name, err)
		}
	}

	return s.loadViewCache(ctx)
}

func (s *Store) loadViewCache(ctx context.Context) error {
	s.viewCacheMu.Lock()
	defer s.viewCacheMu.Unlock()

	for _, name := range s.sch.SortedViewNames() {
		rows, ok, err := s.idx.ViewData(ctx, name)
		if err != nil {
			return err
		}

		if ok {
			s.viewCache[name] = rows
		}
	}

	return nil
}

// collectionDir returns the absolute base directory for a collection.
func (s *Store) collectionDir(col schema.CollectionDef) string {
	return filepath.Join(s.root, col.Template.BaseDirectory())
}

func (s *Store) fullScanAll(ctx context.Context) error {
	for _, name := range s.sch.SortedCollectionNames() {
		if err := s.fullScanCollection(ctx, s.sch.Collections[name]); err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
	}

	return nil
}

func (s *Store) fullScanCollection(ctx context.Context, col schema.CollectionDef) error {
	if err := s.idx.DeleteCollectionDocuments(ctx, col.Name); err != nil {
		return err
	}

	dir := s.collectionDir(col)

	files, err := walkCollectionFiles(s.fsys, dir, col.Extension)
	if err != nil {
		if os.IsNotExist(err) {
			return s.idx.SetDirectoryHash(ctx, col.Name, dirHash(nil))
		}

		return err
	}

	for _, absPath := range files {
		relPath, err := filepath.Rel(s.root, absPath)
		if err != nil {
			return err
		}

		if err := s.indexFileAt(ctx, col, relPath); err != nil {
			s.log.Warn("skipping unreadable document during scan", "collection", col.Name, "path", relPath, "error", err)
		}
	}

	return s.idx.SetDirectoryHash(ctx, col.Name, dirHash(files))
}

func (s *Store) incrementalScanAll(ctx context.Context) error {
	for _, name := range s.sch.SortedCollectionNames() {
		col := s.sch.Collections[name]

		dir := s.collectionDir(col)

		files, err := walkCollectionFiles(s.fsys, dir, col.Extension)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("collection %q: %w", name, err)
		}

		newHash := dirHash(files)

		oldHash, existed, err := s.idx.DirectoryHash(ctx, name)
		if err != nil {
			return err
		}

		if existed && oldHash == newHash {
			continue
		}

		if err := s.fullScanCollection(ctx, col); err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
	}

	return nil
}

// indexFileAt reads the file at root/relPath (relative to the store root)
// and upserts its index row, deriving id from the filename stem.
func (s *Store) indexFileAt(ctx context.Context, col schema.CollectionDef, relPath string) error {
	absPath := filepath.Join(s.root, relPath)

	doc, err := docfile.Read(s.fsys, absPath)
	if err != nil {
		return err
	}

	dataJSON, err := toJSON(doc.Data)
	if err != nil {
		return err
	}

	return s.idx.UpsertDocument(ctx, index.Row{
		Collection:  col.Name,
		ID:          doc.ID,
		Path:        filepath.ToSlash(relPath),
		DataJSON:    dataJSON,
		ContentText: doc.Content,
		CreatedAt:   doc.CreatedAt,
		ModifiedAt:  doc.ModifiedAt,
	})
}

// walkCollectionFiles returns the path of every file under dir matching the
// collection's extension (joined onto dir, so absolute when dir is), sorted
// for determinism.
func walkCollectionFiles(fsys groundfs.FS, dir, ext string) ([]string, error) {
	var out []string

	var walk func(d string) error

	walk = func(d string) error {
		entries, err := fsys.ReadDir(d)
		if err != nil {
			return err
		}

		for _, e := range entries {
			full := filepath.Join(d, e.Name())

			if e.IsDir() {
				if err := walk(full); err != nil {
					return err
				}

				continue
			}

			if strings.HasSuffix(e.Name(), ext) && !strings.HasPrefix(e.Name(), ".") {
				out = append(out, full)
			}
		}

		return nil
	}

	if err := walk(dir); err != nil {
		return nil, err
	}

	sort.Strings(out)

	return out, nil
}

// dirHash hashes the {(filename, mtime)} set for the given files, per the
// directory_hashes invariant. Paths are passed in already sorted by the
// caller (walkCollectionFiles).
func dirHash(files []string) string {
	h := sha256.New()

	for _, f := range files {
		info, err := os.Stat(f)

		mtime := int64(0)
		if err == nil {
			mtime = info.ModTime().UnixNano()
		}

		fmt.Fprintf(h, "%s|%d\n", f, mtime)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// renderPath renders col's path template for data/id into an absolute path
// and its store-relative (POSIX-separated) form.
func renderPath(root string, col schema.CollectionDef, data map[string]any, id string) (abs, rel string, err error) {
	rendered, err := pathtemplate.Render(col.Template, data, id)
	if err != nil {
		return "", "", err
	}

	if !strings.HasSuffix(rendered, col.Extension) {
		rendered += col.Extension
	}

	return filepath.Join(root, rendered), filepath.ToSlash(rendered), nil
}

func toJSON(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("engine: marshal data: %w", err)
	}

	return string(b), nil
}

func fromJSON(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("engine: unmarshal data: %w", err)
	}

	return m, nil
}
