// Package watch implements the file watcher and its debounce queue: OS
// notifications go in, a lazy, deduplicated event queue comes out, drained
// on demand by the Store rather than on the watcher's own schedule.
//
// Grounded on the fsnotify-based watch loops used throughout the example
// pack (steveyegge-beads, jra3-linear-fuse, theRebelliousNerd-codenerd all
// watch a directory tree with fsnotify directly); the per-path debounce
// timer and "last wins" coalescing is this package's own addition, since
// the spec's 100ms debounce window is a GroundDB-specific requirement none
// of those watch loops implement verbatim.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies one coalesced filesystem event.
type Kind uint8

const (
	KindCreatedOrModified Kind = iota
	KindRemoved
)

// Event is one drained, deduplicated filesystem change.
type Event struct {
	Kind       Kind
	Collection string
	AbsPath    string
}

// DefaultDebounce is the window within which bursts of events for the same
// path are coalesced into one.
const DefaultDebounce = 100 * time.Millisecond

// Watcher recursively watches each registered collection's base directory
// and exposes a drain-on-demand queue of deduplicated events.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	dirToCol map[string]string // watched directory -> collection name
	pending  map[string]Event  // path -> latest event; settled once its timer entry is gone
	timers   map[string]*time.Timer

	closed bool
}

// New creates a Watcher. Call Close when done.
func New(debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		dirToCol: map[string]string{},
		pending:  map[string]Event{},
		timers:   map[string]*time.Timer{},
	}

	go w.loop()

	return w, nil
}

// AddCollection recursively watches baseDir, attributing events under it to
// collection. baseDir must already exist.
func (w *Watcher) AddCollection(collection, baseDir string) error {
	return filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			return nil
		}

		if werr := w.fsw.Add(path); werr != nil {
			return werr
		}

		w.mu.Lock()
		w.dirToCol[path] = collection
		w.mu.Unlock()

		return nil
	})
}

func (w *Watcher) collectionFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(path)
	for {
		if col, ok := w.dirToCol[dir]; ok {
			return col, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}

		dir = parent
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handleFsEvent(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Errors are surfaced nowhere by design: watcher reconciliation
			// errors are logged per-event by the caller, not here.
		}
	}
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return // ignore dotfiles (temp files from atomic writes live alongside these)
	}

	col, ok := w.collectionFor(ev.Name)
	if !ok {
		return
	}

	kind := KindCreatedOrModified
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		kind = KindRemoved
	}

	w.schedule(Event{Kind: kind, Collection: col, AbsPath: ev.Name})
}

// schedule records the latest event for a path and (re)starts its debounce
// timer; last wins within the debounce window.
func (w *Watcher) schedule(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.pending[ev.AbsPath] = ev

	if t, ok := w.timers[ev.AbsPath]; ok {
		t.Stop()
	}

	path := ev.AbsPath
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.settle(path)
	})
}

// settle marks a path's pending event ready to drain. The entry stays in
// w.pending (already settled); Drain pops everything in w.pending.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.timers, path)
}

// Drain returns every settled event and clears the queue. Events whose
// debounce timer has not yet fired are left pending for a later Drain.
func (w *Watcher) Drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Event

	for path, ev := range w.pending {
		if _, stillDebouncing := w.timers[path]; stillDebouncing {
			continue
		}

		out = append(out, ev)
		delete(w.pending, path)
	}

	return out
}

// Close stops watching and releases the fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true

	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}
