// Package index implements the system index: a small SQLite-backed
// relational store holding documents, schema history, the migration log,
// directory hashes, and view data/metadata.
//
// Opening ":memory:" gives a private in-memory database, the mode the spec
// requires be available for tests; it is otherwise identical to the
// on-disk mode. The connection and pragma setup mirror the teacher's own
// sqlite wiring (openSqlite/applyPragmas in its store package): WAL mode,
// full synchronous durability, a busy timeout instead of external locking
// since the index itself serialises writers with an in-process mutex.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const busyTimeoutMS = 10000

// Row is one documents-table record: collection, id, its rendered path, and
// the data/content/timestamps written at last upsert.
type Row struct {
	Collection  string
	ID          string
	Path        string
	DataJSON    string
	ContentText string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Index wraps the SQLite connection and an in-process write mutex: the
// engine assumes a single OS-level writer, but multiple goroutines within
// the process may call into the Store concurrently.
type Index struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if absent) the index database at path. Pass
// ":memory:" for the in-memory test mode.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("index: ping sqlite: %w", err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	ix := &Index{db: db}

	if err := ix.createSchema(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	return ix, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("index: apply pragma %q: %w", s, err)
		}
	}

	return nil
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection   TEXT NOT NULL,
	id           TEXT NOT NULL,
	path         TEXT NOT NULL,
	data_json    TEXT NOT NULL,
	content_text TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	modified_at  TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);

CREATE TABLE IF NOT EXISTS schema_history (
	hash       TEXT PRIMARY KEY,
	yaml       TEXT NOT NULL,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS migrations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS directory_hashes (
	collection TEXT PRIMARY KEY,
	hash       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS view_data (
	view_name TEXT PRIMARY KEY,
	data_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS view_metadata (
	view_name     TEXT PRIMARY KEY,
	last_built    TEXT NOT NULL,
	source_hashes TEXT NOT NULL
);
`

func (ix *Index) createSchema(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("index: create schema: %w", err)
	}

	return nil
}

// Close releases the underlying SQLite connection.
func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}

	return ix.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx so read/write helpers work
// identically whether called directly or inside a [Tx].
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx wraps a single index transaction for applying multi-row writes
// atomically. Batch execution and migration backfill do not use it.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a new index transaction. Callers must Commit or Rollback.
func (ix *Index) Begin(ctx context.Context) (*Tx, error) {
	ix.mu.Lock()

	sqlTx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		ix.mu.Unlock()

		return nil, fmt.Errorf("index: begin: %w", err)
	}

	return &Tx{tx: sqlTx}, nil
}

// Commit commits the transaction.
func (tx *Tx) Commit(ix *Index) error {
	defer ix.mu.Unlock()

	if err := tx.tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}

	return nil
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback(ix *Index) error {
	defer ix.mu.Unlock()

	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("index: rollback: %w", err)
	}

	return nil
}

func (ix *Index) exec() execer { return ix.db }
func (tx *Tx) exec() execer    { return tx.tx }

// --- documents ----------------------------------------------------------

// UpsertDocument inserts or replaces a row.
func (ix *Index) UpsertDocument(ctx context.Context, row Row) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return upsertDocument(ctx, ix.exec(), row)
}

// UpsertDocument inserts or replaces a row within the transaction.
func (tx *Tx) UpsertDocument(ctx context.Context, row Row) error {
	return upsertDocument(ctx, tx.exec(), row)
}

func upsertDocument(ctx context.Context, e execer, row Row) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO documents (collection, id, path, data_json, content_text, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			path = excluded.path,
			data_json = excluded.data_json,
			content_text = excluded.content_text,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at
	`, row.Collection, row.ID, row.Path, row.DataJSON, row.ContentText,
		row.CreatedAt.Format(time.RFC3339Nano), row.ModifiedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	return nil
}

// GetDocument returns the row for (collection, id), or ok=false if absent.
func (ix *Index) GetDocument(ctx context.Context, collection, id string) (Row, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return getDocument(ctx, ix.exec(), collection, id)
}

func getDocument(ctx context.Context, e execer, collection, id string) (Row, bool, error) {
	row := e.QueryRowContext(ctx, `
		SELECT collection, id, path, data_json, content_text, created_at, modified_at
		FROM documents WHERE collection = ? AND id = ?
	`, collection, id)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}

	if err != nil {
		return Row{}, false, fmt.Errorf("index: get document: %w", err)
	}

	return r, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(scanner rowScanner) (Row, error) {
	var (
		r              Row
		createdAt, modAt string
	)

	err := scanner.Scan(&r.Collection, &r.ID, &r.Path, &r.DataJSON, &r.ContentText, &createdAt, &modAt)
	if err != nil {
		return Row{}, err
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modAt)

	return r, nil
}

// ListDocuments returns every row for a collection, ordered by id.
func (ix *Index) ListDocuments(ctx context.Context, collection string) ([]Row, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.QueryContext(ctx, `
		SELECT collection, id, path, data_json, content_text, created_at, modified_at
		FROM documents WHERE collection = ? ORDER BY id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("index: list documents: %w", err)
	}

	defer rows.Close()

	var out []Row

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("index: list documents: scan: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// DeleteDocument removes the row for (collection, id). No error if absent.
func (ix *Index) DeleteDocument(ctx context.Context, collection, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return deleteDocument(ctx, ix.exec(), collection, id)
}

// DeleteDocument removes the row within the transaction.
func (tx *Tx) DeleteDocument(ctx context.Context, collection, id string) error {
	return deleteDocument(ctx, tx.exec(), collection, id)
}

func deleteDocument(ctx context.Context, e execer, collection, id string) error {
	_, err := e.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}

	return nil
}

// DeleteCollectionDocuments removes every row for a collection, used before
// a full rescan.
func (ix *Index) DeleteCollectionDocuments(ctx context.Context, collection string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, err := ix.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("index: delete collection documents: %w", err)
	}

	return nil
}

// FindReferences scans collections other than excludeCollection for rows
// whose data_json contains targetID as a literal substring. This is the
// naive inbound-reference lookup the spec accepts at small scale; callers
// refine the result to the referring collection's actual ref fields.
func (ix *Index) FindReferences(ctx context.Context, excludeCollection, targetID string) ([]Row, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.QueryContext(ctx, `
		SELECT collection, id, path, data_json, content_text, created_at, modified_at
		FROM documents
		WHERE collection != ? AND data_json LIKE ? ESCAPE '\'
		ORDER BY collection, id
	`, excludeCollection, "%"+escapeLike(targetID)+"%")
	if err != nil {
		return nil, fmt.Errorf("index: find references: %w", err)
	}

	defer rows.Close()

	var out []Row

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("index: find references: scan: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(s)
}

// --- schema history / migrations ----------------------------------------

// RecordSchema appends a schema_history row for hash, idempotently.
func (ix *Index) RecordSchema(ctx context.Context, hash, yamlText string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO schema_history (hash, yaml, applied_at) VALUES (?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, yamlText, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index: record schema: %w", err)
	}

	return nil
}

// LatestSchema returns the most recently applied schema hash/yaml, or
// ok=false if the index has never recorded one (first boot).
func (ix *Index) LatestSchema(ctx context.Context) (hash, yamlText string, ok bool, err error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row := ix.db.QueryRowContext(ctx, `
		SELECT hash, yaml FROM schema_history ORDER BY applied_at DESC LIMIT 1
	`)

	err = row.Scan(&hash, &yamlText)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}

	if err != nil {
		return "", "", false, fmt.Errorf("index: latest schema: %w", err)
	}

	return hash, yamlText, true, nil
}

// RecordMigration appends a migration log entry.
func (ix *Index) RecordMigration(ctx context.Context, description string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO migrations (description, applied_at) VALUES (?, ?)
	`, description, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index: record migration: %w", err)
	}

	return nil
}

// --- directory hashes -----------------------------------------------------

// DirectoryHash returns the stored hash for a collection, or ok=false.
func (ix *Index) DirectoryHash(ctx context.Context, collection string) (string, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row := ix.db.QueryRowContext(ctx, `SELECT hash FROM directory_hashes WHERE collection = ?`, collection)

	var hash string

	err := row.Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("index: directory hash: %w", err)
	}

	return hash, true, nil
}

// SetDirectoryHash records the current directory hash for a collection.
func (ix *Index) SetDirectoryHash(ctx context.Context, collection, hash string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO directory_hashes (collection, hash) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET hash = excluded.hash
	`, collection, hash)
	if err != nil {
		return fmt.Errorf("index: set directory hash: %w", err)
	}

	return nil
}

// --- view data/metadata ---------------------------------------------------

// ViewData returns the stored serialised result for a view.
func (ix *Index) ViewData(ctx context.Context, viewName string) ([]map[string]any, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row := ix.db.QueryRowContext(ctx, `SELECT data_json FROM view_data WHERE view_name = ?`, viewName)

	var raw string

	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("index: view data: %w", err)
	}

	var out []map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, fmt.Errorf("index: view data: decode: %w", err)
	}

	return out, true, nil
}

// SetViewData persists a view's current result set and metadata.
func (ix *Index) SetViewData(ctx context.Context, viewName string, rows []map[string]any, sourceHashesJSON string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("index: set view data: encode: %w", err)
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT INTO view_data (view_name, data_json) VALUES (?, ?)
		ON CONFLICT(view_name) DO UPDATE SET data_json = excluded.data_json
	`, viewName, string(raw))
	if err != nil {
		return fmt.Errorf("index: set view data: %w", err)
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT INTO view_metadata (view_name, last_built, source_hashes) VALUES (?, ?, ?)
		ON CONFLICT(view_name) DO UPDATE SET last_built = excluded.last_built, source_hashes = excluded.source_hashes
	`, viewName, time.Now().UTC().Format(time.RFC3339Nano), sourceHashesJSON)
	if err != nil {
		return fmt.Errorf("index: set view metadata: %w", err)
	}

	return nil
}

// ViewMetadata returns the last-built timestamp and source hashes JSON for a view.
func (ix *Index) ViewMetadata(ctx context.Context, viewName string) (lastBuilt time.Time, sourceHashesJSON string, ok bool, err error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row := ix.db.QueryRowContext(ctx, `SELECT last_built, source_hashes FROM view_metadata WHERE view_name = ?`, viewName)

	var ts string

	scanErr := row.Scan(&ts, &sourceHashesJSON)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return time.Time{}, "", false, nil
	}

	if scanErr != nil {
		return time.Time{}, "", false, fmt.Errorf("index: view metadata: %w", scanErr)
	}

	lastBuilt, _ = time.Parse(time.RFC3339Nano, ts)

	return lastBuilt, sourceHashesJSON, true, nil
}

// RawDB exposes the underlying *sql.DB for the view engine, which must run
// arbitrary rewritten SELECTs the typed helpers above don't anticipate.
func (ix *Index) RawDB() *sql.DB { return ix.db }

// RLock/RUnlock let callers (the view engine) hold the index read lock for
// the duration of a query built from multiple index reads plus a raw SELECT.
func (ix *Index) RLock()   { ix.mu.RLock() }
func (ix *Index) RUnlock() { ix.mu.RUnlock() }
