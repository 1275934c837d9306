package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/groundb/groundb/internal/docfile"
	"github.com/groundb/groundb/internal/index"
	"github.com/groundb/groundb/internal/schema"
	"github.com/groundb/groundb/internal/subscribe"
	"github.com/groundb/groundb/internal/validate"
)

// Get returns one document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*Document, error) {
	if _, ok := s.sch.Collections[collection]; !ok {
		return nil, fmt.Errorf("engine: unknown collection %q", collection)
	}

	row, ok, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	return rowToDocument(collection, row)
}

// List returns every document in a collection, ordered by id.
func (s *Store) List(ctx context.Context, collection string) ([]*Document, error) {
	if _, ok := s.sch.Collections[collection]; !ok {
		return nil, fmt.Errorf("engine: unknown collection %q", collection)
	}

	rows, err := s.idx.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := make([]*Document, 0, len(rows))

	for _, row := range rows {
		doc, err := rowToDocument(collection, row)
		if err != nil {
			return nil, err
		}

		out = append(out, doc)
	}

	return out, nil
}

func rowToDocument(collection string, row index.Row) (*Document, error) {
	data, err := fromJSON(row.DataJSON)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID: row.ID, Collection: collection, Path: row.Path,
		CreatedAt: row.CreatedAt, ModifiedAt: row.ModifiedAt,
		Data: data, Content: row.ContentText,
	}, nil
}

// mustWritableCollection resolves collection and rejects readonly ones.
func (s *Store) mustWritableCollection(collection string) (schema.CollectionDef, error) {
	col, ok := s.sch.Collections[collection]
	if !ok {
		return schema.CollectionDef{}, fmt.Errorf("engine: unknown collection %q", collection)
	}

	if col.Readonly {
		return schema.CollectionDef{}, fmt.Errorf("%w: %s", ErrReadonly, collection)
	}

	return col, nil
}

// Insert validates data, assigns an id, renders its path, resolves any path
// conflict per the collection's id.on_conflict policy, writes the file, and
// updates the index/views/subscribers.
func (s *Store) Insert(ctx context.Context, collection string, data map[string]any, content string) (*Document, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	col, err := s.mustWritableCollection(collection)
	if err != nil {
		return nil, err
	}

	res := validate.Prepare(s.sch, col, data)
	if !res.OK() {
		return nil, fmt.Errorf("%w: %s", ErrValidation, joinIssues(res.Errors))
	}

	id, err := s.resolveInsertID(col, res.Data)
	if err != nil {
		return nil, err
	}

	absPath, relPath, id, err := s.resolveInsertPath(col, res.Data, id)
	if err != nil {
		return nil, err
	}

	res.Data["id"] = id

	if err := docfile.Write(s.fsys, absPath, res.Data, content); err != nil {
		return nil, fmt.Errorf("engine: insert: %w", err)
	}

	now := time.Now().UTC()

	doc, err := s.persistWrite(ctx, col, id, relPath, res.Data, content, now, now)
	if err != nil {
		return nil, err
	}

	s.subs.NotifyCollection(collection, subscribe.ChangeEvent{Type: "Inserted", ID: id, Data: res.Data})

	if err := s.refreshAfterWrite(ctx, col); err != nil {
		return nil, err
	}

	return doc, nil
}

func (s *Store) resolveInsertID(col schema.CollectionDef, data map[string]any) (string, error) {
	if col.ID.Auto != "" {
		return generateID(col.ID.Auto)
	}

	if v, ok := data["id"].(string); ok && v != "" {
		return v, nil
	}

	return "", fmt.Errorf("%w: collection %q requires an explicit id", ErrValidation, col.Name)
}

// resolveInsertPath renders the path for (data, id); on a collision it
// follows id.on_conflict: "error" fails immediately, "suffix" tries
// id-2, id-3, ... until a free path is found.
func (s *Store) resolveInsertPath(col schema.CollectionDef, data map[string]any, id string) (absPath, relPath, finalID string, err error) {
	candidate := id

	for attempt := 1; attempt <= 1000; attempt++ {
		abs, rel, rerr := renderPath(s.root, col, data, candidate)
		if rerr != nil {
			return "", "", "", fmt.Errorf("engine: render path: %w", rerr)
		}

		exists, serr := s.fsys.Exists(abs)
		if serr != nil {
			return "", "", "", fmt.Errorf("engine: stat %s: %w", abs, serr)
		}

		if !exists {
			return abs, rel, candidate, nil
		}

		if col.ID.OnConflict != "suffix" {
			return "", "", "", fmt.Errorf("%w: %s", ErrPathConflict, rel)
		}

		candidate = fmt.Sprintf("%s-%d", id, attempt+1)
	}

	return "", "", "", fmt.Errorf("%w: exhausted suffix attempts for %s", ErrPathConflict, id)
}

// Update fully replaces a document's data and content, moving its file if a
// path-relevant field changed.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any, content string) (*Document, error) {
	return s.update(ctx, collection, id, func(_ schema.CollectionDef, _ map[string]any) map[string]any {
		return data
	}, &content)
}

// UpdatePartial merges patch onto the current document's data (patch wins),
// leaving fields not present in patch untouched. A key explicitly set to nil
// clears that field.
func (s *Store) UpdatePartial(ctx context.Context, collection, id string, patch map[string]any) (*Document, error) {
	return s.update(ctx, collection, id, func(_ schema.CollectionDef, current map[string]any) map[string]any {
		merged := map[string]any{}
		for k, v := range current {
			merged[k] = v
		}

		for k, v := range patch {
			merged[k] = v
		}

		return merged
	}, nil)
}

func (s *Store) update(ctx context.Context, collection, id string, merge func(schema.CollectionDef, map[string]any) map[string]any, newContent *string) (*Document, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	col, err := s.mustWritableCollection(collection)
	if err != nil {
		return nil, err
	}

	row, ok, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	current, err := fromJSON(row.DataJSON)
	if err != nil {
		return nil, err
	}

	merged := merge(col, current)
	merged["id"] = id

	res := validate.Prepare(s.sch, col, merged)
	if !res.OK() {
		return nil, fmt.Errorf("%w: %s", ErrValidation, joinIssues(res.Errors))
	}

	content := row.ContentText
	if newContent != nil {
		content = *newContent
	}

	oldAbs := filepath.Join(s.root, filepath.FromSlash(row.Path))

	newAbs, newRel, err := renderPath(s.root, col, res.Data, id)
	if err != nil {
		return nil, fmt.Errorf("engine: render path: %w", err)
	}

	if newRel != row.Path {
		exists, serr := s.fsys.Exists(newAbs)
		if serr != nil {
			return nil, fmt.Errorf("engine: stat %s: %w", newAbs, serr)
		}

		if exists {
			return nil, fmt.Errorf("%w: %s", ErrPathConflict, newRel)
		}

		if err := docfile.Write(s.fsys, newAbs, res.Data, content); err != nil {
			return nil, fmt.Errorf("engine: update: %w", err)
		}

		if err := docfile.Delete(s.fsys, s.collectionDir(col), oldAbs); err != nil {
			return nil, fmt.Errorf("engine: update: remove old file: %w", err)
		}
	} else if err := docfile.Write(s.fsys, oldAbs, res.Data, content); err != nil {
		return nil, fmt.Errorf("engine: update: %w", err)
	}

	doc, err := s.persistWrite(ctx, col, id, newRel, res.Data, content, row.CreatedAt, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.subs.NotifyCollection(collection, subscribe.ChangeEvent{Type: "Updated", ID: id, Data: res.Data})

	if err := s.refreshAfterWrite(ctx, col); err != nil {
		return nil, err
	}

	return doc, nil
}

// Delete enforces referential integrity for referrers of (collection, id),
// removes the file, and drops the index row.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	col, err := s.mustWritableCollection(collection)
	if err != nil {
		return err
	}

	row, ok, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	if err := s.enforceReferentialIntegrity(ctx, collection, id, map[string]bool{}); err != nil {
		return err
	}

	absPath := filepath.Join(s.root, filepath.FromSlash(row.Path))

	if err := docfile.Delete(s.fsys, s.collectionDir(col), absPath); err != nil {
		return fmt.Errorf("engine: delete: %w", err)
	}

	if err := s.idx.DeleteDocument(ctx, collection, id); err != nil {
		return err
	}

	s.subs.NotifyCollection(collection, subscribe.ChangeEvent{Type: "Deleted", ID: id, Data: nil})

	return s.refreshAfterWrite(ctx, col)
}

// persistWrite upserts the index row for a document and returns it as a
// Document value.
func (s *Store) persistWrite(ctx context.Context, col schema.CollectionDef, id, relPath string, data map[string]any, content string, createdAt, modifiedAt time.Time) (*Document, error) {
	dataJSON, err := toJSON(data)
	if err != nil {
		return nil, err
	}

	row := index.Row{
		Collection: col.Name, ID: id, Path: relPath, DataJSON: dataJSON,
		ContentText: content, CreatedAt: createdAt, ModifiedAt: modifiedAt,
	}

	if err := s.idx.UpsertDocument(ctx, row); err != nil {
		return nil, err
	}

	return rowToDocument(col.Name, row)
}

// refreshAfterWrite recomputes collection's directory hash and rebuilds any
// view that references it.
func (s *Store) refreshAfterWrite(ctx context.Context, col schema.CollectionDef) error {
	dir := s.collectionDir(col)

	files, err := walkCollectionFiles(s.fsys, dir, col.Extension)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := s.idx.SetDirectoryHash(ctx, col.Name, dirHash(files)); err != nil {
		return err
	}

	return s.rebuildViewsReferencing(ctx, col.Name)
}

func joinIssues(issues []validate.Issue) string {
	parts := make([]string, len(issues))
	for i, iss := range issues {
		parts[i] = iss.String()
	}

	return strings.Join(parts, "; ")
}
