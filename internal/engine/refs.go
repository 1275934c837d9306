package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/groundb/groundb/internal/docfile"
	"github.com/groundb/groundb/internal/index"
	"github.com/groundb/groundb/internal/schema"
)

// referrer is one document found to hold a ref field pointing at a deleted
// or about-to-be-deleted document.
type referrer struct {
	Collection string
	ID         string
	Field      string
	Row        index.Row
}

// findReferrers scans every other collection's ref fields for a value
// pointing at (targetCollection, targetID): a string id for single-target
// refs, or a {type,id} mapping for polymorphic ones. index.FindReferences
// gives a cheap superset (substring match on the JSON blob); this refines
// it down to genuine ref-field hits.
func (s *Store) findReferrers(ctx context.Context, targetCollection, targetID string) ([]referrer, error) {
	candidates, err := s.idx.FindReferences(ctx, targetCollection, targetID)
	if err != nil {
		return nil, err
	}

	var out []referrer

	for _, row := range candidates {
		col, ok := s.sch.Collections[row.Collection]
		if !ok {
			continue
		}

		data, err := fromJSON(row.DataJSON)
		if err != nil {
			continue
		}

		for fname, f := range col.Fields {
			if f.Type != schema.TypeRef {
				continue
			}

			if refFieldMatches(data[fname], targetCollection, targetID) {
				out = append(out, referrer{Collection: row.Collection, ID: row.ID, Field: fname, Row: row})
			}
		}
	}

	return out, nil
}

func refFieldMatches(v any, targetCollection, targetID string) bool {
	switch x := v.(type) {
	case string:
		return x == targetID
	case map[string]any:
		id, _ := x["id"].(string)
		typ, _ := x["type"].(string)

		return id == targetID && (typ == "" || typ == targetCollection)
	default:
		return false
	}
}

// enforceReferentialIntegrity applies on_delete handling for every referrer
// of (collection, id), before the target document itself is removed.
// on_delete is resolved field-first, falling back to the referring
// collection's default.
func (s *Store) enforceReferentialIntegrity(ctx context.Context, collection, id string, seen map[string]bool) error {
	key := collection + "/" + id
	if seen[key] {
		return nil // cycle guard: already being processed in this cascade
	}

	seen[key] = true

	refs, err := s.findReferrers(ctx, collection, id)
	if err != nil {
		return err
	}

	for _, r := range refs {
		refCol := s.sch.Collections[r.Collection]

		onDelete := refCol.Fields[r.Field].OnDelete
		if onDelete == "" {
			onDelete = refCol.OnDelete
		}

		if onDelete == "" {
			onDelete = "error"
		}

		switch onDelete {
		case "error":
			return fmt.Errorf("%w: %s.%s referenced by %s.%s", ErrReferentialIntegrity, collection, id, r.Collection, r.ID)
		case "nullify":
			if err := s.nullifyRefField(ctx, r); err != nil {
				return err
			}
		case "cascade":
			if err := s.enforceReferentialIntegrity(ctx, r.Collection, r.ID, seen); err != nil {
				return err
			}

			if err := s.deleteDocumentFiles(ctx, refCol, r.ID, r.Row.Path); err != nil {
				return err
			}

			if err := s.idx.DeleteDocument(ctx, r.Collection, r.ID); err != nil {
				return err
			}
		case "archive":
			if err := s.archiveDocument(r.Row.Path); err != nil {
				return err
			}

			if err := s.idx.DeleteDocument(ctx, r.Collection, r.ID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown on_delete strategy %q", ErrReferentialIntegrity, onDelete)
		}
	}

	return nil
}

func (s *Store) nullifyRefField(ctx context.Context, r referrer) error {
	data, err := fromJSON(r.Row.DataJSON)
	if err != nil {
		return err
	}

	data[r.Field] = nil

	absPath := filepath.Join(s.root, filepath.FromSlash(r.Row.Path))

	doc, err := docfile.Read(s.fsys, absPath)
	if err != nil {
		return fmt.Errorf("nullify %s.%s: %w", r.Collection, r.ID, err)
	}

	if err := docfile.Write(s.fsys, absPath, data, doc.Content); err != nil {
		return fmt.Errorf("nullify %s.%s: %w", r.Collection, r.ID, err)
	}

	dataJSON, err := toJSON(data)
	if err != nil {
		return err
	}

	return s.idx.UpsertDocument(ctx, index.Row{
		Collection: r.Collection, ID: r.ID, Path: r.Row.Path, DataJSON: dataJSON,
		ContentText: doc.Content, CreatedAt: r.Row.CreatedAt, ModifiedAt: r.Row.ModifiedAt,
	})
}

// deleteDocumentFiles removes a document's front-matter file.
func (s *Store) deleteDocumentFiles(_ context.Context, col schema.CollectionDef, id, relPath string) error {
	absPath := filepath.Join(s.root, filepath.FromSlash(relPath))

	return docfile.Delete(s.fsys, s.collectionDir(col), absPath)
}

// archiveDocument moves a referrer's file into root/_archive/<relPath>,
// preserving the document's full rendered path (including any template
// subdirectories) rather than flattening it to <collection>/<id><ext>.
func (s *Store) archiveDocument(relPath string) error {
	absPath := filepath.Join(s.root, filepath.FromSlash(relPath))
	archivePath := filepath.Join(s.root, "_archive", filepath.FromSlash(relPath))

	return docfile.Move(s.fsys, s.root, absPath, archivePath)
}
