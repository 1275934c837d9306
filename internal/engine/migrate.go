package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/groundb/groundb/internal/docfile"
	"github.com/groundb/groundb/internal/schema"
)

// applyMigration records every change in the diff and backfills the on-disk
// documents affected by a safe ChangeFieldAdded (a new field with a default,
// or not required): the default is written into each existing file's front
// matter so the upcoming full rescan sees it without a special case.
//
// Blocking changes have already aborted boot by the time this runs; unsafe
// non-blocking changes (collection/field removal, enum value removal, path
// template changes) are recorded as a warning in the migration log but do
// not otherwise touch any file.
func (s *Store) applyMigration(ctx context.Context, oldSchema *schema.Schema, changes []schema.Change) error {
	for _, c := range changes {
		if err := s.idx.RecordMigration(ctx, c.Description); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}

		if !c.Safe || c.Kind != schema.ChangeFieldAdded {
			continue
		}

		newCol, ok := s.sch.Collections[c.Collection]
		if !ok {
			continue
		}

		field, ok := newCol.Fields[c.Field]
		if !ok || field.Default == nil {
			continue
		}

		if err := s.backfillField(ctx, oldSchema, c.Collection, c.Field, field.Default); err != nil {
			return fmt.Errorf("backfill %s.%s: %w", c.Collection, c.Field, err)
		}
	}

	return nil
}

func (s *Store) backfillField(ctx context.Context, oldSchema *schema.Schema, collection, field string, def any) error {
	if _, existed := oldSchema.Collections[collection]; !existed {
		return nil // the collection itself is new; nothing to backfill yet
	}

	rows, err := s.idx.ListDocuments(ctx, collection)
	if err != nil {
		return err
	}

	for _, row := range rows {
		data, err := fromJSON(row.DataJSON)
		if err != nil {
			return err
		}

		if _, present := data[field]; present {
			continue
		}

		data[field] = def

		absPath := filepath.Join(s.root, filepath.FromSlash(row.Path))

		doc, err := docfile.Read(s.fsys, absPath)
		if err != nil {
			s.log.Warn("backfill: skipping unreadable document", "collection", collection, "path", row.Path, "error", err)

			continue
		}

		if err := docfile.Write(s.fsys, absPath, data, doc.Content); err != nil {
			return fmt.Errorf("write %s: %w", absPath, err)
		}
	}

	return nil
}
