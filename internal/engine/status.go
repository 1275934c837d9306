package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/groundb/groundb/internal/validate"
)

// CollectionStatus summarises one collection's current document count and
// validation health.
type CollectionStatus struct {
	Name          string
	DocumentCount int
	Warnings      int
}

// ViewStatus summarises one view's cached row count and last build time.
type ViewStatus struct {
	Name      string
	RowCount  int
	Cached    bool
	LastBuilt string // RFC3339, empty if never built
}

// Status is the root status() operation's result: a snapshot of every
// collection and view's health.
type Status struct {
	SchemaHash  string
	Collections []CollectionStatus
	Views       []ViewStatus
}

// Status reports a point-in-time health summary across every collection and
// view, re-running validation (without writing) to surface warning counts.
func (s *Store) Status(ctx context.Context) (Status, error) {
	out := Status{SchemaHash: s.sch.Hash}

	for _, name := range s.sch.SortedCollectionNames() {
		col := s.sch.Collections[name]

		rows, err := s.idx.ListDocuments(ctx, name)
		if err != nil {
			return Status{}, err
		}

		warnings := 0

		for _, row := range rows {
			data, err := fromJSON(row.DataJSON)
			if err != nil {
				warnings++

				continue
			}

			res := validate.Prepare(s.sch, col, data)
			warnings += len(res.Warnings) + len(res.Errors)
		}

		out.Collections = append(out.Collections, CollectionStatus{Name: name, DocumentCount: len(rows), Warnings: warnings})
	}

	for _, name := range s.sch.SortedViewNames() {
		v := s.sch.Views[name]

		vs := ViewStatus{Name: name}

		if v.Kind != "query" {
			lastBuilt, _, ok, err := s.idx.ViewMetadata(ctx, name)
			if err != nil {
				return Status{}, err
			}

			vs.Cached = ok
			if ok {
				vs.LastBuilt = lastBuilt.Format("2006-01-02T15:04:05Z07:00")
			}

			if rows, ok := s.ViewRows(name); ok {
				vs.RowCount = len(rows)
			}
		}

		out.Views = append(out.Views, vs)
	}

	return out, nil
}

// ValidateReport is one document's validation outcome from ValidateAll.
type ValidateReport struct {
	Collection string
	ID         string
	Issues     []validate.Issue
}

// ValidateAll re-runs validate_and_prepare over every document in the store
// without writing anything back, returning every issue found (errors and
// warnings alike, regardless of the collection's strict flag).
func (s *Store) ValidateAll(ctx context.Context) ([]ValidateReport, error) {
	var out []ValidateReport

	for _, name := range s.sch.SortedCollectionNames() {
		col := s.sch.Collections[name]

		rows, err := s.idx.ListDocuments(ctx, name)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			data, err := fromJSON(row.DataJSON)
			if err != nil {
				out = append(out, ValidateReport{Collection: name, ID: row.ID, Issues: []validate.Issue{{Message: err.Error()}}})

				continue
			}

			res := validate.Prepare(s.sch, col, data)

			issues := append(append([]validate.Issue{}, res.Errors...), res.Warnings...)
			if len(issues) > 0 {
				out = append(out, ValidateReport{Collection: name, ID: row.ID, Issues: issues})
			}
		}
	}

	return out, nil
}

// Rebuild forces a full rescan of every collection and rebuilds every
// non-query view, equivalent to the boot sequence run on a changed schema.
func (s *Store) Rebuild(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.fullScanAll(ctx); err != nil {
		return fmt.Errorf("engine: rebuild: %w", err)
	}

	for _, name := range s.sch.SortedViewNames() {
		if s.sch.Views[name].Kind == "query" {
			continue
		}

		if err := s.rebuildView(ctx, name); err != nil {
			return fmt.Errorf("engine: rebuild: view %q: %w", name, err)
		}
	}

	return nil
}

// ResolveID finds the single document across a collection whose id begins
// with prefix. Returns an error if zero or more than one document matches.
func (s *Store) ResolveID(ctx context.Context, collection, prefix string) (*Document, error) {
	rows, err := s.idx.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}

	var match *Document

	for _, row := range rows {
		if !strings.HasPrefix(row.ID, prefix) {
			continue
		}

		if match != nil {
			return nil, fmt.Errorf("engine: ambiguous id prefix %q in %q: matches %s and %s", prefix, collection, match.ID, row.ID)
		}

		doc, err := rowToDocument(collection, row)
		if err != nil {
			return nil, err
		}

		match = doc
	}

	if match == nil {
		return nil, fmt.Errorf("%w: no document in %q matches prefix %q", ErrNotFound, collection, prefix)
	}

	return match, nil
}
