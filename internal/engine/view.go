package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/groundb/groundb/internal/subscribe"
	"github.com/groundb/groundb/internal/viewsql"
)

// rebuildView executes view's SQL (with its buffer multiplier applied),
// persists the buffered result to the index, and refreshes the in-memory
// cache. Subscribers are notified with the trimmed (unbuffered) result.
func (s *Store) rebuildView(ctx context.Context, name string) error {
	v, ok := s.sch.Views[name]
	if !ok {
		return fmt.Errorf("engine: unknown view %q", name)
	}

	if v.Kind == "query" {
		return fmt.Errorf("engine: view %q is a query view, not rebuildable without params", name)
	}

	rows, err := s.runView(ctx, v.SQL, v.Buffer, nil)
	if err != nil {
		return fmt.Errorf("engine: rebuild view %q: %w", name, err)
	}

	if err := s.idx.SetViewData(ctx, name, rows, "{}"); err != nil {
		return err
	}

	s.viewCacheMu.Lock()
	s.viewCache[name] = rows
	s.viewCacheMu.Unlock()

	trimmed := rows
	if v.Buffer != 1.0 {
		trimmed = trimView(v.SQL, rows)
	}

	if v.Materialize {
		if err := s.materializeView(name, trimmed); err != nil {
			return fmt.Errorf("engine: materialize view %q: %w", name, err)
		}
	}

	s.subs.NotifyView(name, subscribe.ViewEvent{Rows: trimmed})

	return nil
}

// materializeView writes a materialize:true view's current (already
// buffer-trimmed) rows to root/views/<name>.yaml, overwriting any prior
// contents.
func (s *Store) materializeView(name string, rows []map[string]any) error {
	viewsDir := filepath.Join(s.root, "views")
	if err := s.fsys.MkdirAll(viewsDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", viewsDir, err)
	}

	out, err := yaml.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	outPath := filepath.Join(viewsDir, name+".yaml")
	if err := s.fsys.WriteFile(outPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	return nil
}

// runView parses, rewrites, buffers, and executes a view's SQL.
func (s *Store) runView(ctx context.Context, sqlText string, buffer float64, params map[string]any) ([]map[string]any, error) {
	parsed, err := viewsql.Parse(sqlText)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	rewritten, err := viewsql.Rewrite(parsed, s.sch)
	if err != nil {
		return nil, err
	}

	if buffer != 1.0 {
		rewritten = viewsql.ApplyBuffer(rewritten, parsed, buffer)
	}

	s.idx.RLock()
	defer s.idx.RUnlock()

	return viewsql.Execute(ctx, s.idx.RawDB(), rewritten, params)
}

// trimView re-parses sqlText to recover its declared LIMIT and truncates a
// buffered result back down to it, for callers that want the view's
// contractual result size rather than the over-fetched buffer.
func trimView(sqlText string, rows []map[string]any) []map[string]any {
	parsed, err := viewsql.Parse(sqlText)
	if err != nil || parsed.Limit == nil || *parsed.Limit >= len(rows) {
		return rows
	}

	return rows[:*parsed.Limit]
}

// ViewRows returns the cached rows for a materialized view.
func (s *Store) ViewRows(name string) ([]map[string]any, bool) {
	s.viewCacheMu.RLock()
	defer s.viewCacheMu.RUnlock()

	rows, ok := s.viewCache[name]
	if !ok {
		return nil, false
	}

	v := s.sch.Views[name]
	if v.Buffer != 1.0 {
		rows = trimView(v.SQL, rows)
	}

	out := make([]map[string]any, len(rows))
	copy(out, rows)

	return out, true
}

// QueryDynamic executes a query-type view with the given params and returns
// its result directly: query views are never cached or materialized.
func (s *Store) QueryDynamic(ctx context.Context, name string, params map[string]any) ([]map[string]any, error) {
	v, ok := s.sch.Views[name]
	if !ok {
		return nil, fmt.Errorf("engine: unknown view %q", name)
	}

	for pname := range v.Params {
		if _, ok := params[pname]; !ok {
			return nil, fmt.Errorf("engine: query %q: missing param %q", name, pname)
		}
	}

	return s.runView(ctx, v.SQL, 1.0, params)
}

// ViewDynamic executes sql (not a declared view) ad hoc against the current
// schema, for one-off exploratory queries the spec's view_dynamic exposes.
func (s *Store) ViewDynamic(ctx context.Context, sqlText string, params map[string]any) ([]map[string]any, error) {
	return s.runView(ctx, sqlText, 1.0, params)
}

// ExplainView returns the rewritten SQL the engine would execute for a
// declared view, for diagnostics.
func (s *Store) ExplainView(name string) (string, error) {
	v, ok := s.sch.Views[name]
	if !ok {
		return "", fmt.Errorf("engine: unknown view %q", name)
	}

	parsed, err := viewsql.Parse(v.SQL)
	if err != nil {
		return "", err
	}

	rewritten, err := viewsql.Rewrite(parsed, s.sch)
	if err != nil {
		return "", err
	}

	if v.Buffer != 1.0 {
		rewritten = viewsql.ApplyBuffer(rewritten, parsed, v.Buffer)
	}

	return rewritten, nil
}

// rebuildViewsReferencing rebuilds every non-query view whose SQL mentions
// collection, called after a write affects that collection.
func (s *Store) rebuildViewsReferencing(ctx context.Context, collection string) error {
	for _, name := range s.sch.SortedViewNames() {
		v := s.sch.Views[name]
		if v.Kind == "query" {
			continue
		}

		parsed, err := viewsql.Parse(v.SQL)
		if err != nil {
			continue
		}

		for _, ref := range parsed.TableRefs {
			if ref.Collection == collection {
				if err := s.rebuildView(ctx, name); err != nil {
					return err
				}

				break
			}
		}
	}

	return nil
}
