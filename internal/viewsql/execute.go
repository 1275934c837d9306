package viewsql

import (
	"context"
	"database/sql"
	"fmt"
)

// Execute runs sqlText (already CTE-rewritten) against db, binding params by
// name. go-sqlite3 resolves ":name" placeholders directly from
// [sql.Named], so — unlike a parser built on a separate SQL grammar — this
// package never needs to mask ":name" placeholders before scanning: the
// regex-based extraction in Parse tolerates them as-is.
func Execute(ctx context.Context, db *sql.DB, sqlText string, params map[string]any) ([]map[string]any, error) {
	args := make([]any, 0, len(params))
	for name, val := range params {
		args = append(args, sql.Named(name, val))
	}

	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("viewsql: execute: %w", err)
	}

	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("viewsql: execute: columns: %w", err)
	}

	var out []map[string]any

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range vals {
			ptrs[i] = &vals[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("viewsql: execute: scan: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeSQLValue(vals[i])
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// normalizeSQLValue converts driver-returned []byte (TEXT columns commonly
// surface this way) into string so callers and JSON encoding see plain Go
// values.
func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
