package store

import (
	"context"
	"fmt"
)

// QueryRows runs an arbitrary read-only query against the pipeline
// store and returns its rows as strings alongside the column names
// reported by the driver, the form internal/jobfactory's inputquery
// source needs (spec.md §4.6: "column names taken from the result
// metadata").
func (db *DB) QueryRows(ctx context.Context, query string) ([][]string, []string, error) {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("store: query rows: columns: %w", err)
	}

	var out [][]string
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("store: query rows: scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = stringifyCell(v)
		}
		out = append(out, row)
	}
	return out, cols, rows.Err()
}

func stringifyCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
