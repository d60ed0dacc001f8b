package store

import (
	"fmt"
	"strings"

	"github.com/gohive/beehive/internal/model"
)

// AppendAccu records one accumulator value fed by a fan job, harvested
// by the funnel job once it unblocks (spec.md §4.3).
func (db *DB) AppendAccu(a model.Accu) error {
	_, err := db.conn.Exec(
		`INSERT INTO accu (semaphored_job_id, accu_name, accu_address, value) VALUES (?, ?, ?, ?)`,
		a.SemaphoredJobID, a.AccuName, a.AccuAddress, a.Value)
	if err != nil {
		return fmt.Errorf("store: append accu: %w", err)
	}
	return nil
}

// ListAccuForFunnel returns every value harvested for a funnel job,
// consumed when the funnel job itself runs.
func (db *DB) ListAccuForFunnel(funnelJobID int64) ([]model.Accu, error) {
	rows, err := db.conn.Query(
		`SELECT accu_id, semaphored_job_id, accu_name, accu_address, value FROM accu WHERE semaphored_job_id = ? ORDER BY accu_id`,
		funnelJobID)
	if err != nil {
		return nil, fmt.Errorf("store: list accu: %w", err)
	}
	defer rows.Close()

	var out []model.Accu
	for rows.Next() {
		var a model.Accu
		if err := rows.Scan(&a.AccuID, &a.SemaphoredJobID, &a.AccuName, &a.AccuAddress, &a.Value); err != nil {
			return nil, fmt.Errorf("store: scan accu: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertNakedTableRow is the generic adapter for a dataflow rule whose
// target is a naked table: an arbitrary table with columns named after
// the emitted params (spec.md §4.3). Column names come straight from
// the params map, so callers are responsible for restricting that map
// to trusted rule-configured columns before calling this.
func (db *DB) InsertNakedTableRow(tableName string, row map[string]any) error {
	if len(row) == 0 {
		return fmt.Errorf("store: insert naked table row: empty row for %s", tableName)
	}

	cols := make([]string, 0, len(row))
	vals := make([]any, 0, len(row))
	for k, v := range row {
		cols = append(cols, k)
		vals = append(vals, v)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := db.conn.Exec(query, vals...); err != nil {
		return fmt.Errorf("store: insert naked table row into %s: %w", tableName, err)
	}
	return nil
}
