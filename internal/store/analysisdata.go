package store

import (
	"database/sql"
	"fmt"

	"github.com/gohive/beehive/internal/paramset"
)

// offloadInputID implements the analysis_data store-if-needed offload:
// hash -> id, returning the existing id if the content is already
// present (write-once by content-address, spec.md §3/§4.1).
func (db *DB) offloadInputID(data string) (string, error) {
	hash := paramset.ContentHash(data)

	var id int64
	err := db.conn.QueryRow(`SELECT analysis_data_id FROM analysis_data WHERE content_hash = ?`, hash).Scan(&id)
	if err == nil {
		return paramset.OffloadToken(id), nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("store: offload input id: %w", err)
	}

	res, err := db.conn.Exec(
		`INSERT INTO analysis_data (content_hash, data) VALUES (?, ?) ON CONFLICT(content_hash) DO NOTHING`,
		hash, data)
	if err != nil {
		return "", fmt.Errorf("store: offload input id: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("store: offload input id: %w", err)
	}
	if rows == 0 {
		// Lost a race with another writer storing the same content;
		// re-read the id it produced.
		if err := db.conn.QueryRow(`SELECT analysis_data_id FROM analysis_data WHERE content_hash = ?`, hash).Scan(&id); err != nil {
			return "", fmt.Errorf("store: offload input id: re-read after race: %w", err)
		}
		return paramset.OffloadToken(id), nil
	}

	id, err = res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("store: offload input id: %w", err)
	}
	return paramset.OffloadToken(id), nil
}

// ResolveAnalysisData expands an `_ext_input_analysis_data_id N` token
// back into the original stored string, used by GET_INPUT (spec.md
// §4.2 step 2).
func (db *DB) ResolveAnalysisData(id int64) (string, error) {
	var data string
	err := db.conn.QueryRow(`SELECT data FROM analysis_data WHERE analysis_data_id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: resolve analysis data: %w", err)
	}
	return data, nil
}
