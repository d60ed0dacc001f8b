package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gohive/beehive/internal/model"
)

// RegisterWorker inserts a new worker row (born=now) and returns its id.
func (db *DB) RegisterWorker(w *model.Worker) (int64, error) {
	now := time.Now()
	res, err := db.conn.Exec(
		`INSERT INTO worker (analysis_id, host, process_id, meadow_type, born, last_check_in, cause_of_death)
		 VALUES (?, ?, ?, ?, ?, ?, '')`,
		w.AnalysisID, w.Host, w.ProcessID, w.MeadowType, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: register worker: %w", err)
	}
	return res.LastInsertId()
}

// Heartbeat updates last_check_in, giving an external monitor a signal
// to compare against a liveness threshold (spec.md §4.5 "missing
// heartbeat past a threshold"). Not itself part of the original spec's
// GC trigger (that is external), but nothing can read worker liveness
// without it.
func (db *DB) Heartbeat(workerID int64) error {
	_, err := db.conn.Exec(`UPDATE worker SET last_check_in = ? WHERE worker_id = ?`, time.Now(), workerID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	return nil
}

// RecordDeath writes died=now and the termination cause.
func (db *DB) RecordDeath(workerID int64, cause model.CauseOfDeath) error {
	_, err := db.conn.Exec(`UPDATE worker SET died = ?, cause_of_death = ? WHERE worker_id = ?`,
		time.Now(), string(cause), workerID)
	if err != nil {
		return fmt.Errorf("store: record death: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker row by id.
func (db *DB) GetWorker(workerID int64) (*model.Worker, error) {
	var w model.Worker
	var died sql.NullTime
	var lastCheckIn sql.NullTime
	var cause string
	err := db.conn.QueryRow(
		`SELECT worker_id, analysis_id, host, process_id, meadow_type, born, last_check_in, died, cause_of_death
		 FROM worker WHERE worker_id = ?`, workerID,
	).Scan(&w.WorkerID, &w.AnalysisID, &w.Host, &w.ProcessID, &w.MeadowType, &w.Born, &lastCheckIn, &died, &cause)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get worker: %w", err)
	}
	w.CauseOfDeath = model.CauseOfDeath(cause)
	if lastCheckIn.Valid {
		w.LastCheckIn = lastCheckIn.Time
	}
	if died.Valid {
		w.Died = &died.Time
	}
	return &w, nil
}

// AppendJobMessage records a job_message row, used by the GC (spec.md
// §4.5 step 3) and by per-job failure handling.
func (db *DB) AppendJobMessage(m model.JobMessage) error {
	_, err := db.conn.Exec(
		`INSERT INTO job_message (job_id, worker_id, message, is_error, created) VALUES (?, ?, ?, ?, ?)`,
		m.JobID, m.WorkerID, m.Message, m.IsError, time.Now())
	if err != nil {
		return fmt.Errorf("store: append job message: %w", err)
	}
	return nil
}

// ListMessagesForJob returns all messages recorded for a job, in
// insertion order.
func (db *DB) ListMessagesForJob(jobID int64) ([]model.JobMessage, error) {
	rows, err := db.conn.Query(
		`SELECT job_message_id, job_id, worker_id, message, is_error, created FROM job_message WHERE job_id = ? ORDER BY job_message_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list job messages: %w", err)
	}
	defer rows.Close()

	var out []model.JobMessage
	for rows.Next() {
		var m model.JobMessage
		var workerID sql.NullInt64
		if err := rows.Scan(&m.JobMessageID, &m.JobID, &workerID, &m.Message, &m.IsError, &m.Created); err != nil {
			return nil, fmt.Errorf("store: scan job message: %w", err)
		}
		if workerID.Valid {
			m.WorkerID = &workerID.Int64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMessagesForWorker returns all messages recorded by a worker
// across all jobs it touched, most recent last.
func (db *DB) ListMessagesForWorker(workerID int64) ([]model.JobMessage, error) {
	rows, err := db.conn.Query(
		`SELECT job_message_id, job_id, worker_id, message, is_error, created FROM job_message WHERE worker_id = ? ORDER BY job_message_id`, workerID)
	if err != nil {
		return nil, fmt.Errorf("store: list job messages for worker: %w", err)
	}
	defer rows.Close()

	var out []model.JobMessage
	for rows.Next() {
		var m model.JobMessage
		var wID sql.NullInt64
		if err := rows.Scan(&m.JobMessageID, &m.JobID, &wID, &m.Message, &m.IsError, &m.Created); err != nil {
			return nil, fmt.Errorf("store: scan job message: %w", err)
		}
		if wID.Valid {
			m.WorkerID = &wID.Int64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
