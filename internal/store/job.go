package store

import (
	"database/sql"
	"fmt"

	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/paramset"
)

// CreateJobParams are the named, typed arguments for CreateJob,
// replacing the Rearrange-style keyword arguments of the original
// job-creation API per spec.md §9's design notes.
type CreateJobParams struct {
	InputID         map[string]any
	AnalysisID      int64
	PrevJobID       *int64
	Blocked         bool
	SemaphoreCount  int
	SemaphoredJobID *int64
}

// CreateJob inserts a new job, deduplicating on (input_id, analysis_id)
// and propagating the fan/funnel semaphore protocol of spec.md §4.1.
// Returns nil, nil when the insert collided with an existing job (no
// new job was created, which is not an error).
func (db *DB) CreateJob(p CreateJobParams) (*int64, error) {
	canonical, err := paramset.Stringify(p.InputID)
	if err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}

	inputID := canonical
	if len(inputID) > paramset.OffloadThreshold {
		token, err := db.offloadInputID(inputID)
		if err != nil {
			return nil, fmt.Errorf("store: create job: %w", err)
		}
		inputID = token
	}

	explicitFunnel := p.SemaphoredJobID != nil
	funnel := p.SemaphoredJobID
	if !explicitFunnel && p.PrevJobID != nil {
		inherited, err := db.getSemaphoredJobID(*p.PrevJobID)
		if err != nil && err != ErrNotFound {
			return nil, fmt.Errorf("store: create job: resolve inherited funnel: %w", err)
		}
		funnel = inherited
	}

	status := model.JobReady
	if p.Blocked {
		status = model.JobBlocked
	}

	res, err := db.conn.Exec(db.dialect.insertIgnoreJob(),
		p.AnalysisID, inputID, p.PrevJobID, string(status), p.SemaphoreCount, funnel)
	if err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: create job: rows affected: %w", err)
	}

	if rows == 0 {
		// Collided with an existing (input_id, analysis_id). If the
		// caller explicitly named a funnel, it already bumped that
		// funnel's semaphore_count speculatively before calling us —
		// cancel that increment now that we know no new fan child
		// actually joined.
		if explicitFunnel {
			if err := db.bumpSemaphoreCount(*funnel, -1); err != nil {
				return nil, fmt.Errorf("store: create job: cancel speculative increment: %w", err)
			}
		}
		return nil, nil
	}

	jobID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create job: last insert id: %w", err)
	}

	// A funnel inherited (not explicitly named) from prev_job is one
	// nobody has incremented yet — we own that increment.
	if funnel != nil && !explicitFunnel {
		if err := db.bumpSemaphoreCount(*funnel, 1); err != nil {
			return nil, fmt.Errorf("store: create job: increment inherited funnel: %w", err)
		}
	}

	if err := db.bumpJobCreatedStats(p.AnalysisID); err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}

	return &jobID, nil
}

// bumpJobCreatedStats increments total/unclaimed counters and flips
// LOADING unless the analysis is currently BLOCKED (spec.md §4.1).
func (db *DB) bumpJobCreatedStats(analysisID int64) error {
	_, err := db.conn.Exec(
		`UPDATE analysis_stats SET total_job_count = total_job_count + 1,
		 unclaimed_job_count = unclaimed_job_count + 1,
		 status = CASE WHEN status = 'BLOCKED' THEN status ELSE 'LOADING' END
		 WHERE analysis_id = ?`, analysisID)
	return err
}

func (db *DB) getSemaphoredJobID(jobID int64) (*int64, error) {
	var v sql.NullInt64
	err := db.conn.QueryRow(`SELECT semaphored_job_id FROM job WHERE job_id = ?`, jobID).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int64, nil
}

// bumpSemaphoreCount atomically adjusts a job's semaphore_count by
// delta (positive or negative), used for both the speculative-fan
// bookkeeping of CreateJob and DecreaseSemaphoreCount on child DONE.
func (db *DB) bumpSemaphoreCount(jobID int64, delta int) error {
	_, err := db.conn.Exec(`UPDATE job SET semaphore_count = semaphore_count + ? WHERE job_id = ?`, delta, jobID)
	return err
}

// IncrementSemaphoreCount bumps a funnel's semaphore_count up by one,
// used by the dataflow engine BEFORE creating each fan child so the
// funnel never transiently reads as claimable.
func (db *DB) IncrementSemaphoreCount(funnelJobID int64) error {
	return db.bumpSemaphoreCount(funnelJobID, 1)
}

// DecreaseSemaphoreCount decrements a funnel's counter by one when a
// fan child reaches DONE (spec.md §4.3).
func (db *DB) DecreaseSemaphoreCount(funnelJobID int64, by int) error {
	return db.bumpSemaphoreCount(funnelJobID, -by)
}

// FindChildJob returns the id of a job already created from prevJobID
// into analysisID, if one exists. The dataflow engine uses this to
// make funnel bootstrap idempotent across the several Propagate calls
// one fan event's multiple output rows produce, and across a race with
// another such call.
func (db *DB) FindChildJob(prevJobID, analysisID int64) (*int64, error) {
	var id int64
	err := db.conn.QueryRow(
		`SELECT job_id FROM job WHERE prev_job_id = ? AND analysis_id = ? LIMIT 1`,
		prevJobID, analysisID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find child job: %w", err)
	}
	return &id, nil
}

// GetJob retrieves a job by id.
func (db *DB) GetJob(jobID int64) (*model.Job, error) {
	return db.scanJob(db.conn.QueryRow(jobSelectCols+`WHERE job_id = ?`, jobID))
}

const jobSelectCols = `SELECT job_id, analysis_id, input_id, prev_job_id, worker_id, status, retry_count, semaphore_count, semaphored_job_id, completed, runtime_msec, query_count FROM job `

func (db *DB) scanJob(row *sql.Row) (*model.Job, error) {
	var j model.Job
	var prevJobID, workerID, semaphoredJobID sql.NullInt64
	var completed sql.NullTime
	var status string
	err := row.Scan(&j.JobID, &j.AnalysisID, &j.InputID, &prevJobID, &workerID, &status,
		&j.RetryCount, &j.SemaphoreCount, &semaphoredJobID, &completed, &j.RuntimeMsec, &j.QueryCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.Status = model.JobStatus(status)
	if prevJobID.Valid {
		j.PrevJobID = &prevJobID.Int64
	}
	if workerID.Valid {
		j.WorkerID = &workerID.Int64
	}
	if semaphoredJobID.Valid {
		j.SemaphoredJobID = &semaphoredJobID.Int64
	}
	if completed.Valid {
		j.Completed = &completed.Time
	}
	return &j, nil
}

// ListJobsForWorker returns the jobs attributed to worker that are in
// status.
func (db *DB) ListJobsForWorker(workerID int64, status model.JobStatus) ([]*model.Job, error) {
	rows, err := db.conn.Query(jobSelectCols+`WHERE worker_id = ? AND status = ?`, workerID, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list jobs for worker: %w", err)
	}
	return db.scanJobRows(rows)
}

// ListJobsForWorkerAnyStatus returns all jobs currently attributed to a
// worker regardless of status, used by the garbage collector (spec.md
// §4.5) to find everything a dead worker was holding.
func (db *DB) ListJobsForWorkerAnyStatus(workerID int64) ([]*model.Job, error) {
	rows, err := db.conn.Query(jobSelectCols+`WHERE worker_id = ?`, workerID)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs for worker: %w", err)
	}
	return db.scanJobRows(rows)
}

func (db *DB) scanJobRows(rows *sql.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		var j model.Job
		var prevJobID, workerID, semaphoredJobID sql.NullInt64
		var completed sql.NullTime
		var status string
		if err := rows.Scan(&j.JobID, &j.AnalysisID, &j.InputID, &prevJobID, &workerID, &status,
			&j.RetryCount, &j.SemaphoreCount, &semaphoredJobID, &completed, &j.RuntimeMsec, &j.QueryCount); err != nil {
			return nil, fmt.Errorf("store: scan job row: %w", err)
		}
		j.Status = model.JobStatus(status)
		if prevJobID.Valid {
			j.PrevJobID = &prevJobID.Int64
		}
		if workerID.Valid {
			j.WorkerID = &workerID.Int64
		}
		if semaphoredJobID.Valid {
			j.SemaphoredJobID = &semaphoredJobID.Int64
		}
		if completed.Valid {
			j.Completed = &completed.Time
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// ReclaimJob performs the conditional READY -> CLAIMED transition used
// when a worker retries a job it already holds context for.
func (db *DB) ReclaimJob(workerID, jobID int64) error {
	res, err := db.conn.Exec(
		`UPDATE job SET worker_id = ?, status = 'CLAIMED' WHERE job_id = ? AND status = 'READY'`,
		workerID, jobID)
	if err != nil {
		return fmt.Errorf("store: reclaim job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: reclaim job: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetClaimedToReady resets a claimed-but-never-started job back to
// READY with no retry penalty, used by GC step 1 (spec.md §4.5).
func (db *DB) ResetClaimedToReady(workerID int64) (int64, error) {
	rows, err := db.conn.Query(jobSelectCols+`WHERE status = 'CLAIMED' AND worker_id = ?`, workerID)
	if err != nil {
		return 0, fmt.Errorf("store: reset claimed jobs: %w", err)
	}
	claimed, err := db.scanJobRows(rows)
	if err != nil {
		return 0, fmt.Errorf("store: reset claimed jobs: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	res, err := db.conn.Exec(
		`UPDATE job SET status = 'READY', worker_id = NULL WHERE status = 'CLAIMED' AND worker_id = ?`,
		workerID)
	if err != nil {
		return 0, fmt.Errorf("store: reset claimed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reset claimed jobs: %w", err)
	}

	// These jobs rejoin the claimable pool unclaimed_job_count tracks;
	// per-analysis since a dead worker's claims can span analyses.
	byAnalysis := make(map[int64]int64, len(claimed))
	for _, j := range claimed {
		byAnalysis[j.AnalysisID]++
	}
	for analysisID, count := range byAnalysis {
		if err := db.bumpUnclaimedStats(analysisID, count); err != nil {
			return 0, fmt.Errorf("store: reset claimed jobs: update stats: %w", err)
		}
	}
	return n, nil
}

// StoreOutFiles replaces the stdout/stderr record for a (job, retry)
// attempt.
func (db *DB) StoreOutFiles(f model.JobFile) error {
	_, err := db.conn.Exec(
		`INSERT INTO job_file (job_id, retry, stdout, stderr) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id, retry) DO UPDATE SET stdout = excluded.stdout, stderr = excluded.stderr`,
		f.JobID, f.Retry, f.StdOut, f.StdErr)
	if err != nil {
		return fmt.Errorf("store: store out files: %w", err)
	}
	return nil
}
