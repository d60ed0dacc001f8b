package store

import (
	"fmt"
	"time"

	"github.com/gohive/beehive/internal/model"
)

// UpdateStatusResult carries the observability fields set alongside a
// DONE transition.
type UpdateStatusResult struct {
	RuntimeMsec int64
	QueryCount  int64
}

// UpdateStatus transitions a job to status, setting completed,
// runtime_msec and query_count when the new status is DONE. Wrapped
// in deadlockRetry per spec.md §4.1: only the driver's restart-
// transaction sentinel is retried, bounded to 3 attempts.
func (db *DB) UpdateStatus(jobID int64, status model.JobStatus, result *UpdateStatusResult) error {
	return deadlockRetry(func() error {
		if status == model.JobDone {
			r := UpdateStatusResult{}
			if result != nil {
				r = *result
			}
			_, err := db.conn.Exec(
				`UPDATE job SET status = ?, completed = ?, runtime_msec = ?, query_count = ? WHERE job_id = ?`,
				string(status), time.Now(), r.RuntimeMsec, r.QueryCount, jobID)
			return err
		}
		_, err := db.conn.Exec(`UPDATE job SET status = ? WHERE job_id = ?`, string(status), jobID)
		return err
	})
}

// UpdateStatusTx performs the same transition but also records the
// delta this transition implies for the owning analysis's cached
// counters (done/failed), so callers don't need a second
// round trip. Used by the worker loop and the GC.
//
// Per spec.md §5's ordering guarantee, a fan child's semaphore
// decrement on its funnel happens in the same call as its own DONE or
// PASSED_ON transition, so no funnel can be claimed while any sibling
// fan job is still provably alive.
func (db *DB) UpdateStatusTx(jobID int64, status model.JobStatus, result *UpdateStatusResult) error {
	j, err := db.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}

	if err := db.UpdateStatus(jobID, status, result); err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}

	switch status {
	case model.JobDone, model.JobPassedOn:
		if status == model.JobDone {
			if _, err := db.conn.Exec(
				`UPDATE analysis_stats SET done_job_count = done_job_count + 1 WHERE analysis_id = ?`, j.AnalysisID,
			); err != nil {
				return fmt.Errorf("store: update status: bump done count: %w", err)
			}
		}
		if j.SemaphoredJobID != nil {
			if err := db.bumpSemaphoreCount(*j.SemaphoredJobID, -1); err != nil {
				return fmt.Errorf("store: update status: decrement funnel semaphore: %w", err)
			}
		}
	case model.JobFailed:
		_, err := db.conn.Exec(
			`UPDATE analysis_stats SET failed_job_count = failed_job_count + 1 WHERE analysis_id = ?`, j.AnalysisID)
		if err != nil {
			return fmt.Errorf("store: update status: bump failed count: %w", err)
		}
	}
	return nil
}

// ReleaseAndAge implements spec.md §4.5's atomic reset of a job held
// by a dead or failed worker: status becomes READY if it may still be
// retried within max_retry_count, else FAILED; retry_count is bumped
// unconditionally. The CASE must read the OLD retry_count — ordering
// is load bearing, which is why this is one UPDATE, not a read then a
// write.
func (db *DB) ReleaseAndAge(jobID int64, maxRetryCount int, mayRetry bool) error {
	res, err := db.conn.Exec(
		`UPDATE job SET
			status = CASE WHEN ? AND retry_count < ? THEN 'READY' ELSE 'FAILED' END,
			retry_count = retry_count + 1,
			worker_id = NULL
		 WHERE job_id = ?`,
		mayRetry, maxRetryCount, jobID)
	if err != nil {
		return fmt.Errorf("store: release and age: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: release and age: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	j, err := db.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("store: release and age: %w", err)
	}
	if j.Status == model.JobFailed {
		_, err := db.conn.Exec(
			`UPDATE analysis_stats SET failed_job_count = failed_job_count + 1 WHERE analysis_id = ?`, j.AnalysisID)
		if err != nil {
			return fmt.Errorf("store: release and age: bump failed count: %w", err)
		}
	} else {
		_, err := db.conn.Exec(
			`UPDATE analysis_stats SET unclaimed_job_count = unclaimed_job_count + 1 WHERE analysis_id = ?`, j.AnalysisID)
		if err != nil {
			return fmt.Errorf("store: release and age: bump unclaimed count: %w", err)
		}
	}
	return nil
}
