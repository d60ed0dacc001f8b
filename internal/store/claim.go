package store

import (
	"fmt"

	"github.com/gohive/beehive/internal/model"
)

// ClaimJobsForWorker implements the two-phase claim of spec.md §4.1:
// prefer virgin jobs (retry_count=0) up to batchSize; if that claims
// zero, fall back to any READY job. Fresh work progresses the pipeline
// before risking retries that may loop. A short or empty result is not
// itself end-of-work proof on strictly-SERIALIZABLE stores (spec.md
// §9) — callers decide NO_WORK only when ClaimJobsForWorker returns
// nothing across both phases.
func (db *DB) ClaimJobsForWorker(workerID, analysisID int64, batchSize int) ([]*model.Job, error) {
	claimed, err := db.claimPhase(workerID, analysisID, batchSize, true)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}
	return db.claimPhase(workerID, analysisID, batchSize, false)
}

func (db *DB) claimPhase(workerID, analysisID int64, batchSize int, virginOnly bool) ([]*model.Job, error) {
	res, err := db.conn.Exec(db.dialect.claimBatch(virginOnly), workerID, analysisID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("store: claim jobs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: claim jobs: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	// Mirror the status flip in the cached counters (spec.md §4.4):
	// unclaimed_job_count tracks status=READY jobs, so every row this
	// UPDATE just moved to CLAIMED must leave it.
	if err := db.bumpUnclaimedStats(analysisID, -rows); err != nil {
		return nil, fmt.Errorf("store: claim jobs: update stats: %w", err)
	}

	claimedRows, err := db.conn.Query(jobSelectCols+`WHERE worker_id = ? AND status = 'CLAIMED'`, workerID)
	if err != nil {
		return nil, fmt.Errorf("store: claim jobs: reload claimed: %w", err)
	}
	return db.scanJobRows(claimedRows)
}

// bumpUnclaimedStats adjusts an analysis's cached unclaimed_job_count
// by delta, used whenever jobs move into or out of the claimable
// READY/semaphore_count<=0 state this counter tracks.
func (db *DB) bumpUnclaimedStats(analysisID int64, delta int64) error {
	_, err := db.conn.Exec(
		`UPDATE analysis_stats SET unclaimed_job_count = unclaimed_job_count + ? WHERE analysis_id = ?`,
		delta, analysisID)
	return err
}
