// Package stats derives an analysis's aggregate AnalysisStatus and
// num_required_workers from its cached counters (spec.md §4.4). It is
// the read side of the scheduler feedback loop, for a beekeeper-style
// supervisor deciding whether more workers are worth spawning for an
// analysis; the worker loop does not call it.
package stats

import (
	"fmt"
	"math"

	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/store"
)

// Recompute derives and persists AnalysisStats.Status and
// NumRequiredWorkers for one analysis from its current counters,
// following the decision table of spec.md §4.4:
//
//   - any control rule whose condition analysis is not DONE -> BLOCKED
//   - total_job_count == 0                                  -> LOADING
//   - failed_job_count/total_job_count > failed_job_tolerance -> FAILED,
//     checked independently of whether jobs are still outstanding
//   - done_job_count + failed_job_count == total_job_count   -> DONE
//   - unclaimed_job_count == 0 (some jobs still working)     -> ALL_CLAIMED
//   - unclaimed_job_count > 0                                -> READY or WORKING
func Recompute(db *store.DB, analysisID int64) (*model.AnalysisStats, error) {
	a, err := db.GetAnalysis(analysisID)
	if err != nil {
		return nil, fmt.Errorf("stats: recompute: load analysis: %w", err)
	}
	s, err := db.GetStats(analysisID)
	if err != nil {
		return nil, fmt.Errorf("stats: recompute: load stats: %w", err)
	}

	blocked, err := isBlocked(db, analysisID)
	if err != nil {
		return nil, fmt.Errorf("stats: recompute: %w", err)
	}

	s.Status = deriveStatus(a, s, blocked)
	// A BLOCKED analysis's jobs cannot be claimed, so it needs no workers.
	s.NumRequiredWorkers = 0
	if !blocked {
		s.NumRequiredWorkers = requiredWorkers(a, s)
	}

	if err := db.SaveStats(s); err != nil {
		return nil, fmt.Errorf("stats: recompute: save: %w", err)
	}
	return s, nil
}

func isBlocked(db *store.DB, analysisID int64) (bool, error) {
	rules, err := db.ListControlRulesFor(analysisID)
	if err != nil {
		return false, err
	}
	for _, r := range rules {
		cond, err := db.GetStats(r.ConditionAnalysisID)
		if err != nil {
			return false, err
		}
		if cond.Status != model.AnalysisDone {
			return true, nil
		}
	}
	return false, nil
}

func deriveStatus(a *model.Analysis, s *model.AnalysisStats, blocked bool) model.AnalysisStatus {
	if blocked {
		return model.AnalysisBlocked
	}
	if s.TotalJobCount == 0 {
		return model.AnalysisLoading
	}

	// Checked independently of whether jobs are still outstanding: an
	// analysis can be promoted straight to FAILED mid-run once its
	// failure rate crosses the configured tolerance, rather than
	// waiting for every job to finish.
	if FailedJobToleranceExceeded(a, s) {
		return model.AnalysisFailed
	}

	finished := s.DoneJobCount + s.FailedJobCount
	if finished >= s.TotalJobCount {
		return model.AnalysisDone
	}

	if s.UnclaimedJobCount == 0 {
		return model.AnalysisAllClaimed
	}
	if finished > 0 {
		return model.AnalysisWorking
	}
	return model.AnalysisReady
}

// requiredWorkers is min(hive_capacity, ceil(unclaimed_job_count /
// batch_size)), the scheduler's feedback signal for how many more
// workers an analysis could usefully absorb right now.
func requiredWorkers(a *model.Analysis, s *model.AnalysisStats) int {
	if s.UnclaimedJobCount <= 0 {
		return 0
	}
	batchSize := a.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	need := int(math.Ceil(float64(s.UnclaimedJobCount) / float64(batchSize)))
	if a.HiveCapacity > 0 && need > a.HiveCapacity {
		return a.HiveCapacity
	}
	return need
}

// FailedJobToleranceExceeded reports whether an analysis's observed
// failure rate has crossed its configured tolerance (spec.md §4.4),
// the trigger for promoting an analysis straight to FAILED even while
// jobs remain outstanding. The default tolerance is 0: a single failed
// job is enough to exceed it, matching the zero-margin default an
// analysis gets when its pipeline never set failed_job_tolerance.
func FailedJobToleranceExceeded(a *model.Analysis, s *model.AnalysisStats) bool {
	if s.TotalJobCount == 0 {
		return false
	}
	rate := float64(s.FailedJobCount) / float64(s.TotalJobCount) * 100
	return rate > a.FailedJobTolerance
}
