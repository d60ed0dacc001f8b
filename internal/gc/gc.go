// Package gc implements the worker-death cleanup of spec.md §4.5: a
// dead worker's CLAIMED jobs are returned to READY with no retry
// penalty, and its working-state jobs are either re-routed along a
// configured gc_dataflow branch (resource-overuse or ANYFAILURE) or
// released back with an aged retry_count.
package gc

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gohive/beehive/internal/dataflow"
	"github.com/gohive/beehive/internal/events"
	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/store"
)

// maxConcurrentCollections bounds how many of a dead worker's working
// jobs are re-routed or released at once: independent per-job work,
// but unbounded fan-out would let one oversized batch_size flood the
// store with concurrent writes.
const maxConcurrentCollections = 4

// branchForCause maps a worker death cause to the symbolic
// gc_dataflow branch a re-routing rule would be registered under.
func branchForCause(cause model.CauseOfDeath) string {
	if cause.IsResourceOveruse() {
		return string(cause) // "MEMLIMIT" or "RUNLIMIT"
	}
	return "ANYFAILURE"
}

// CollectDeadWorker runs the three-step cleanup of spec.md §4.5 for
// one worker that has been determined dead (missing heartbeat past a
// threshold, or a reported FATALITY). bus may be nil.
func CollectDeadWorker(db *store.DB, flow *dataflow.Engine, bus *events.Bus, log *zap.Logger, workerID int64, cause model.CauseOfDeath) error {
	if err := db.RecordDeath(workerID, cause); err != nil {
		return fmt.Errorf("gc: record death: %w", err)
	}
	if bus != nil {
		bus.Emit(events.NewEvent(events.WorkerCollected).WithWorker(workerID).
			WithPayload(map[string]any{"cause_of_death": string(cause)}))
	}

	// Step 1: CLAIMED jobs never started executing, so they go back to
	// READY with no retry penalty.
	reset, err := db.ResetClaimedToReady(workerID)
	if err != nil {
		return fmt.Errorf("gc: reset claimed jobs: %w", err)
	}
	if reset > 0 {
		log.Info("gc: reset claimed jobs", zap.Int64("worker_id", workerID), zap.Int64("count", reset))
	}

	// Step 2: jobs still in a working phase (COMPILATION..WRITE_OUTPUT)
	// may have done partial, unrecoverable work; try a configured
	// gc_dataflow re-route before falling back to a retried release.
	working, err := db.ListJobsForWorkerAnyStatus(workerID)
	if err != nil {
		return fmt.Errorf("gc: list working jobs: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(maxConcurrentCollections)
	for _, j := range working {
		if !j.Status.IsWorking() {
			continue
		}
		j := j
		g.Go(func() error {
			if err := collectWorkingJob(db, flow, log, j, cause); err != nil {
				return fmt.Errorf("gc: collect job %d: %w", j.JobID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func collectWorkingJob(db *store.DB, flow *dataflow.Engine, log *zap.Logger, j *model.Job, cause model.CauseOfDeath) error {
	branch := branchForCause(cause)
	rules, err := db.ListDataflowRules(j.AnalysisID, branch)
	if err != nil {
		return err
	}

	// Step 3: always leave a record of why the job moved, regardless of
	// which of the two paths below is taken.
	if err := db.AppendJobMessage(model.JobMessage{
		JobID:   j.JobID,
		Message: fmt.Sprintf("worker died (%s) while job was in %s", cause, j.Status),
		IsError: true,
	}); err != nil {
		return err
	}

	if len(rules) > 0 {
		a, err := db.GetAnalysis(j.AnalysisID)
		if err != nil {
			return err
		}
		if err := flow.Propagate(dataflow.Flow{
			JobID:      j.JobID,
			AnalysisID: j.AnalysisID,
			Branch:     branch,
			Params:     map[string]any{"logic_name": a.LogicName},
		}); err != nil {
			return fmt.Errorf("gc_dataflow re-route: %w", err)
		}
		return db.UpdateStatusTx(j.JobID, model.JobPassedOn, nil)
	}

	// No re-routing rule configured: fall back to the standard
	// release-and-age path. A resource-overuse death is not retried —
	// the same job would just hit the same limit again — so it goes
	// straight to FAILED (spec.md §4.5 step 2c).
	a, err := db.GetAnalysis(j.AnalysisID)
	if err != nil {
		return err
	}
	mayRetry := !cause.IsResourceOveruse()
	if !mayRetry {
		log.Warn("gc: resource-overuse death with no gc_dataflow rule, failing without retry",
			zap.Int64("job_id", j.JobID), zap.String("cause", string(cause)))
	}
	return db.ReleaseAndAge(j.JobID, a.MaxRetryCount, mayRetry)
}
