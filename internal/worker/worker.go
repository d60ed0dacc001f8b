// Package worker implements the process-long worker of spec.md §4.2:
// a single-threaded loop bound to one analysis for its lifetime,
// claiming batches of jobs and driving each through
// COMPILATION -> GET_INPUT -> RUN -> WRITE_OUTPUT.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/gohive/beehive/internal/dataflow"
	"github.com/gohive/beehive/internal/events"
	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/paramset"
	"github.com/gohive/beehive/internal/runnable"
	"github.com/gohive/beehive/internal/store"
)

// Config bounds a worker's lifetime (spec.md §6's CLI surface).
type Config struct {
	BatchSize  int
	LifeSpan   time.Duration // 0 disables the wall-time predicate
	JobLimit   int           // 0 disables the work-done predicate
	MeadowType string
}

// Worker drives claimed jobs through their working phases for one
// analysis, on one process, until a termination predicate fires.
type Worker struct {
	db       *store.DB
	flow     *dataflow.Engine
	registry *runnable.Registry
	bus      *events.Bus
	log      *zap.Logger
	cfg      Config

	workerID   int64
	analysisID int64
	runID      string
	startedAt  time.Time
	jobsDone   int
}

// New registers a worker row for analysisID and returns a Worker bound
// to it for the rest of the process's life. bus may be nil. Each
// Worker gets its own run_id (a ULID, sortable by creation time), the
// correlation handle an operator greps logs and emitted events by
// when several workers for the same analysis overlap.
func New(db *store.DB, flow *dataflow.Engine, registry *runnable.Registry, bus *events.Bus, log *zap.Logger, analysisID int64, cfg Config) (*Worker, error) {
	host, _ := os.Hostname()
	id, err := db.RegisterWorker(&model.Worker{
		AnalysisID: analysisID,
		Host:       host,
		ProcessID:  os.Getpid(),
		MeadowType: cfg.MeadowType,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: register: %w", err)
	}
	runID := ulid.Make().String()
	w := &Worker{
		db:         db,
		flow:       flow,
		registry:   registry,
		bus:        bus,
		log:        log.With(zap.String("run_id", runID)),
		cfg:        cfg,
		workerID:   id,
		analysisID: analysisID,
		runID:      runID,
		startedAt:  time.Now(),
	}
	w.emit(events.NewEvent(events.WorkerRegistered).WithWorker(id).WithAnalysis(analysisID).
		WithPayload(map[string]any{"run_id": runID}))
	return w, nil
}

func (w *Worker) emit(e events.Event) {
	if w.bus != nil {
		w.bus.Emit(e)
	}
}

// Run executes the main loop of spec.md §4.2 until a termination
// predicate fires or ctx is cancelled, then records cause_of_death.
func (w *Worker) Run(ctx context.Context) model.CauseOfDeath {
	cause := w.loop(ctx)
	if err := w.db.RecordDeath(w.workerID, cause); err != nil {
		w.log.Error("worker: record death failed", zap.Error(err), zap.Int64("worker_id", w.workerID))
	}
	w.emit(events.NewEvent(events.WorkerDied).WithWorker(w.workerID).WithAnalysis(w.analysisID).
		WithPayload(map[string]any{"cause_of_death": string(cause), "run_id": w.runID}))
	return cause
}

func (w *Worker) loop(ctx context.Context) model.CauseOfDeath {
	for {
		select {
		case <-ctx.Done():
			return model.CauseFatality
		default:
		}

		if cause, done := w.checkTerminationPredicates(); done {
			return cause
		}

		jobs, err := w.db.ClaimJobsForWorker(w.workerID, w.analysisID, w.cfg.BatchSize)
		if err != nil {
			w.log.Error("worker: claim failed", zap.Error(err))
			return model.CauseFatality
		}
		if len(jobs) == 0 {
			return model.CauseNoWork
		}

		for _, job := range jobs {
			w.emit(events.NewEvent(events.JobClaimed).WithJob(job.JobID).WithAnalysis(job.AnalysisID).WithWorker(w.workerID))

			if err := w.db.Heartbeat(w.workerID); err != nil {
				w.log.Warn("worker: heartbeat failed", zap.Error(err))
			}

			contaminated, err := w.runJob(ctx, job)
			w.jobsDone++
			if err != nil {
				w.log.Warn("worker: job failed", zap.Int64("job_id", job.JobID), zap.Error(err))
			}
			if contaminated {
				return model.CauseContam
			}

			if cause, done := w.checkTerminationPredicates(); done {
				return cause
			}
		}
	}
}

// checkTerminationPredicates implements spec.md §4.2 step 3:
// work_done >= job_limit, wall_time >= lifespan.
func (w *Worker) checkTerminationPredicates() (model.CauseOfDeath, bool) {
	if w.cfg.JobLimit > 0 && w.jobsDone >= w.cfg.JobLimit {
		return model.CauseJobLimit, true
	}
	if w.cfg.LifeSpan > 0 && time.Since(w.startedAt) >= w.cfg.LifeSpan {
		return model.CauseLifespan, true
	}
	return model.CauseNone, false
}

// runJob drives one job through its four working phases, persisting
// the status transition before each phase so the GC can attribute
// failure to the phase a dead worker was in. It returns whether the
// failure is contagious (a compile failure, per spec.md §4.2), which
// ends this worker's process.
func (w *Worker) runJob(ctx context.Context, job *model.Job) (contaminated bool, err error) {
	analysis, err := w.db.GetAnalysis(job.AnalysisID)
	if err != nil {
		return false, fmt.Errorf("load analysis: %w", err)
	}

	params, err := w.resolveParams(analysis, job)
	if err != nil {
		return false, w.fail(job, analysis, fmt.Errorf("resolve params: %w", err))
	}

	if err := w.db.UpdateStatusTx(job.JobID, model.JobCompilation, nil); err != nil {
		return false, fmt.Errorf("set COMPILATION: %w", err)
	}
	r, err := w.registry.Build(analysis.Module, analysis.Parameters)
	if err != nil {
		_ = w.fail(job, analysis, err)
		return true, fmt.Errorf("compile: %w", err)
	}
	for k, v := range r.ParamDefaults() {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}

	if err := w.db.UpdateStatusTx(job.JobID, model.JobGetInput, nil); err != nil {
		return false, fmt.Errorf("set GET_INPUT: %w", err)
	}
	params, err = r.FetchInput(ctx, params)
	if err != nil {
		return false, w.fail(job, analysis, fmt.Errorf("fetch input: %w", err))
	}

	if err := w.db.UpdateStatusTx(job.JobID, model.JobRun, nil); err != nil {
		return false, fmt.Errorf("set RUN: %w", err)
	}
	start := time.Now()
	result, err := r.Run(ctx, params)
	if err != nil {
		return false, w.fail(job, analysis, fmt.Errorf("run: %w", err))
	}

	if err := w.db.UpdateStatusTx(job.JobID, model.JobWriteOutput, nil); err != nil {
		return false, fmt.Errorf("set WRITE_OUTPUT: %w", err)
	}
	flows, err := r.WriteOutput(ctx, result)
	if err != nil {
		return false, w.fail(job, analysis, fmt.Errorf("write output: %w", err))
	}
	if err := w.emitFlows(job, flows); err != nil {
		return false, w.fail(job, analysis, fmt.Errorf("emit dataflow: %w", err))
	}

	if err := w.db.UpdateStatusTx(job.JobID, model.JobDone, &store.UpdateStatusResult{
		RuntimeMsec: time.Since(start).Milliseconds(),
	}); err != nil {
		return false, err
	}
	w.emit(events.NewEvent(events.JobDone).WithJob(job.JobID).WithAnalysis(job.AnalysisID).WithWorker(w.workerID))
	return false, nil
}

// resolveParams builds the job's working parameter set: analysis-level
// defaults, then the job's own input_id, expanding any offloaded
// analysis_data indirection (spec.md §4.2 step 2, §3).
func (w *Worker) resolveParams(a *model.Analysis, j *model.Job) (map[string]any, error) {
	inputID := j.InputID
	if id, ok := paramset.IsOffloadToken(inputID); ok {
		resolved, err := w.db.ResolveAnalysisData(id)
		if err != nil {
			return nil, fmt.Errorf("resolve offloaded input_id: %w", err)
		}
		inputID = resolved
	}

	jobParams, err := paramset.Parse(inputID)
	if err != nil {
		return nil, fmt.Errorf("parse input_id: %w", err)
	}
	return paramset.Merge(a.Parameters, jobParams), nil
}

// fail implements spec.md §4.2's per-job failure handling: release the
// job for retry and record why.
func (w *Worker) fail(job *model.Job, a *model.Analysis, cause error) error {
	if msgErr := w.db.AppendJobMessage(model.JobMessage{
		JobID:    job.JobID,
		WorkerID: &w.workerID,
		Message:  cause.Error(),
		IsError:  true,
	}); msgErr != nil {
		w.log.Error("worker: append job message failed", zap.Error(msgErr))
	}
	if err := w.db.ReleaseAndAge(job.JobID, a.MaxRetryCount, true); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("release and age: %w", err)
	}
	w.emit(events.NewEvent(events.JobFailed).WithJob(job.JobID).WithAnalysis(job.AnalysisID).WithWorker(w.workerID).WithError(cause))
	return cause
}

// emitFlows propagates every branch a runnable's WriteOutput produced
// through the dataflow engine (spec.md §4.3). Dataflow effects become
// observable before the job itself is marked DONE.
func (w *Worker) emitFlows(job *model.Job, flows map[string][]map[string]any) error {
	for branch, rows := range flows {
		for _, params := range rows {
			if err := w.flow.Propagate(dataflow.Flow{
				JobID:      job.JobID,
				AnalysisID: job.AnalysisID,
				Branch:     branch,
				Params:     params,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
