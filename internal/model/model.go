// Package model holds the persistent data model shared by the store,
// dataflow engine, stats, GC and worker packages: analyses, jobs, and
// the tables that support them.
package model

import "time"

// JobStatus is a job's position in the READY -> CLAIMED -> working ->
// terminal lifecycle of spec.md §3.
type JobStatus string

const (
	JobReady         JobStatus = "READY"
	JobBlocked       JobStatus = "BLOCKED"
	JobClaimed       JobStatus = "CLAIMED"
	JobCompilation   JobStatus = "COMPILATION"
	JobGetInput      JobStatus = "GET_INPUT"
	JobRun           JobStatus = "RUN"
	JobWriteOutput   JobStatus = "WRITE_OUTPUT"
	JobDone          JobStatus = "DONE"
	JobFailed        JobStatus = "FAILED"
	JobPassedOn      JobStatus = "PASSED_ON"
)

// WorkingStatuses are the statuses that require a non-null worker_id
// (spec.md §3 invariants).
var WorkingStatuses = []JobStatus{JobCompilation, JobGetInput, JobRun, JobWriteOutput}

// IsWorking reports whether s is one of the in-flight execution phases.
func (s JobStatus) IsWorking() bool {
	for _, w := range WorkingStatuses {
		if s == w {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a final state for a job.
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobFailed || s == JobPassedOn
}

// AnalysisStatus is the aggregate status derived for an analysis by
// internal/stats (spec.md §4.4).
type AnalysisStatus string

const (
	AnalysisLoading    AnalysisStatus = "LOADING"
	AnalysisBlocked    AnalysisStatus = "BLOCKED"
	AnalysisReady      AnalysisStatus = "READY"
	AnalysisWorking    AnalysisStatus = "WORKING"
	AnalysisAllClaimed AnalysisStatus = "ALL_CLAIMED"
	AnalysisDone       AnalysisStatus = "DONE"
	AnalysisFailed     AnalysisStatus = "FAILED"
)

// CauseOfDeath explains why a worker row was closed (spec.md §4.2).
type CauseOfDeath string

const (
	CauseNone        CauseOfDeath = ""
	CauseNoWork      CauseOfDeath = "NO_WORK"
	CauseJobLimit    CauseOfDeath = "JOB_LIMIT"
	CauseLifespan    CauseOfDeath = "LIFESPAN"
	CauseContam      CauseOfDeath = "CONTAMINATED"
	CauseMemlimit    CauseOfDeath = "MEMLIMIT"
	CauseRunlimit    CauseOfDeath = "RUNLIMIT"
	CauseFatality    CauseOfDeath = "FATALITY"
)

// IsResourceOveruse reports whether the cause is a resource-pressure
// death rather than a crash, per spec.md §4.5 step 2a.
func (c CauseOfDeath) IsResourceOveruse() bool {
	return c == CauseMemlimit || c == CauseRunlimit
}

// Analysis is a node in the pipeline graph (spec.md §3).
type Analysis struct {
	AnalysisID          int64
	LogicName           string
	Module               string
	Parameters           map[string]any
	BatchSize            int
	HiveCapacity         int
	MaxRetryCount        int
	FailedJobTolerance   float64 // percentage, 0-100
}

// AnalysisStats is the cached counters row for one analysis.
type AnalysisStats struct {
	AnalysisID        int64
	TotalJobCount     int64
	UnclaimedJobCount int64
	DoneJobCount      int64
	FailedJobCount    int64
	NumRequiredWorkers int
	Status            AnalysisStatus
}

// Job is one instantiation of an analysis with a concrete input.
type Job struct {
	JobID            int64
	AnalysisID       int64
	InputID          string
	PrevJobID        *int64
	WorkerID         *int64
	Status           JobStatus
	RetryCount       int
	SemaphoreCount   int
	SemaphoredJobID  *int64
	Completed        *time.Time
	RuntimeMsec      int64
	QueryCount       int64
}

// DataflowRule is a declarative edge (from_analysis, branch_code) ->
// target (spec.md §3/§4.3).
type DataflowRule struct {
	RuleID           int64
	FromAnalysisID   int64
	BranchCode       string
	ToAnalysisID     *int64 // nil when the target is a naked table/accumulator
	TargetURL        string // resourceurl for naked table / accumulator targets
	InputIDTemplate  string
}

// IsFan reports whether this rule's branch is a conventional
// semaphored-fan branch, i.e. any branch other than the default "1"
// and the symbolic gc_dataflow branches (MEMLIMIT, RUNLIMIT,
// ANYFAILURE), which re-route a dead worker's job without a funnel.
func (r DataflowRule) IsFan() bool {
	switch r.BranchCode {
	case "", "1", string(CauseMemlimit), string(CauseRunlimit), "ANYFAILURE":
		return false
	}
	return true
}

// ControlRule blocks ControlledAnalysisID while ConditionAnalysisID is
// not DONE (spec.md §3).
type ControlRule struct {
	ConditionAnalysisID  int64
	ControlledAnalysisID int64
}

// Worker is a process-long entity bound to one analysis.
type Worker struct {
	WorkerID     int64
	AnalysisID   int64
	Host         string
	ProcessID    int
	MeadowType   string
	Born         time.Time
	LastCheckIn  time.Time
	Died         *time.Time
	CauseOfDeath CauseOfDeath
}

// JobFile records stdout/stderr paths for one attempt of a job.
type JobFile struct {
	JobID   int64
	Retry   int
	StdOut  string
	StdErr  string
}

// JobMessage is a GC/worker-authored note attached to a job.
type JobMessage struct {
	JobMessageID int64
	JobID        int64
	WorkerID     *int64
	Message      string
	IsError      bool
	Created      time.Time
}

// AnalysisData is the offload side-table for oversized input_id
// payloads, content-addressed by hash.
type AnalysisData struct {
	AnalysisDataID int64
	Data           string
}

// Accu is one harvested accumulator value fed by a fan job, keyed by
// the funnel job it belongs to.
type Accu struct {
	AccuID          int64
	SemaphoredJobID int64
	AccuName        string
	AccuAddress     string
	Value           string
}
