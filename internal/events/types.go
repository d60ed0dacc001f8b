// Package events is the observability side-channel alongside the
// store: every state transition a worker, the dataflow engine, or the
// garbage collector performs also emits an Event here, so an external
// supervisor or a log handler can watch the pipeline run without
// polling analysis_stats.
package events

import (
	"fmt"
	"time"
)

// EventType identifies what happened.
type EventType string

// Job lifecycle events (spec.md §3, §4.2).
const (
	JobClaimed       EventType = "job.claimed"
	JobStatusChanged EventType = "job.status_changed"
	JobDone          EventType = "job.done"
	JobFailed        EventType = "job.failed"
	JobPassedOn      EventType = "job.passed_on"
)

// Dataflow events (spec.md §4.3).
const (
	DataflowPropagated EventType = "dataflow.propagated"
	FunnelCreated      EventType = "dataflow.funnel.created"
	FunnelIncremented  EventType = "dataflow.funnel.incremented"
	FunnelDecremented  EventType = "dataflow.funnel.decremented"
)

// Worker lifecycle events (spec.md §4.2).
const (
	WorkerRegistered EventType = "worker.registered"
	WorkerDied       EventType = "worker.died"
)

// Analysis-level events (spec.md §4.4, §4.5).
const (
	AnalysisStatusChanged EventType = "analysis.status_changed"
	WorkerCollected       EventType = "gc.worker_collected"
)

// Event is one occurrence in a pipeline run.
type Event struct {
	Time       time.Time `json:"time"`
	Type       EventType `json:"type"`
	AnalysisID *int64    `json:"analysis_id,omitempty"`
	JobID      *int64    `json:"job_id,omitempty"`
	WorkerID   *int64    `json:"worker_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent creates an event of the given type. Time is stamped by the
// Bus at Emit time, not here, so replayed/deserialized events can
// carry their original timestamp untouched.
func NewEvent(t EventType) Event {
	return Event{Type: t}
}

func (e Event) WithAnalysis(id int64) Event { e.AnalysisID = &id; return e }
func (e Event) WithJob(id int64) Event      { e.JobID = &id; return e }
func (e Event) WithWorker(id int64) Event   { e.WorkerID = &id; return e }

func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// String renders a compact human-readable line for one event.
// LogHandler does not use it; it writes structured zap fields instead.
func (e Event) String() string {
	s := fmt.Sprintf("[%s]", e.Type)
	if e.AnalysisID != nil {
		s += fmt.Sprintf(" analysis=%d", *e.AnalysisID)
	}
	if e.JobID != nil {
		s += fmt.Sprintf(" job=%d", *e.JobID)
	}
	if e.WorkerID != nil {
		s += fmt.Sprintf(" worker=%d", *e.WorkerID)
	}
	if e.Error != "" {
		s += fmt.Sprintf(" error=%q", e.Error)
	}
	return s
}
