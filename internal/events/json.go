package events

import "time"

// JSONEvent is the wire format for events streamed out of a worker
// process, e.g. over stdout to an external supervisor.
type JSONEvent struct {
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	AnalysisID *int64         `json:"analysis_id,omitempty"`
	JobID      *int64         `json:"job_id,omitempty"`
	WorkerID   *int64         `json:"worker_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ToJSONEvent converts an Event to its wire format.
func ToJSONEvent(e Event) JSONEvent {
	je := JSONEvent{
		Type:       string(e.Type),
		Timestamp:  e.Time,
		AnalysisID: e.AnalysisID,
		JobID:      e.JobID,
		WorkerID:   e.WorkerID,
		Error:      e.Error,
	}
	if e.Payload != nil {
		if p, ok := e.Payload.(map[string]any); ok {
			je.Payload = p
		} else {
			je.Payload = map[string]any{"value": e.Payload}
		}
	}
	return je
}

// ToEvent converts a wire format JSONEvent back to an Event.
func (je JSONEvent) ToEvent() Event {
	var payload any
	if je.Payload != nil {
		payload = je.Payload
	}
	return Event{
		Type:       EventType(je.Type),
		Time:       je.Timestamp,
		AnalysisID: je.AnalysisID,
		JobID:      je.JobID,
		WorkerID:   je.WorkerID,
		Payload:    payload,
		Error:      je.Error,
	}
}
