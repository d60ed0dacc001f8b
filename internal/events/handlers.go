package events

import "go.uber.org/zap"

// LogHandler returns a Handler that writes every event as a
// structured zap log line, the in-process observer a worker attaches
// by default alongside whatever external consumer reads Bus.Events().
func LogHandler(log *zap.Logger) Handler {
	return func(e Event) {
		fields := []zap.Field{zap.String("event", string(e.Type)), zap.Time("time", e.Time)}
		if e.AnalysisID != nil {
			fields = append(fields, zap.Int64("analysis_id", *e.AnalysisID))
		}
		if e.JobID != nil {
			fields = append(fields, zap.Int64("job_id", *e.JobID))
		}
		if e.WorkerID != nil {
			fields = append(fields, zap.Int64("worker_id", *e.WorkerID))
		}
		if e.Payload != nil {
			fields = append(fields, zap.Any("payload", e.Payload))
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
			log.Warn("pipeline event", fields...)
			return
		}
		log.Info("pipeline event", fields...)
	}
}
