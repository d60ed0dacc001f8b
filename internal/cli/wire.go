package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gohive/beehive/internal/config"
	"github.com/gohive/beehive/internal/events"
	"github.com/gohive/beehive/internal/store"
)

// newLogger builds a zap.Logger whose level is driven by the
// config.WorkerConfig debug field (0: info, 4: most verbose), the way
// the teacher's internal/config maps its own verbose flag to output.
func newLogger(debug int) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if debug > 0 {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}

// eventsBus returns the process-wide event bus a worker reports
// lifecycle events to, with a LogHandler attached so operators get an
// observable trail even with no external consumer wired up.
func eventsBus(log *zap.Logger) *events.Bus {
	bus := events.NewBus(256)
	bus.Subscribe(events.LogHandler(log))
	return bus
}

func lifeSpanDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// resolveAnalysis determines which analysis_id this worker binds to
// for its lifetime: directly from --job_id's owning job, or by
// matching --analyses_pattern against every analysis's logic_name.
// Exactly one candidate must match, since a worker is bound to one
// analysis_id (spec.md §4.2).
func resolveAnalysis(db *store.DB, cfg *config.WorkerConfig) (int64, error) {
	if cfg.JobID != 0 {
		j, err := db.GetJob(cfg.JobID)
		if err != nil {
			return 0, fmt.Errorf("resolve --job_id %d: %w", cfg.JobID, err)
		}
		return j.AnalysisID, nil
	}

	analyses, err := db.ListAnalyses()
	if err != nil {
		return 0, fmt.Errorf("list analyses: %w", err)
	}
	pattern := cfg.AnalysesPattern
	if pattern == "" {
		pattern = "*"
	}

	var matched []int64
	for _, a := range analyses {
		ok, err := filepath.Match(pattern, a.LogicName)
		if err != nil {
			return 0, fmt.Errorf("invalid --analyses_pattern %q: %w", pattern, err)
		}
		if ok {
			matched = append(matched, a.AnalysisID)
		}
	}
	switch len(matched) {
	case 0:
		return 0, fmt.Errorf("no analysis matches --analyses_pattern %q", pattern)
	case 1:
		return matched[0], nil
	default:
		return 0, fmt.Errorf("--analyses_pattern %q matches %d analyses, a worker binds to exactly one", pattern, len(matched))
	}
}
