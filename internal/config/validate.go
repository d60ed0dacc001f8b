package config

import (
	"errors"
	"fmt"
)

// ValidationError describes one invalid field, matching the teacher's
// internal/config/validate.go shape so multiple failures can be
// reported together via errors.Join instead of stopping at the first.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s (got %v)", e.Field, e.Message, e.Value)
}

// Validate checks a WorkerConfig for the constraints the worker
// binary cannot operate without, returning every violation joined
// together rather than only the first.
func Validate(cfg *WorkerConfig) error {
	var errs []error

	if cfg.URL == "" {
		errs = append(errs, &ValidationError{"url", cfg.URL, "must be set"})
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, &ValidationError{"batch_size", cfg.BatchSize, "must be >= 1"})
	}
	if cfg.LifeSpanSeconds < 0 {
		errs = append(errs, &ValidationError{"life_span", cfg.LifeSpanSeconds, "must be >= 0"})
	}
	if cfg.JobLimit < 0 {
		errs = append(errs, &ValidationError{"job_limit", cfg.JobLimit, "must be >= 0"})
	}
	if cfg.Debug < 0 || cfg.Debug > 4 {
		errs = append(errs, &ValidationError{"debug", cfg.Debug, "must be between 0 and 4"})
	}
	if cfg.JobID < 0 {
		errs = append(errs, &ValidationError{"job_id", cfg.JobID, "must be >= 0"})
	}

	return errors.Join(errs...)
}
