// Package config holds the ambient settings of the worker process
// (spec.md §6's CLI surface) as a loadable, validated struct, the way
// the teacher's internal/config loaded ~/.choo/config.yaml.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkerConfig holds the settings one beehive-worker process runs
// with. CLI flags take precedence over a loaded file, which in turn
// takes precedence over DefaultWorkerConfig.
type WorkerConfig struct {
	// URL is the resource locator for the hive database, e.g.
	// "sqlite:///var/lib/beehive/hive.db" or "postgres://host/dbname".
	URL string `yaml:"url"`

	// AnalysesPattern restricts which analyses this worker may claim
	// jobs for, as a glob over logic_name. Empty means any analysis.
	AnalysesPattern string `yaml:"analyses_pattern"`

	// JobID binds the worker to the analysis that owns this job_id; the
	// worker then claims batches from that analysis and is not limited
	// to the one job. 0 means disabled.
	JobID int64 `yaml:"job_id"`

	// BatchSize is the number of jobs claimed per poll.
	BatchSize int `yaml:"batch_size"`

	// LifeSpanSeconds bounds wall-clock runtime; 0 disables the
	// predicate.
	LifeSpanSeconds int `yaml:"life_span"`

	// JobLimit bounds the number of jobs run before exit; 0 disables
	// the predicate.
	JobLimit int `yaml:"job_limit"`

	// Debug is the log verbosity: 0 (info) through 4 (debug, verbose).
	Debug int `yaml:"debug"`

	// MeadowType identifies the execution environment a worker reports
	// itself as running under (e.g. "LOCAL").
	MeadowType string `yaml:"meadow_type"`
}

// Load reads a WorkerConfig from path, falling back to
// DefaultWorkerConfig for any field the file omits. A missing file is
// not an error: it returns the defaults.
func Load(path string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
