package config

import (
	"os"
	"strconv"
)

// envOverride applies an environment variable to cfg if set, following
// the teacher's internal/config/env.go pattern of a declarative table
// rather than a chain of individual if-blocks.
type envOverride struct {
	envVar string
	apply  func(cfg *WorkerConfig, value string)
}

var envOverrides = []envOverride{
	{"BEEHIVE_URL", func(cfg *WorkerConfig, v string) { cfg.URL = v }},
	{"BEEHIVE_ANALYSES_PATTERN", func(cfg *WorkerConfig, v string) { cfg.AnalysesPattern = v }},
	{"BEEHIVE_BATCH_SIZE", func(cfg *WorkerConfig, v string) { setInt(&cfg.BatchSize, v) }},
	{"BEEHIVE_LIFE_SPAN", func(cfg *WorkerConfig, v string) { setInt(&cfg.LifeSpanSeconds, v) }},
	{"BEEHIVE_JOB_LIMIT", func(cfg *WorkerConfig, v string) { setInt(&cfg.JobLimit, v) }},
	{"BEEHIVE_DEBUG", func(cfg *WorkerConfig, v string) { setInt(&cfg.Debug, v) }},
	{"BEEHIVE_MEADOW_TYPE", func(cfg *WorkerConfig, v string) { cfg.MeadowType = v }},
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// ApplyEnvOverrides mutates cfg in place with any of the BEEHIVE_*
// environment variables that are set. Malformed integer values are
// ignored rather than rejected, matching the teacher's tolerant
// override behavior.
func ApplyEnvOverrides(cfg *WorkerConfig) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.envVar); ok {
			o.apply(cfg, v)
		}
	}
}
