package config

// Default values for WorkerConfig, mirroring spec.md §4.1/§4.2 and the
// analysis-level defaults a worker falls back to when a flag is unset.
const (
	DefaultBatchSize  = 10
	DefaultJobLimit   = 0 // disabled
	DefaultLifeSpan   = 0 // disabled
	DefaultDebugLevel = 0
	DefaultMeadowType = "LOCAL"
)

// DefaultWorkerConfig returns a WorkerConfig with every field set to
// its documented default. Callers then apply a loaded file, env
// overrides, and finally CLI flags on top, in that order.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		BatchSize:  DefaultBatchSize,
		JobLimit:   DefaultJobLimit,
		Debug:      DefaultDebugLevel,
		MeadowType: DefaultMeadowType,
	}
}
