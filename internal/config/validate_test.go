package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaultsWithURLSet(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.URL = "sqlite:///var/lib/beehive/pipeline.sqlite"
	require.NoError(t, Validate(cfg))
}

func TestValidateRequiresURL(t *testing.T) {
	cfg := DefaultWorkerConfig()
	err := Validate(cfg)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "url", ve.Field)
}

func TestValidateJoinsMultipleViolations(t *testing.T) {
	cfg := &WorkerConfig{
		URL:             "",
		BatchSize:       0,
		LifeSpanSeconds: -1,
		JobLimit:        -1,
		Debug:           9,
		JobID:           -1,
	}
	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	for _, field := range []string{"url", "batch_size", "life_span", "job_limit", "debug", "job_id"} {
		require.Contains(t, msg, field)
	}
}

func TestValidateRejectsBatchSizeBelowOne(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.URL = "sqlite:///x.sqlite"
	cfg.BatchSize = 0
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsDebugOutOfRange(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.URL = "sqlite:///x.sqlite"
	cfg.Debug = 5
	require.Error(t, Validate(cfg))
}
