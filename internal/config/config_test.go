package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultWorkerConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultWorkerConfig()
	require.Equal(t, DefaultBatchSize, cfg.BatchSize)
	require.Equal(t, DefaultJobLimit, cfg.JobLimit)
	require.Equal(t, DefaultLifeSpan, cfg.LifeSpanSeconds)
	require.Equal(t, DefaultDebugLevel, cfg.Debug)
	require.Equal(t, DefaultMeadowType, cfg.MeadowType)
	require.Empty(t, cfg.URL)
}

func TestLoadReturnsDefaultsWhenFileIsMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultWorkerConfig(), cfg)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: "sqlite:///var/lib/beehive/pipeline.sqlite"
analyses_pattern: "align_*"
batch_size: 25
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite:///var/lib/beehive/pipeline.sqlite", cfg.URL)
	require.Equal(t, "align_*", cfg.AnalysesPattern)
	require.Equal(t, 25, cfg.BatchSize)
	require.Equal(t, DefaultMeadowType, cfg.MeadowType, "fields absent from the file keep their default")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: [this is not valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
