package runnable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRunnable struct {
	moduleParams map[string]any
}

func (s *stubRunnable) ParamDefaults() map[string]any { return map[string]any{"retries": 0} }

func (s *stubRunnable) FetchInput(ctx context.Context, params map[string]any) (map[string]any, error) {
	return params, nil
}

func (s *stubRunnable) Run(ctx context.Context, params map[string]any) (map[string]any, error) {
	return params, nil
}

func (s *stubRunnable) WriteOutput(ctx context.Context, params map[string]any) (map[string][]map[string]any, error) {
	return map[string][]map[string]any{"1": {params}}, nil
}

func TestRegistryBuildResolvesRegisteredModule(t *testing.T) {
	r := NewRegistry()
	r.Register("Stub", func(moduleParams map[string]any) (Runnable, error) {
		return &stubRunnable{moduleParams: moduleParams}, nil
	})

	run, err := r.Build("Stub", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NotNil(t, run)

	stub, ok := run.(*stubRunnable)
	require.True(t, ok)
	require.Equal(t, "v", stub.moduleParams["k"])
	require.Equal(t, map[string]any{"retries": 0}, stub.ParamDefaults())
}

func TestRegistryBuildUnknownModuleIsAnError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("DoesNotExist", nil)
	require.Error(t, err)
}

func TestRegistryRegisterOverwritesPriorFactory(t *testing.T) {
	r := NewRegistry()
	r.Register("Stub", func(moduleParams map[string]any) (Runnable, error) {
		return &stubRunnable{moduleParams: map[string]any{"version": 1}}, nil
	})
	r.Register("Stub", func(moduleParams map[string]any) (Runnable, error) {
		return &stubRunnable{moduleParams: map[string]any{"version": 2}}, nil
	})

	run, err := r.Build("Stub", nil)
	require.NoError(t, err)
	require.Equal(t, 2, run.(*stubRunnable).moduleParams["version"])
}
