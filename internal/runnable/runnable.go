// Package runnable defines the interface a job's module code
// implements (spec.md §4.2's four-phase worker execution: compile,
// fetch input, run, write output) and a name -> factory registry for
// resolving an analysis's configured module at worker start.
package runnable

import (
	"context"
	"fmt"
)

// Runnable is the interface every analysis module implements. Each
// method maps onto one working job status of spec.md §3
// (COMPILATION, GET_INPUT, RUN, WRITE_OUTPUT).
type Runnable interface {
	// ParamDefaults returns module-level parameter defaults, merged
	// underneath an analysis's and a job's own params (lowest
	// precedence layer of spec.md §3's param_stack).
	ParamDefaults() map[string]any

	// FetchInput resolves any param referring to external data (a
	// naked-table row, an accumulated value) into the job's working
	// parameter set before Run is called.
	FetchInput(ctx context.Context, params map[string]any) (map[string]any, error)

	// Run executes the module's core logic and returns params to be
	// written out (and potentially dataflow'd) by WriteOutput.
	Run(ctx context.Context, params map[string]any) (map[string]any, error)

	// WriteOutput persists Run's result and emits any dataflow_output
	// events keyed by branch_code. The branch "1" is the default
	// output branch.
	WriteOutput(ctx context.Context, params map[string]any) (map[string][]map[string]any, error)
}

// Factory constructs a Runnable for one job invocation.
type Factory func(moduleParams map[string]any) (Runnable, error)

// Registry resolves an analysis's configured module_name to the
// Factory that builds it, the load-time counterpart of
// provider.FromConfig in the teacher's CLI-provider dispatch.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a module under name, overwriting any prior
// registration — callers decide whether that's an error.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build resolves moduleName and constructs a Runnable for it.
func (r *Registry) Build(moduleName string, moduleParams map[string]any) (Runnable, error) {
	f, ok := r.factories[moduleName]
	if !ok {
		return nil, fmt.Errorf("runnable: unknown module %q", moduleName)
	}
	return f(moduleParams)
}
