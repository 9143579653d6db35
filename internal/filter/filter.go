// Package filter implements the hand-out/completion enrichment pipeline:
// a sequence of named filters, each able to annotate a resource before
// it's handed to a worker and react once the worker reports it done.
package filter

import "context"

// Filter is constructed anew for each connection; individual instances
// are never shared across connections, so filter state needs no
// synchronization of its own.
type Filter interface {
	// Name identifies this filter in the per-handout filter vector and
	// in extraInfo keys; defaults to the registered class name.
	Name() string

	// Setup runs once when a connection is opened.
	Setup(ctx context.Context) error

	// Apply runs before a resource is handed to a worker. extraInfo is
	// shared and mutable across sequential filters in call order; it is
	// always nil for a filter running in the parallel stage. The
	// returned map is merged into the hand-out's filter vector and is
	// never itself mutated afterward.
	Apply(ctx context.Context, resourceID any, resourceInfo map[string]any, extraInfo map[string]any) (map[string]any, error)

	// Callback runs after a worker reports a resource done. Sequential
	// filters receive the live resourceInfo/newResources/extraInfo and
	// may mutate them in place; parallel filters receive isolated deep
	// copies and any mutation is discarded.
	Callback(ctx context.Context, resourceID any, resourceInfo map[string]any, newResources []any, extraInfo map[string]any) error

	// Finish runs once when a connection closes.
	Finish(ctx context.Context) error

	// Shutdown runs once per process during server teardown, releasing
	// any shared resource the filter holds (e.g. a store.Store).
	Shutdown(ctx context.Context) error
}

// Spec is one entry of a pipeline's configuration: which filter to
// construct, whether it runs in the parallel fan-out stage, and its
// filter-specific configuration block.
type Spec struct {
	Name     string
	Parallel bool
	Config   map[string]any
}

// Factory constructs a Filter from its configuration block. Registered
// per class name in a Registry.
type Factory func(cfg map[string]any) (Filter, error)
