package filter

import (
	"context"
	"fmt"
	"sync"
)

// Pipeline holds one connection's filter instances, split into a
// sequential collection run in order and a parallel collection fanned
// out concurrently over isolated copies of the resource data.
type Pipeline struct {
	Sequential []Filter
	Parallel   []Filter
}

// Setup runs Setup on every filter, sequential then parallel, in order.
func (p *Pipeline) Setup(ctx context.Context) error {
	for _, f := range p.all() {
		if err := f.Setup(ctx); err != nil {
			return fmt.Errorf("filter: setup %q: %w", f.Name(), err)
		}
	}
	return nil
}

// Finish runs Finish on every filter.
func (p *Pipeline) Finish(ctx context.Context) error {
	for _, f := range p.all() {
		if err := f.Finish(ctx); err != nil {
			return fmt.Errorf("filter: finish %q: %w", f.Name(), err)
		}
	}
	return nil
}

// Shutdown runs Shutdown on every filter. Called once per process.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	for _, f := range p.all() {
		if err := f.Shutdown(ctx); err != nil {
			return fmt.Errorf("filter: shutdown %q: %w", f.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) all() []Filter {
	out := make([]Filter, 0, len(p.Sequential)+len(p.Parallel))
	out = append(out, p.Sequential...)
	out = append(out, p.Parallel...)
	return out
}

// Apply runs the hand-out enrichment stage: parallel filters are
// launched concurrently against an isolated deep copy of resourceInfo,
// while sequential filters run in order sharing one extraInfo map. The
// returned vector holds every filter's result, sequential entries
// first, parallel entries appended in completion order; it is nil only
// when the pipeline has no filters at all.
func (p *Pipeline) Apply(ctx context.Context, resourceID any, resourceInfo map[string]any) ([]map[string]any, error) {
	type parallelResult struct {
		data map[string]any
		err  error
	}
	results := make(chan parallelResult, len(p.Parallel))

	var wg sync.WaitGroup
	for _, f := range p.Parallel {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			isolated := deepCopyMap(resourceInfo)
			data, err := f.Apply(ctx, resourceID, isolated, nil)
			results <- parallelResult{data: data, err: err}
		}()
	}

	vector := make([]map[string]any, 0, len(p.Sequential)+len(p.Parallel))
	extraInfo := make(map[string]any)
	for _, f := range p.Sequential {
		data, err := f.Apply(ctx, resourceID, resourceInfo, extraInfo)
		if err != nil {
			wg.Wait()
			return nil, fmt.Errorf("filter: apply %q: %w", f.Name(), err)
		}
		vector = append(vector, data)
	}

	wg.Wait()
	close(results)
	var firstErr error
	for r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		vector = append(vector, r.data)
	}
	if firstErr != nil {
		return nil, fmt.Errorf("filter: apply: %w", firstErr)
	}

	if len(vector) == 0 {
		return nil, nil
	}
	return vector, nil
}

// Callback runs the completion stage. Sequential filters share the
// live resourceInfo/newResources/extraInfo and may mutate them, with
// the worker-supplied extraInfo snapshotted at extraInfo["original"]
// before any sequential callback runs. Parallel filters each receive an
// isolated deep copy and any mutation they make is discarded.
func (p *Pipeline) Callback(ctx context.Context, resourceID any, resourceInfo map[string]any, newResources []any, extraInfo map[string]any) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(p.Parallel))

	for _, f := range p.Parallel {
		f := f
		infoCopy := deepCopyMap(resourceInfo)
		newResourcesCopy := deepCopySlice(newResources)
		extraCopy := deepCopyMap(extraInfo)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.Callback(ctx, resourceID, infoCopy, newResourcesCopy, extraCopy)
		}()
	}

	if extraInfo != nil {
		extraInfo["original"] = deepCopyMap(extraInfo)
	}
	for _, f := range p.Sequential {
		if err := f.Callback(ctx, resourceID, resourceInfo, newResources, extraInfo); err != nil {
			wg.Wait()
			return fmt.Errorf("filter: callback %q: %w", f.Name(), err)
		}
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return fmt.Errorf("filter: callback: %w", err)
		}
	}
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		return deepCopySlice(val)
	default:
		return val
	}
}
