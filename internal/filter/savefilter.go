package filter

import (
	"context"
	"fmt"

	"github.com/fghso/camps-dct/internal/store"
)

// SaveResourcesFilter persists newly discovered resources through its
// own store.Store instance. It reads the resources to save from
// extraInfo under its own name rather than from its newResources
// argument: a sequential instance reads the worker-supplied snapshot at
// extraInfo["original"][name], a parallel instance reads extraInfo[name].
type SaveResourcesFilter struct {
	name     string
	parallel bool
	persist  store.Store
}

// NewSaveResourcesFilterFactory returns a Factory for use with a
// Registry. newStore builds the filter's own persistence backend from
// its configuration block's "handler" section.
func NewSaveResourcesFilterFactory(newStore func(handlerConfig map[string]any) (store.Store, error)) Factory {
	return func(cfg map[string]any) (Filter, error) {
		name, _ := cfg["name"].(string)
		if name == "" {
			name = "SaveResourcesFilter"
		}
		parallel, _ := cfg["parallel"].(bool)

		handlerCfg, _ := cfg["handler"].(map[string]any)
		persist, err := newStore(handlerCfg)
		if err != nil {
			return nil, fmt.Errorf("savefilter: build persistence handler: %w", err)
		}

		return &SaveResourcesFilter{name: name, parallel: parallel, persist: persist}, nil
	}
}

func (f *SaveResourcesFilter) Name() string { return f.name }

func (f *SaveResourcesFilter) Setup(ctx context.Context) error {
	return f.persist.Setup(ctx)
}

func (f *SaveResourcesFilter) Apply(ctx context.Context, resourceID any, resourceInfo map[string]any, extraInfo map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func (f *SaveResourcesFilter) Callback(ctx context.Context, resourceID any, resourceInfo map[string]any, newResources []any, extraInfo map[string]any) error {
	var found any
	if f.parallel {
		found = extraInfo[f.name]
	} else {
		if original, ok := extraInfo["original"].(map[string]any); ok {
			found = original[f.name]
		}
	}

	list, ok := found.([]any)
	if !ok {
		return nil
	}

	resources := make([]store.NewResource, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := entry["id"]
		info, _ := entry["info"].(map[string]any)
		resources = append(resources, store.NewResource{ID: id, Info: info})
	}
	if len(resources) == 0 {
		return nil
	}

	return f.persist.Insert(ctx, resources)
}

func (f *SaveResourcesFilter) Finish(ctx context.Context) error {
	return f.persist.Finish(ctx)
}

func (f *SaveResourcesFilter) Shutdown(ctx context.Context) error {
	return f.persist.Shutdown(ctx)
}

var _ Filter = (*SaveResourcesFilter)(nil)
