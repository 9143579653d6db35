package filter

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFilter struct {
	name        string
	applyData   map[string]any
	applyFn     func(extraInfo map[string]any)
	callbackFn  func(resourceInfo map[string]any, newResources []any, extraInfo map[string]any)
	mu          sync.Mutex
	setupCalls  int
	finishCalls int
}

func (f *recordingFilter) Name() string { return f.name }

func (f *recordingFilter) Setup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupCalls++
	return nil
}

func (f *recordingFilter) Apply(ctx context.Context, resourceID any, resourceInfo map[string]any, extraInfo map[string]any) (map[string]any, error) {
	if f.applyFn != nil {
		f.applyFn(extraInfo)
	}
	if extraInfo != nil {
		extraInfo[f.name] = true
	}
	return f.applyData, nil
}

func (f *recordingFilter) Callback(ctx context.Context, resourceID any, resourceInfo map[string]any, newResources []any, extraInfo map[string]any) error {
	if f.callbackFn != nil {
		f.callbackFn(resourceInfo, newResources, extraInfo)
	}
	return nil
}

func (f *recordingFilter) Finish(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	return nil
}

func (f *recordingFilter) Shutdown(ctx context.Context) error { return nil }

func TestApplyRunsSequentialInOrderSharingExtraInfo(t *testing.T) {
	var seen []string
	first := &recordingFilter{name: "first", applyData: map[string]any{"k": 1}}
	second := &recordingFilter{
		name:      "second",
		applyData: map[string]any{"k": 2},
		applyFn: func(extraInfo map[string]any) {
			if extraInfo["first"] == true {
				seen = append(seen, "saw-first")
			}
		},
	}

	p := &Pipeline{Sequential: []Filter{first, second}}
	vector, err := p.Apply(context.Background(), 1, map[string]any{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"saw-first"}, seen)
	assert.Equal(t, []map[string]any{{"k": 1}, {"k": 2}}, vector)
}

func TestApplyGivesParallelFiltersIsolatedCopiesOfResourceInfo(t *testing.T) {
	mutator := &recordingFilter{name: "mutator", applyData: map[string]any{}}

	info := map[string]any{"tags": []any{"a", "b"}}
	p := &Pipeline{Parallel: []Filter{mutator}}

	_, err := p.Apply(context.Background(), 1, info)
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b"}, info["tags"], "original resourceInfo must be untouched by the parallel stage")
}

func TestApplyReturnsNilVectorWhenNoFilters(t *testing.T) {
	p := &Pipeline{}
	vector, err := p.Apply(context.Background(), 1, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, vector)
}

func TestCallbackSnapshotsOriginalExtraInfoForSequentialFilters(t *testing.T) {
	var capturedOriginal any
	seq := &recordingFilter{
		name: "seq",
		callbackFn: func(resourceInfo map[string]any, newResources []any, extraInfo map[string]any) {
			capturedOriginal = extraInfo["original"]
		},
	}

	extraInfo := map[string]any{"note": "from-worker"}
	p := &Pipeline{Sequential: []Filter{seq}}
	err := p.Callback(context.Background(), 1, map[string]any{}, nil, extraInfo)
	require.NoError(t, err)

	original, ok := capturedOriginal.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "from-worker", original["note"])
}

func TestCallbackGivesParallelFiltersIsolatedCopies(t *testing.T) {
	var sawMutation bool
	par := &recordingFilter{
		name: "par",
		callbackFn: func(resourceInfo map[string]any, newResources []any, extraInfo map[string]any) {
			resourceInfo["injected"] = true
		},
	}

	info := map[string]any{}
	p := &Pipeline{Parallel: []Filter{par}}
	err := p.Callback(context.Background(), 1, info, nil, map[string]any{})
	require.NoError(t, err)

	_, sawMutation = info["injected"]
	assert.False(t, sawMutation, "parallel filter mutation must not leak into the shared resourceInfo")
}

func TestSetupAndFinishRunOnEveryFilter(t *testing.T) {
	seq := &recordingFilter{name: "seq"}
	par := &recordingFilter{name: "par"}
	p := &Pipeline{Sequential: []Filter{seq}, Parallel: []Filter{par}}

	require.NoError(t, p.Setup(context.Background()))
	require.NoError(t, p.Finish(context.Background()))

	assert.Equal(t, 1, seq.setupCalls)
	assert.Equal(t, 1, par.setupCalls)
	assert.Equal(t, 1, seq.finishCalls)
	assert.Equal(t, 1, par.finishCalls)
}
