package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
)

func TestSelectReturnsZeroRecordWhenEmpty(t *testing.T) {
	s := New(Config{})
	rec, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.Key)
}

func TestSelectHandsOutFIFOAndTransitionsToInProgress(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{
		{ID: "a", Info: map[string]any{"n": 1}},
		{ID: "b", Info: map[string]any{"n": 2}},
	}))

	first, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, resource.InProgress, first.Status)

	second, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	counts, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.InProgress)
	assert.Equal(t, 0, counts.Available)
}

func TestUpdateMergesInfoAndMovesStatus(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{
		{ID: "a", Info: map[string]any{"n": 1}},
	}))
	rec, err := s.Select(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Update(context.Background(), rec.Key, resource.Succeeded, map[string]any{"size": 42}))

	counts, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, 0, counts.InProgress)
}

func TestInsertRejectsDuplicateIDWhenConfigured(t *testing.T) {
	s := New(Config{UniqueResourceID: true})
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{{ID: "a"}}))

	err := s.Insert(context.Background(), []store.NewResource{{ID: "a"}})
	assert.ErrorIs(t, err, store.ErrDuplicateResourceID)
}

func TestInsertMergesDuplicateWhenOnDuplicateUpdateEnabled(t *testing.T) {
	s := New(Config{UniqueResourceID: true, OnDuplicateUpdate: true})
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{{ID: "a", Info: map[string]any{"x": 1}}}))
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{{ID: "a", Info: map[string]any{"y": 2}}}))

	counts, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
	assert.Equal(t, 1, counts.Available)
}

func TestResetMovesResourcesBackToAvailable(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{{ID: "a"}, {ID: "b"}}))
	_, err := s.Select(context.Background())
	require.NoError(t, err)
	_, err = s.Select(context.Background())
	require.NoError(t, err)

	n, err := s.Reset(context.Background(), resource.InProgress)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Available)
	assert.Equal(t, 0, counts.InProgress)
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Insert(context.Background(), []store.NewResource{{ID: "a"}}))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].ID)
}

var _ store.Store = (*Store)(nil)
