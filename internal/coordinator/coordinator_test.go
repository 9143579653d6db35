package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store/memory"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	mem := memory.New(memory.Config{})
	co := New(Config{
		Address: "127.0.0.1:0",
		Store:   mem,
		NewPipeline: func() (*filter.Pipeline, error) {
			return &filter.Pipeline{}, nil
		},
	})
	return co
}

func TestNextIDIsMonotonic(t *testing.T) {
	co := newTestCoordinator(t)
	assert.Equal(t, 1, co.NextID())
	assert.Equal(t, 2, co.NextID())
	assert.Equal(t, 3, co.NextID())
}

func TestLifecycleTransitionsAreOneWay(t *testing.T) {
	co := newTestCoordinator(t)
	assert.Equal(t, Running, co.Lifecycle())

	assert.True(t, co.TryTransitionToFinishing())
	assert.Equal(t, Finishing, co.Lifecycle())
	assert.False(t, co.TryTransitionToFinishing(), "cannot re-enter finishing once left running")

	prev, ok := co.TryTransitionToShuttingDown()
	assert.True(t, ok)
	assert.Equal(t, Finishing, prev)
	assert.Equal(t, ShuttingDown, co.Lifecycle())

	_, ok = co.TryTransitionToShuttingDown()
	assert.False(t, ok, "shutdown must be idempotent in effect")
}

func TestRegisterWorkerAndConsumeRemoval(t *testing.T) {
	co := newTestCoordinator(t)
	id := co.NextID()
	co.RegisterWorker(&resource.Worker{ID: id, Hostname: "h1"})

	assert.False(t, co.ConsumeRemoval(id))

	assert.True(t, co.RequestRemoval(id))
	assert.True(t, co.ConsumeRemoval(id))
	assert.False(t, co.ConsumeRemoval(id), "removal flag is consumed exactly once")
}

func TestRequestRemovalOnDeadHandlerDropsImmediately(t *testing.T) {
	co := newTestCoordinator(t)
	id := co.NextID()
	co.RegisterWorker(&resource.Worker{ID: id, Hostname: "h1"})
	co.MarkHandlerExited(id)

	assert.True(t, co.RequestRemoval(id))
	_, known := co.Worker(id)
	assert.False(t, known, "a dead handler's worker record should be dropped immediately")
}

func TestResolveRemovalNamesAllSelectsEveryClient(t *testing.T) {
	co := newTestCoordinator(t)
	id1, id2 := co.NextID(), co.NextID()
	co.RegisterWorker(&resource.Worker{ID: id1, Hostname: "h1"})
	co.RegisterWorker(&resource.Worker{ID: id2, Hostname: "h2"})

	ids := co.ResolveRemovalNames([]string{"all"})
	assert.ElementsMatch(t, []int{id1, id2}, ids)
}

func TestResolveRemovalNamesDisconnectedSelectsOnlyDeadHandlers(t *testing.T) {
	co := newTestCoordinator(t)
	id1, id2 := co.NextID(), co.NextID()
	co.RegisterWorker(&resource.Worker{ID: id1, Hostname: "h1"})
	co.RegisterWorker(&resource.Worker{ID: id2, Hostname: "h2"})
	co.MarkHandlerExited(id1)

	ids := co.ResolveRemovalNames([]string{"disconnected"})
	assert.Equal(t, []int{id1}, ids)
}

func TestResolveRemovalNamesMatchesHostname(t *testing.T) {
	co := newTestCoordinator(t)
	id1 := co.NextID()
	co.RegisterWorker(&resource.Worker{ID: id1, Hostname: "crawler-7"})

	ids := co.ResolveRemovalNames([]string{"crawler-7"})
	assert.Equal(t, []int{id1}, ids)
}

func TestWaitUntilOnlySelfRemainsUnblocksWhenOthersExit(t *testing.T) {
	co := newTestCoordinator(t)
	co.RegisterManager() // self
	id := co.NextID()
	co.RegisterWorker(&resource.Worker{ID: id})

	done := make(chan struct{})
	go func() {
		co.WaitUntilOnlySelfRemains(context.Background())
		close(done)
	}()

	co.MarkHandlerExited(id)

	select {
	case <-done:
	case <-context.Background().Done():
		t.Fatal("WaitUntilOnlySelfRemains did not unblock")
	}
}

func TestCountsDelegatesToStore(t *testing.T) {
	co := newTestCoordinator(t)
	counts, err := co.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)
}
