// Package coordinator implements the process-wide runtime: the accept
// loop, lifecycle state machine, and the shared worker registry every
// connection handler mutates through a small set of dedicated locks.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
)

func processPID() int { return os.Getpid() }

// PipelineFactory constructs a fresh filter.Pipeline for one connection.
// Filters are constructed new per connection, so this is called once
// per accepted connection, never reused across connections.
type PipelineFactory func() (*filter.Pipeline, error)

// Config configures a Coordinator.
type Config struct {
	Address     string
	Store       store.Store
	NewPipeline PipelineFactory
	LoopForever bool
	Feedback    bool
	Logger      *zap.Logger
}

// clientState is the per-client bookkeeping the coordinator keeps
// alongside the resource.Worker record: whether the handler goroutine
// is still alive, and whether removal has been requested.
type clientState struct {
	alive            bool
	removalRequested bool
}

// Coordinator is the process-wide runtime: the listening socket, the
// lifecycle state, the shared worker registry, and the shared
// persistence store / filter factory every handler uses.
type Coordinator struct {
	Store       store.Store
	NewPipeline PipelineFactory
	LoopForever bool
	Feedback    bool
	Logger      *zap.Logger

	addr     string
	listener net.Listener

	shutdownMu sync.Mutex
	lifecycle  Lifecycle

	clientsMu    sync.Mutex
	finishedCond *sync.Cond
	workers      map[int]*resource.Worker
	clients      map[int]*clientState
	active       int

	nextFreeIDMu sync.Mutex
	nextFreeID   int

	removeClientMu sync.Mutex

	cleanupMu     sync.Mutex
	cleanupID     int
	cleanupActive bool

	startTime time.Time
	pid       int

	// processPipeline is a single extra Pipeline instance built once at
	// startup solely to carry the process-wide filter.Shutdown call —
	// every per-connection Pipeline only ever receives Setup/Finish.
	processPipeline *filter.Pipeline
}

// New constructs a Coordinator. Call Run to start accepting connections.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	co := &Coordinator{
		Store:       cfg.Store,
		NewPipeline: cfg.NewPipeline,
		LoopForever: cfg.LoopForever,
		Feedback:    cfg.Feedback,
		Logger:      logger.Named("coordinator"),
		addr:        cfg.Address,
		lifecycle:   Running,
		workers:     make(map[int]*resource.Worker),
		clients:     make(map[int]*clientState),
		nextFreeID:  1,
	}
	co.finishedCond = sync.NewCond(&co.clientsMu)
	return co
}

// Lifecycle returns the current lifecycle state.
func (co *Coordinator) Lifecycle() Lifecycle {
	co.shutdownMu.Lock()
	defer co.shutdownMu.Unlock()
	return co.lifecycle
}

// TryTransitionToFinishing moves running → finishing. Returns false
// (without mutating anything) if the coordinator isn't currently
// running.
func (co *Coordinator) TryTransitionToFinishing() bool {
	co.shutdownMu.Lock()
	defer co.shutdownMu.Unlock()
	if co.lifecycle != Running {
		return false
	}
	co.lifecycle = Finishing
	co.Logger.Info("lifecycle transition", zap.String("to", Finishing.String()))
	return true
}

// TryTransitionToShuttingDown moves any state → shutting-down, once.
// Returns the previous state and whether the transition happened.
func (co *Coordinator) TryTransitionToShuttingDown() (Lifecycle, bool) {
	co.shutdownMu.Lock()
	defer co.shutdownMu.Unlock()
	prev := co.lifecycle
	if prev == ShuttingDown {
		return prev, false
	}
	co.lifecycle = ShuttingDown
	co.Logger.Info("lifecycle transition", zap.String("to", ShuttingDown.String()))
	return prev, true
}

// NextID returns the next monotonically increasing worker id.
func (co *Coordinator) NextID() int {
	co.nextFreeIDMu.Lock()
	defer co.nextFreeIDMu.Unlock()
	id := co.nextFreeID
	co.nextFreeID++
	return id
}

// RegisterWorker adds a newly connected worker's record and marks its
// client entry alive.
func (co *Coordinator) RegisterWorker(w *resource.Worker) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	co.workers[w.ID] = w
	co.clients[w.ID] = &clientState{alive: true}
	co.active++
}

// RegisterManager increments the active-connection counter for a
// manager connection, which has no worker record.
func (co *Coordinator) RegisterManager() {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	co.active++
}

// Worker returns a copy of the worker record for id, if it still
// exists.
func (co *Coordinator) Worker(id int) (resource.Worker, bool) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	w, ok := co.workers[id]
	if !ok {
		return resource.Worker{}, false
	}
	return *w, true
}

// MutateWorker runs fn against the live worker record for id while
// holding clientsMu, so handler-local mutations (its own worker's
// current resource, completed count, timings) stay consistent with
// concurrent GET_STATUS snapshots.
func (co *Coordinator) MutateWorker(id int, fn func(w *resource.Worker)) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	if w, ok := co.workers[id]; ok {
		fn(w)
	}
}

// ConsumeRemoval checks and clears id's removal flag in one step,
// returning whether it had been set. Used by GET_ID to decide whether
// this is the worker's last exchange.
func (co *Coordinator) ConsumeRemoval(id int) bool {
	co.removeClientMu.Lock()
	defer co.removeClientMu.Unlock()

	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()

	c, ok := co.clients[id]
	if !ok || !c.removalRequested {
		return false
	}
	c.removalRequested = false
	return true
}

// DropWorker removes a worker's record entirely — called once its
// handler has consumed the removal flag and is about to send FINISH.
func (co *Coordinator) DropWorker(id int) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	delete(co.workers, id)
	delete(co.clients, id)
}

// RequestRemoval sets id's removal flag if its handler is still alive;
// if the handler has already exited, its worker record is dropped
// immediately instead. Returns whether id resolved to a known client at
// all (alive or not) — callers use this to build RM_CLIENTS'
// successlist/errorlist.
func (co *Coordinator) RequestRemoval(id int) bool {
	co.removeClientMu.Lock()
	defer co.removeClientMu.Unlock()

	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()

	c, ok := co.clients[id]
	if !ok {
		return false
	}
	if c.alive {
		c.removalRequested = true
	} else {
		delete(co.workers, id)
		delete(co.clients, id)
	}
	return true
}

// MarkAllForRemoval sets the removal flag on every currently known
// client, used once the inventory is exhausted and loopForever is
// false, so every connected worker drains out on its next GET_ID.
func (co *Coordinator) MarkAllForRemoval() {
	co.removeClientMu.Lock()
	defer co.removeClientMu.Unlock()

	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()

	for _, c := range co.clients {
		if c.alive {
			c.removalRequested = true
		}
	}
}

// ResolveRemovalNames expands the "all" / "disconnected" / hostname
// tokens from an RM_CLIENTS request into a concrete set of worker ids.
// "all" and an explicit hostname both select from every currently known
// client, running or not — only "disconnected" is narrowed to dead
// handlers.
func (co *Coordinator) ResolveRemovalNames(names []string) []int {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()

	seen := make(map[int]struct{})
	var ids []int
	add := func(id int) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	for _, name := range names {
		switch name {
		case "all":
			for id := range co.clients {
				add(id)
			}
		case "disconnected":
			for id, c := range co.clients {
				if !c.alive {
					add(id)
				}
			}
		default:
			for id, w := range co.workers {
				if w.Hostname == name {
					add(id)
				}
			}
		}
	}
	return ids
}

// MarkHandlerExited flips a client's alive flag to false and wakes
// anyone waiting on the finished-condition (RM_CLIENTS waiting for
// drops, or shutdown's clean-up thread waiting for drain).
func (co *Coordinator) MarkHandlerExited(id int) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	if c, ok := co.clients[id]; ok {
		c.alive = false
	}
	co.active--
	co.finishedCond.Broadcast()
}

// WaitUntilDropped blocks until every id in ids no longer appears in
// the client map (because RequestRemoval dropped it immediately, or
// because its handler exited and the GET_ID removal path dropped it).
func (co *Coordinator) WaitUntilDropped(ctx context.Context, ids []int) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()

	for {
		pending := false
		for _, id := range ids {
			if _, ok := co.clients[id]; ok {
				pending = true
				break
			}
		}
		if !pending {
			return
		}
		if ctx.Err() != nil {
			return
		}
		co.finishedCond.Wait()
	}
}

// WaitUntilOnlySelfRemains blocks until the active-connection counter
// drops to 1 (the caller's own connection) — the clean-up thread's wait
// before performing global teardown.
func (co *Coordinator) WaitUntilOnlySelfRemains(ctx context.Context) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	for co.active > 1 {
		if ctx.Err() != nil {
			return
		}
		co.finishedCond.Wait()
	}
}

// ClaimCleanup designates the calling handler as the process's clean-up
// thread, if none has claimed it yet.
func (co *Coordinator) ClaimCleanup(id int) bool {
	co.cleanupMu.Lock()
	defer co.cleanupMu.Unlock()
	if co.cleanupActive {
		return false
	}
	co.cleanupActive = true
	co.cleanupID = id
	return true
}

// Counts returns the current per-status resource counts.
func (co *Coordinator) Counts(ctx context.Context) (resource.Counts, error) {
	return co.Store.Count(ctx)
}

// Snapshot returns a copy of every currently known worker record, keyed
// by id, for GET_STATUS. Handler liveness is not included; ClientAlive
// reports it per id.
func (co *Coordinator) Snapshot() map[int]resource.Worker {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()

	out := make(map[int]resource.Worker, len(co.workers))
	for id, w := range co.workers {
		out[id] = *w
	}
	return out
}

// ClientAlive reports whether id's handler is currently alive.
func (co *Coordinator) ClientAlive(id int) (alive bool, removalPending bool, known bool) {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	c, ok := co.clients[id]
	if !ok {
		return false, false, false
	}
	return c.alive, c.removalRequested, true
}

// ActiveConnections returns the number of currently open connections.
func (co *Coordinator) ActiveConnections() int {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	return co.active
}

// StartTime returns when the coordinator began accepting connections.
func (co *Coordinator) StartTime() time.Time { return co.startTime }

// PID returns the process id recorded at startup.
func (co *Coordinator) PID() int { return co.pid }

// Listen opens the listening socket and builds the process-wide filter
// instances used only to carry the one-time Shutdown call. Run then
// drives the accept loop.
func (co *Coordinator) Listen() error {
	pipeline, err := co.NewPipeline()
	if err != nil {
		return fmt.Errorf("coordinator: build process-wide filter instances: %w", err)
	}
	co.processPipeline = pipeline

	l, err := net.Listen("tcp", co.addr)
	if err != nil {
		return fmt.Errorf("coordinator: listen on %s: %w", co.addr, err)
	}
	co.listener = l
	co.startTime = time.Now().UTC()
	co.pid = processPID()
	co.Logger.Info("listening", zap.String("address", co.addr))
	return nil
}

// Addr returns the listener's bound address, useful when Config.Address
// used the ":0" auto-assign port.
func (co *Coordinator) Addr() net.Addr { return co.listener.Addr() }

// Accept blocks for the next incoming connection. Returns the
// coordinator's listener-close error once Close has been called.
func (co *Coordinator) Accept() (net.Conn, error) {
	return co.listener.Accept()
}

// Close stops accepting new connections.
func (co *Coordinator) Close() error {
	if co.listener == nil {
		return nil
	}
	return co.listener.Close()
}

// Teardown runs the global shutdown sequence: shutdown on each filter,
// then on the persistence store.
func (co *Coordinator) Teardown(ctx context.Context) error {
	if err := co.processPipeline.Shutdown(ctx); err != nil {
		co.Logger.Error("filter shutdown failed", zap.Error(err))
	}
	return co.Store.Shutdown(ctx)
}
