// Package handler implements the per-connection state machine: CONNECT
// dispatch, the worker request loop, the management loop, and the
// per-worker timing accounting.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/coordinator"
	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/wire"
)

// loopForeverSleep is how long GET_ID waits before retrying when the
// inventory has no AVAILABLE resource and loopForever is enabled.
const loopForeverSleep = 5 * time.Second

// Handler drives one accepted connection to completion. It is created
// fresh per connection and discarded once the connection closes.
type Handler struct {
	conn   net.Conn
	codec  *wire.Codec
	co     *coordinator.Coordinator
	logger *zap.Logger

	isManager       bool
	isCleanupThread bool
	workerID        int
}

// New wraps an accepted connection. Call Serve to run it to completion.
func New(conn net.Conn, co *coordinator.Coordinator) *Handler {
	return &Handler{
		conn:   conn,
		codec:  wire.New(conn),
		co:     co,
		logger: co.Logger.Named("handler"),
	}
}

// connectFrame is the first frame every connection must send.
type connectFrame struct {
	Command   string `json:"command"`
	Type      string `json:"type"`
	ProcessID int    `json:"processid"`
}

// Serve runs the connection's full lifecycle: CONNECT dispatch, the
// worker or management loop, and connection-finish teardown. It never
// panics the caller's goroutine for ordinary protocol/IO errors — those
// are logged and simply end this one connection.
func (h *Handler) Serve(ctx context.Context) {
	defer h.conn.Close()

	var connect connectFrame
	if err := h.codec.Receive(&connect); err != nil {
		if !errors.Is(err, wire.ErrPeerClosed) {
			h.logger.Warn("failed to read CONNECT frame", zap.Error(err))
		}
		return
	}
	if connect.Command != "CONNECT" {
		h.logger.Warn("first frame was not CONNECT", zap.String("command", connect.Command))
		return
	}

	if h.co.Lifecycle() != coordinator.Running {
		_ = h.codec.Send(map[string]any{"command": "REFUSED", "reason": fmt.Sprintf("server is %s", h.co.Lifecycle())})
		return
	}

	switch connect.Type {
	case "manager":
		h.isManager = true
		h.co.RegisterManager()
	case "client":
		h.workerID = h.registerWorker(connect.ProcessID)
	default:
		_ = h.codec.Send(map[string]any{"command": "REFUSED", "reason": fmt.Sprintf("unknown connection type %q", connect.Type)})
		return
	}

	pipeline, err := h.co.NewPipeline()
	if err != nil {
		h.logger.Error("failed to build filter pipeline", zap.Error(err))
		return
	}
	if err := pipeline.Setup(ctx); err != nil {
		h.logger.Error("filter setup failed", zap.Error(err))
		return
	}
	if err := h.co.Store.Setup(ctx); err != nil {
		h.logger.Error("store setup failed", zap.Error(err))
		return
	}

	clientID := h.workerID
	if h.isManager {
		clientID = 0
	}
	if err := h.codec.Send(map[string]any{"command": "ACCEPTED", "clientid": clientID}); err != nil {
		h.logger.Warn("failed to send ACCEPTED", zap.Error(err))
		h.finish(ctx, pipeline)
		return
	}

	if h.isManager {
		h.serveManagement(ctx, pipeline)
	} else {
		h.serveWorker(ctx, pipeline)
	}

	h.finish(ctx, pipeline)
}

func (h *Handler) registerWorker(processID int) int {
	id := h.co.NextID()
	host, port := peerHostPort(h.conn)

	w := &resource.Worker{
		ID:       id,
		Hostname: host,
		IP:       host,
		Port:     port,
		PID:      processID,
		Start:    time.Now().UTC(),
	}
	h.co.RegisterWorker(w)
	return id
}

func peerHostPort(conn net.Conn) (string, int) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return conn.RemoteAddr().String(), 0
	}
	return addr.IP.String(), addr.Port
}

// finish runs the connection's teardown sequence: filter Finish, then
// store.Finish, then — if this handler is the process's clean-up
// thread — the global teardown wait and sequence, and finally marks
// this connection exited.
func (h *Handler) finish(ctx context.Context, pipeline *filter.Pipeline) {
	if err := pipeline.Finish(ctx); err != nil {
		h.logger.Warn("filter finish failed", zap.Error(err))
	}
	if err := h.co.Store.Finish(ctx); err != nil {
		h.logger.Warn("store finish failed", zap.Error(err))
	}

	if h.isCleanupThread {
		h.co.WaitUntilOnlySelfRemains(ctx)
		if err := h.co.Close(); err != nil {
			h.logger.Warn("failed to stop accepting connections", zap.Error(err))
		}
		if err := h.co.Teardown(ctx); err != nil {
			h.logger.Error("global teardown failed", zap.Error(err))
		}
		if h.isManager {
			_ = h.codec.Send(map[string]any{"command": "SD_RET", "fail": false})
		}
	}

	if !h.isManager && h.workerID != 0 {
		h.co.MarkHandlerExited(h.workerID)
	} else {
		h.co.MarkHandlerExited(0)
	}
}
