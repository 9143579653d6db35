package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/resource"
)

type managementFrame struct {
	Command     string   `json:"command"`
	ClientIDs   []int    `json:"clientids,omitempty"`
	ClientNames []string `json:"clientnames,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// serveManagement handles exactly one management request then returns;
// each verb closes the connection after its single reply.
func (h *Handler) serveManagement(ctx context.Context, pipeline *filter.Pipeline) {
	var req managementFrame
	if err := h.codec.Receive(&req); err != nil {
		h.logger.Warn("management loop receive failed", zap.Error(err))
		return
	}

	switch req.Command {
	case "GET_STATUS":
		h.handleGetStatus(ctx)
	case "RM_CLIENTS":
		h.handleRMClients(ctx, req)
	case "RESET":
		h.handleReset(ctx, req)
	case "SHUTDOWN":
		h.handleShutdown(ctx)
	default:
		h.logger.Warn("unknown management verb", zap.String("command", req.Command))
	}
}

func (h *Handler) handleGetStatus(ctx context.Context) {
	workers := h.co.Snapshot()
	clients := make([]map[string]any, 0, len(workers))
	for id, w := range workers {
		alive, removalPending, _ := h.co.ClientAlive(id)
		threadState := 0
		switch {
		case !alive:
			threadState = -2
		case removalPending:
			threadState = -1
		}

		clients = append(clients, map[string]any{
			"id":           id,
			"threadstate":  threadState,
			"hostname":     w.Hostname,
			"ip":           w.IP,
			"port":         w.Port,
			"pid":          w.PID,
			"resourceid":   w.ResourceID,
			"completed":    w.Completed,
			"start":        w.Start,
			"lastrequest":  w.LastRequest,
			"agrserver":    w.Timing.AgrServer.Seconds(),
			"agrclient":    w.Timing.AgrClient.Seconds(),
			"agrcrawler":   w.Timing.AgrCrawler.Seconds(),
			"timingmeas":   w.Timing.TimingMeasures,
			"crawlingmeas": w.Timing.CrawlingMeasures,
		})
	}

	counts, err := h.co.Counts(ctx)
	if err != nil {
		h.logger.Error("failed to gather counts for GET_STATUS", zap.Error(err))
		return
	}

	server := map[string]any{
		"pid":       h.co.PID(),
		"state":     h.co.Lifecycle().String(),
		"counts":    []int{counts.Total, counts.Succeeded, counts.InProgress, counts.Available, counts.Failed, counts.Error},
		"start":     h.co.StartTime(),
		"timestamp": time.Now().UTC(),
	}

	if err := h.codec.Send(map[string]any{"command": "GIVE_STATUS", "clients": clients, "server": server}); err != nil {
		h.logger.Warn("failed to send GIVE_STATUS", zap.Error(err))
	}
}

func (h *Handler) handleRMClients(ctx context.Context, req managementFrame) {
	ids := make([]int, 0, len(req.ClientIDs)+len(req.ClientNames))
	ids = append(ids, req.ClientIDs...)
	ids = append(ids, h.co.ResolveRemovalNames(req.ClientNames)...)

	var success, failed []int
	for _, id := range ids {
		if h.co.RequestRemoval(id) {
			success = append(success, id)
		} else {
			failed = append(failed, id)
		}
	}

	h.co.WaitUntilDropped(ctx, success)

	if err := h.codec.Send(map[string]any{"command": "RM_RET", "successlist": success, "errorlist": failed}); err != nil {
		h.logger.Warn("failed to send RM_RET", zap.Error(err))
	}
}

func (h *Handler) handleReset(ctx context.Context, req managementFrame) {
	status, ok := resource.ParseStatus(req.Status)
	if !ok {
		_ = h.codec.Send(map[string]any{"command": "RESET_RET", "fail": true, "reason": "unknown status " + req.Status})
		return
	}

	if (status == resource.InProgress || status == resource.Succeeded) && h.co.ActiveConnections() > 1 {
		_ = h.codec.Send(map[string]any{"command": "RESET_RET", "fail": true, "reason": "workers are connected"})
		return
	}

	n, err := h.co.Store.Reset(ctx, status)
	if err != nil {
		_ = h.codec.Send(map[string]any{"command": "RESET_RET", "fail": true, "reason": err.Error()})
		return
	}

	_ = h.codec.Send(map[string]any{"command": "RESET_RET", "fail": false, "count": n})
}

func (h *Handler) handleShutdown(ctx context.Context) {
	prev, transitioned := h.co.TryTransitionToShuttingDown()
	if !transitioned {
		_ = h.codec.Send(map[string]any{"command": "SD_RET", "fail": true, "reason": "server is already " + prev.String()})
		return
	}

	h.co.MarkAllForRemoval()
	h.isCleanupThread = h.co.ClaimCleanup(h.workerID)

	// SD_RET itself is sent by finish() once global teardown completes,
	// so a manager blocks on this connection until shutdown is
	// genuinely done.
}
