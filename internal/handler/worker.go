package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/coordinator"
	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
	"github.com/fghso/camps-dct/internal/wire"
)

type workerFrame struct {
	Command      string         `json:"command"`
	Type         string         `json:"type,omitempty"`
	ResourceInfo map[string]any `json:"resourceinfo,omitempty"`
	ExtraInfo    map[string]any `json:"extrainfo,omitempty"`
	NewResources []any          `json:"newresources,omitempty"`
}

// serveWorker runs the GET_ID / DONE_ID / EXCEPTION loop until a FINISH
// is sent or the connection ends.
func (h *Handler) serveWorker(ctx context.Context, pipeline *filter.Pipeline) {
	var leasedKey any
	var leasedID any

	for {
		recvStart := time.Now()
		var req workerFrame
		if err := h.codec.Receive(&req); err != nil {
			if !errors.Is(err, wire.ErrPeerClosed) {
				h.logger.Warn("worker loop receive failed", zap.Error(err))
			}
			h.onAbruptDisconnect(ctx, leasedKey)
			return
		}
		clientWait := time.Since(recvStart)

		dispatchStart := time.Now()
		switch req.Command {
		case "GET_ID":
			h.co.MutateWorker(h.workerID, func(w *resource.Worker) {
				w.ClearResource()
				w.LastRequest = time.Now().UTC()
			})

			if done := h.handleGetID(ctx, pipeline, &leasedKey, &leasedID); done {
				h.recordTiming(clientWait, time.Since(dispatchStart), 0, false)
				return
			}

		case "DONE_ID":
			crawlerStart := time.Now()
			if err := h.handleDoneID(ctx, pipeline, leasedKey, leasedID, req); err != nil {
				h.logger.Error("DONE_ID handling failed", zap.Error(err))
				return
			}
			leasedKey, leasedID = nil, nil
			h.recordTiming(clientWait, time.Since(dispatchStart), time.Since(crawlerStart), true)
			continue

		case "EXCEPTION":
			crawlerStart := time.Now()
			if req.Type == "error" {
				if leasedKey != nil {
					if err := h.co.Store.Update(ctx, leasedKey, resource.Error, nil); err != nil {
						h.logger.Error("failed to mark resource ERROR", zap.Error(err))
					}
				}
				h.recordTiming(clientWait, time.Since(dispatchStart), time.Since(crawlerStart), true)
				return
			}

			if leasedKey != nil {
				if err := h.co.Store.Update(ctx, leasedKey, resource.Failed, nil); err != nil {
					h.logger.Error("failed to mark resource FAILED", zap.Error(err))
					return
				}
			}
			leasedKey, leasedID = nil, nil
			if err := h.codec.Send(map[string]any{"command": "EXCEPTION_RET"}); err != nil {
				h.logger.Warn("failed to send EXCEPTION_RET", zap.Error(err))
				return
			}
			h.recordTiming(clientWait, time.Since(dispatchStart), time.Since(crawlerStart), true)

		default:
			h.logger.Warn("unknown worker verb", zap.String("command", req.Command))
			return
		}
	}
}

// handleGetID implements the GET_ID branch. Returns true once a FINISH
// has been sent and the loop should end.
func (h *Handler) handleGetID(ctx context.Context, pipeline *filter.Pipeline, leasedKey, leasedID *any) bool {
	for {
		if h.consumeRemovalAndFinish() {
			return true
		}

		rec, err := h.co.Store.Select(ctx)
		if err != nil {
			h.logger.Error("store select failed", zap.Error(err))
			return true
		}

		if rec.Key != nil {
			vector, err := pipeline.Apply(ctx, rec.ID, rec.Info)
			if err != nil {
				h.logger.Error("filter apply failed", zap.Error(err))
				if rollbackErr := h.co.Store.Update(ctx, rec.Key, resource.Available, nil); rollbackErr != nil {
					h.logger.Error("failed to roll back lease after filter error", zap.Error(rollbackErr))
				}
				return true
			}

			*leasedKey = rec.Key
			*leasedID = rec.ID
			h.co.MutateWorker(h.workerID, func(w *resource.Worker) {
				w.ResourceKey = rec.Key
				w.ResourceID = rec.ID
			})

			if err := h.codec.Send(map[string]any{"command": "GIVE_ID", "resourceid": rec.ID, "filters": vector}); err != nil {
				h.logger.Warn("failed to send GIVE_ID", zap.Error(err))
				return true
			}
			return false
		}

		if h.co.LoopForever {
			time.Sleep(loopForeverSleep)
			continue
		}

		if h.co.TryTransitionToFinishing() {
			h.co.MarkAllForRemoval()
		} else {
			// Someone else already drove the transition and marked the
			// workers registered at that time; this one may have
			// connected afterward, so mark it explicitly too.
			h.co.RequestRemoval(h.workerID)
		}
		// Loop back: the removal check above will now succeed.
	}
}

// consumeRemovalAndFinish checks and clears this worker's removal flag;
// if it was set, it drops the worker record and sends the appropriate
// FINISH reason.
func (h *Handler) consumeRemovalAndFinish() bool {
	if !h.co.ConsumeRemoval(h.workerID) {
		return false
	}

	h.co.DropWorker(h.workerID)

	reason := "removed"
	switch h.co.Lifecycle() {
	case coordinator.Finishing:
		reason = "task done"
	case coordinator.ShuttingDown:
		reason = "shut down"
	}

	if err := h.codec.Send(map[string]any{"command": "FINISH", "reason": reason}); err != nil {
		h.logger.Warn("failed to send FINISH", zap.Error(err))
	}
	return true
}

func (h *Handler) handleDoneID(ctx context.Context, pipeline *filter.Pipeline, leasedKey, leasedID any, req workerFrame) error {
	if err := pipeline.Callback(ctx, leasedID, req.ResourceInfo, req.NewResources, req.ExtraInfo); err != nil {
		return err
	}

	if h.co.Feedback && len(req.NewResources) > 0 {
		resources := make([]store.NewResource, 0, len(req.NewResources))
		for _, item := range req.NewResources {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			info, _ := entry["info"].(map[string]any)
			resources = append(resources, store.NewResource{ID: entry["id"], Info: info})
		}
		if len(resources) > 0 {
			if err := h.co.Store.Insert(ctx, resources); err != nil {
				return err
			}
		}
	}

	if leasedKey != nil {
		if err := h.co.Store.Update(ctx, leasedKey, resource.Succeeded, req.ResourceInfo); err != nil {
			return err
		}
	}

	h.co.MutateWorker(h.workerID, func(w *resource.Worker) {
		w.Completed++
		w.ClearResource()
	})

	return h.codec.Send(map[string]any{"command": "DONE_RET"})
}

// onAbruptDisconnect marks any in-progress lease ERROR when the
// connection drops mid-lease.
func (h *Handler) onAbruptDisconnect(ctx context.Context, leasedKey any) {
	if leasedKey == nil {
		return
	}
	if err := h.co.Store.Update(ctx, leasedKey, resource.Error, nil); err != nil {
		h.logger.Error("failed to mark resource ERROR after disconnect", zap.Error(err))
	}
}

// recordTiming accumulates this request's client-wait, server-processing
// and crawler-processing durations into the worker's running totals.
func (h *Handler) recordTiming(clientWait, serverTime, crawlerTime time.Duration, countsAsCrawling bool) {
	h.co.MutateWorker(h.workerID, func(w *resource.Worker) {
		w.Timing.AgrClient += clientWait
		w.Timing.AgrServer += serverTime
		w.Timing.TimingMeasures++
		if countsAsCrawling {
			w.Timing.AgrCrawler += crawlerTime
			w.Timing.CrawlingMeasures++
		}
	})
}
