package handler

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/coordinator"
)

// Serve drives the coordinator's accept loop: one Handler per accepted
// connection, each running in its own goroutine. It blocks until the
// listener is closed, which happens once the clean-up thread's shutdown
// sequence runs.
func Serve(ctx context.Context, co *coordinator.Coordinator) error {
	if err := co.Listen(); err != nil {
		return err
	}

	for {
		conn, err := co.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				co.Logger.Info("accept loop stopped")
				return nil
			}
			co.Logger.Error("accept failed", zap.Error(err))
			return err
		}

		h := New(conn, co)
		go h.Serve(ctx)
	}
}
